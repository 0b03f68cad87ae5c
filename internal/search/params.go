package search

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mailrank/internal/models"
	"mailrank/internal/scoring"
)

// Paging limits
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

const dateLayout = "2006-01-02"

// Params is a validated search request
type Params struct {
	Query   string
	Scale   scoring.Scale
	Replied *bool
	Labels  []string
	From    time.Time // inclusive
	To      time.Time // exclusive, the day after the requested end date
	Limit   int
	Offset  int
}

// Warning reports a query parameter that was replaced by its default
type Warning struct {
	Param   string `json:"param"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ParseParams reads a search request. Invalid values never fail the request: each is
// replaced by its default and reported as a warning.
func ParseParams(values url.Values, defaultScale scoring.Scale) (Params, []Warning) {
	var warnings []Warning
	warn := func(param, value, format string, args ...interface{}) {
		warnings = append(warnings, Warning{Param: param, Value: value, Message: fmt.Sprintf(format, args...)})
	}

	p := Params{
		Query: strings.TrimSpace(values.Get("q")),
		Limit: DefaultLimit,
	}

	raw := values.Get("scale")
	scale, err := scoring.ResolveScale(raw, defaultScale)
	if err != nil {
		warn("scale", raw, "unknown scale, using %s", scale)
	}
	p.Scale = scale

	if raw := strings.TrimSpace(values.Get("replied")); raw != "" {
		replied, err := strconv.ParseBool(raw)
		if err != nil {
			warn("replied", raw, "expected true or false, filter ignored")
		} else {
			p.Replied = &replied
		}
	}

	if raw := values.Get("labels"); raw != "" {
		for _, label := range strings.Split(raw, ",") {
			label = strings.ToLower(strings.TrimSpace(label))
			if label == "" {
				continue
			}
			if !models.IsValidCategory(label) {
				warn("labels", label, "unknown label ignored")
				continue
			}
			p.Labels = appendUnique(p.Labels, label)
		}
	}

	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			warn("from", raw, "expected YYYY-MM-DD, filter ignored")
		} else {
			p.From = from
		}
	}
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		to, err := time.Parse(dateLayout, raw)
		if err != nil {
			warn("to", raw, "expected YYYY-MM-DD, filter ignored")
		} else {
			p.To = to.AddDate(0, 0, 1)
		}
	}
	if !p.From.IsZero() && !p.To.IsZero() && !p.From.Before(p.To) {
		warn("from", values.Get("from"), "from is after to, date filter ignored")
		p.From, p.To = time.Time{}, time.Time{}
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		switch {
		case err != nil || limit <= 0:
			warn("limit", raw, "expected a positive integer, using %d", DefaultLimit)
		case limit > MaxLimit:
			warn("limit", raw, "capped at %d", MaxLimit)
			p.Limit = MaxLimit
		default:
			p.Limit = limit
		}
	}
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			warn("offset", raw, "expected a non-negative integer, using 0")
		} else {
			p.Offset = offset
		}
	}

	return p, warnings
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
