// Package replies derives reply state and time-to-response from thread timestamps.
package replies

import (
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"
)

// Data quality codes recorded on documents
const (
	CodeNegativeTTR        = "negative_ttr"
	CodeMissingReceivedAt  = "missing_received_at"
	CodeMalformedTimestamp = "malformed_timestamp"
)

// DataQualityError is a per-document problem. It is recorded on the document and never
// aborts processing.
type DataQualityError struct {
	Code   string
	Detail string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %s: %s", e.Code, e.Detail)
}

// Thread is an inbound message and the timestamps of the user's replies to it
type Thread struct {
	ReceivedAt time.Time
	Replies    []time.Time
}

// Metrics are the reply fields persisted per document
type Metrics struct {
	FirstReplyAt *time.Time
	LastReplyAt  *time.Time
	ReplyCount   int
	Replied      bool
	TTRHours     *float64
}

// Compute derives reply metrics. All timestamps are compared in UTC. A reply dated before the
// inbound message yields a *DataQualityError and nil TTRHours while Replied stays true; the
// raw delta is never clamped into a positive number.
func Compute(thread Thread) (Metrics, error) {
	var stamps []time.Time
	for _, r := range thread.Replies {
		if r.IsZero() {
			continue
		}
		stamps = append(stamps, r.UTC())
	}

	var m Metrics
	if len(stamps) == 0 {
		return m, nil
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	first, last := stamps[0], stamps[len(stamps)-1]
	m.FirstReplyAt = &first
	m.LastReplyAt = &last
	m.ReplyCount = len(stamps)
	m.Replied = true

	if thread.ReceivedAt.IsZero() {
		return m, &DataQualityError{Code: CodeMissingReceivedAt, Detail: "inbound message has no timestamp"}
	}

	delta := first.Sub(thread.ReceivedAt.UTC())
	if delta < 0 {
		return m, &DataQualityError{
			Code:   CodeNegativeTTR,
			Detail: fmt.Sprintf("first reply %s precedes receipt by %s", first.Format(time.RFC3339), (-delta).String()),
		}
	}

	hours := delta.Hours()
	m.TTRHours = &hours
	return m, nil
}

// FormatTTR renders a TTR for display: under an hour as minutes, under a day as hours,
// otherwise as days, each rounded to the nearest whole unit. The unit is chosen after
// rounding, so 59.6 minutes shows as "1h". nil or negative gives "".
func FormatTTR(hours *float64) string {
	if hours == nil || *hours < 0 || math.IsNaN(*hours) {
		return ""
	}

	h := *hours
	if minutes := int64(math.Round(h * 60)); minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	if whole := int64(math.Round(h)); whole < 24 {
		return fmt.Sprintf("%dh", whole)
	}
	return fmt.Sprintf("%dd", int64(math.Round(h/24)))
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 -0700",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp parses mail, RFC3339 and naive timestamps. Values without a zone are taken
// as UTC. The result is always in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, &DataQualityError{Code: CodeMalformedTimestamp, Detail: "empty timestamp"}
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &DataQualityError{Code: CodeMalformedTimestamp, Detail: fmt.Sprintf("unparseable timestamp %q", raw)}
}

// AssumeUTC keeps the wall clock of t and replaces its location with UTC. It is meant for
// values read from stores that drop the zone.
func AssumeUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
