package scoring

import (
	"fmt"
	"strings"
)

// Scale is a recency scale accepted from queries
type Scale string

// Scale constants
const (
	Scale3d  Scale = "3d"
	Scale7d  Scale = "7d"
	Scale14d Scale = "14d"

	DefaultScale = Scale7d
)

var scaleDays = map[Scale]float64{
	Scale3d:  3,
	Scale7d:  7,
	Scale14d: 14,
}

// Scales lists the accepted scales, shortest first
var Scales = []Scale{Scale3d, Scale7d, Scale14d}

// Days returns the scale length in days, or the default scale's length for unknown values
func (s Scale) Days() float64 {
	if d, ok := scaleDays[s]; ok {
		return d
	}
	return scaleDays[DefaultScale]
}

// ParseScale accepts 3d, 7d or 14d, case-insensitively
func ParseScale(raw string) (Scale, error) {
	s := Scale(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := scaleDays[s]; !ok {
		return "", fmt.Errorf("%w: unknown scale %q (allowed: 3d, 7d, 14d)", ErrScoringConfigInvalid, raw)
	}
	return s, nil
}

// ResolveScale parses raw, substituting fallback for empty or unknown values. The returned
// error is non-nil only when an unknown value was replaced.
func ResolveScale(raw string, fallback Scale) (Scale, error) {
	if _, ok := scaleDays[fallback]; !ok {
		fallback = DefaultScale
	}
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	s, err := ParseScale(raw)
	if err != nil {
		return fallback, err
	}
	return s, nil
}
