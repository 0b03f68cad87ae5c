// Package scoring computes query-time relevance: text relevance × category weight × recency decay.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"mailrank/internal/models"
)

// ErrScoringConfigInvalid is returned for unknown scales and inconsistent configurations
var ErrScoringConfigInvalid = errors.New("invalid scoring configuration")

// Policy combines the weights of a document's labels into one multiplier
type Policy string

// Policy constants
const (
	PolicyMax  Policy = "max"
	PolicyMean Policy = "mean"
)

// Defaults
const (
	DefaultWeight       = 1.0
	DefaultDecayAtScale = 0.5
	DefaultPolicy       = PolicyMax
)

// DefaultWeights returns the built-in category weight table
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		models.CategoryOffer:       4.0,
		models.CategoryInterview:   3.0,
		models.CategoryAssessment:  2.0,
		models.CategoryRecruiter:   1.5,
		models.CategoryApplication: 1.0,
		models.CategoryOther:       1.0,
		models.CategoryRejection:   0.5,
	}
}

// Config holds the weight table and recency decay settings
type Config struct {
	Weights      map[string]float64 `json:"weights"`
	ScaleDays    float64            `json:"scale_days"`
	DecayAtScale float64            `json:"decay_at_scale"`
	Policy       Policy             `json:"policy"`
	// ScaleLengths overrides the length in days of individual scales
	ScaleLengths map[Scale]float64 `json:"-"`
}

// DefaultConfig returns the built-in configuration with the default scale
func DefaultConfig() Config {
	return Config{
		Weights:      DefaultWeights(),
		ScaleDays:    DefaultScale.Days(),
		DecayAtScale: DefaultDecayAtScale,
		Policy:       DefaultPolicy,
	}
}

// WithScale returns a copy of c using scale
func (c Config) WithScale(scale Scale) Config {
	c.ScaleDays = scale.Days()
	if d, ok := c.ScaleLengths[scale]; ok && d > 0 {
		c.ScaleDays = d
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ScaleDays <= 0 {
		return fmt.Errorf("%w: scale_days must be positive, got %v", ErrScoringConfigInvalid, c.ScaleDays)
	}
	if c.DecayAtScale <= 0 || c.DecayAtScale >= 1 {
		return fmt.Errorf("%w: decay_at_scale must be in (0,1), got %v", ErrScoringConfigInvalid, c.DecayAtScale)
	}
	for scale, d := range c.ScaleLengths {
		if _, ok := scaleDays[scale]; !ok {
			return fmt.Errorf("%w: unknown scale %q", ErrScoringConfigInvalid, scale)
		}
		if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: length of scale %s must be positive, got %v", ErrScoringConfigInvalid, scale, d)
		}
	}
	if c.Policy != PolicyMax && c.Policy != PolicyMean {
		return fmt.Errorf("%w: unknown policy %q", ErrScoringConfigInvalid, c.Policy)
	}
	for label, w := range c.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight for %q must be a non-negative number", ErrScoringConfigInvalid, label)
		}
	}
	return nil
}

// Weight returns the weight of label, DefaultWeight when absent from the table
func (c Config) Weight(label string) float64 {
	if w, ok := c.Weights[label]; ok {
		return w
	}
	return DefaultWeight
}

// CategoryMultiplier combines the label weights. Under PolicyMax a positive label is never
// suppressed by a co-occurring negative one. No labels give 1.0.
func CategoryMultiplier(labels []string, cfg Config) float64 {
	if len(labels) == 0 {
		return 1.0
	}

	if cfg.Policy == PolicyMean {
		var sum float64
		for _, l := range labels {
			sum += cfg.Weight(l)
		}
		return sum / float64(len(labels))
	}

	best := math.Inf(-1)
	for _, l := range labels {
		if w := cfg.Weight(l); w > best {
			best = w
		}
	}
	return best
}

// SigmaSquared derives the Gaussian variance, in days², from the decay reached at scale
func SigmaSquared(scaleDays, decayAtScale float64) float64 {
	return -(scaleDays * scaleDays) / (2 * math.Log(decayAtScale))
}

// RecencyMultiplier is a Gaussian decay over age: 1.0 at age 0, decayAtScale at age == scale,
// approaching 0 with age. Future dates count as age 0. The result stays in (0,1].
func RecencyMultiplier(age time.Duration, scaleDays, decayAtScale float64) float64 {
	if age <= 0 {
		return 1.0
	}
	days := age.Hours() / 24
	v := math.Exp(-(days * days) / (2 * SigmaSquared(scaleDays, decayAtScale)))
	if v < math.SmallestNonzeroFloat64 {
		return math.SmallestNonzeroFloat64
	}
	return v
}

// Score returns textRelevance × category multiplier × recency multiplier
func Score(textRelevance float64, labels []string, receivedAt, now time.Time, cfg Config) float64 {
	return textRelevance *
		CategoryMultiplier(labels, cfg) *
		RecencyMultiplier(now.Sub(receivedAt), cfg.ScaleDays, cfg.DecayAtScale)
}

// SortLabels returns labels ordered for display: descending weight, ties in canonical
// category order. Labels outside the category set weigh DefaultWeight and follow the known
// labels of equal weight alphabetically.
func SortLabels(labels []string, cfg Config) []string {
	out := append([]string(nil), labels...)
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := cfg.Weight(out[i]), cfg.Weight(out[j])
		if wi != wj {
			return wi > wj
		}
		ri, rj := models.CategoryRank(out[i]), models.CategoryRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// Params are the scoring parameters handed to the search collaborator
type Params struct {
	Weights          map[string]float64 `json:"weights"`
	ScaleDays        float64            `json:"scale_days"`
	DecayAtScale     float64            `json:"decay_at_scale"`
	SigmaSquaredDays float64            `json:"sigma_squared_days"`
	Policy           Policy             `json:"policy"`
}

// ParamsFor exposes cfg in the form embedded into ranking expressions
func ParamsFor(cfg Config) Params {
	weights := make(map[string]float64, len(models.Categories))
	for _, c := range models.Categories {
		weights[c] = cfg.Weight(c)
	}
	for label, w := range cfg.Weights {
		weights[label] = w
	}
	return Params{
		Weights:          weights,
		ScaleDays:        cfg.ScaleDays,
		DecayAtScale:     cfg.DecayAtScale,
		SigmaSquaredDays: SigmaSquared(cfg.ScaleDays, cfg.DecayAtScale),
		Policy:           cfg.Policy,
	}
}
