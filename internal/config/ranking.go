package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mailrank/internal/classifier"
	"mailrank/internal/rules"
	"mailrank/internal/scoring"
)

// Ranking is the resolved classification and scoring policy
type Ranking struct {
	Scoring      scoring.Config
	DefaultScale scoring.Scale
	Threshold    float64
	Precedence   classifier.Precedence
	Rules        *rules.Engine
}

// rankingFile is the YAML layout of RANKING_CONFIG_PATH. Zero values keep the
// environment or built-in setting.
type rankingFile struct {
	Weights             map[string]float64 `yaml:"weights"`
	DefaultScale        string             `yaml:"default_scale"`
	Scales              map[string]float64 `yaml:"scales"` // days per scale value, e.g. {3d: 2}
	DecayAtScale        float64            `yaml:"decay_at_scale"`
	Policy              string             `yaml:"policy"`
	AcceptanceThreshold float64            `yaml:"acceptance_threshold"`
	Precedence          string             `yaml:"precedence"`
	Rules               []rules.Rule       `yaml:"rules"`
}

// DefaultRanking returns the built-in policy
func DefaultRanking() *Ranking {
	return &Ranking{
		Scoring:      scoring.DefaultConfig(),
		DefaultScale: scoring.DefaultScale,
		Threshold:    classifier.DefaultThreshold,
		Precedence:   classifier.PrecedenceRulesFirst,
		Rules:        rules.MustDefault(),
	}
}

// LoadRanking resolves the ranking policy from the environment settings and, when
// RankingConfigPath is set, the YAML file. Any invalid value rejects the whole policy.
func (c *Config) LoadRanking() (*Ranking, error) {
	file := rankingFile{
		DefaultScale:        c.DefaultScale,
		DecayAtScale:        c.DecayAtScale,
		AcceptanceThreshold: c.AcceptanceThreshold,
	}

	if c.RankingConfigPath != "" {
		data, err := os.ReadFile(filepath.Clean(c.RankingConfigPath))
		if err != nil {
			return nil, fmt.Errorf("read ranking config: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse ranking config yaml: %w", err)
		}
	}

	return file.resolve()
}

func (f rankingFile) resolve() (*Ranking, error) {
	ranking := DefaultRanking()

	for label, w := range f.Weights {
		ranking.Scoring.Weights[label] = w
	}
	if f.DecayAtScale != 0 {
		ranking.Scoring.DecayAtScale = f.DecayAtScale
	}
	if f.Policy != "" {
		ranking.Scoring.Policy = scoring.Policy(f.Policy)
	}
	if len(f.Scales) > 0 {
		ranking.Scoring.ScaleLengths = make(map[scoring.Scale]float64, len(f.Scales))
		for raw, days := range f.Scales {
			scale, err := scoring.ParseScale(raw)
			if err != nil {
				return nil, err
			}
			ranking.Scoring.ScaleLengths[scale] = days
		}
	}
	if f.DefaultScale != "" {
		scale, err := scoring.ParseScale(f.DefaultScale)
		if err != nil {
			return nil, err
		}
		ranking.DefaultScale = scale
	}
	ranking.Scoring = ranking.Scoring.WithScale(ranking.DefaultScale)
	if err := ranking.Scoring.Validate(); err != nil {
		return nil, err
	}

	if f.AcceptanceThreshold != 0 {
		if f.AcceptanceThreshold < 0 || f.AcceptanceThreshold > 1 {
			return nil, fmt.Errorf("acceptance_threshold must be in (0,1], got %v", f.AcceptanceThreshold)
		}
		ranking.Threshold = f.AcceptanceThreshold
	}

	switch classifier.Precedence(f.Precedence) {
	case "":
	case classifier.PrecedenceRulesFirst, classifier.PrecedenceUnion:
		ranking.Precedence = classifier.Precedence(f.Precedence)
	default:
		return nil, fmt.Errorf("unknown precedence %q", f.Precedence)
	}

	if len(f.Rules) > 0 {
		engine, err := rules.New(f.Rules)
		if err != nil {
			return nil, fmt.Errorf("invalid rules: %w", err)
		}
		ranking.Rules = engine
	}

	return ranking, nil
}
