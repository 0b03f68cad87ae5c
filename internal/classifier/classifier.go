// Package classifier assigns category labels to email documents: rules first, then an
// optional trained model, then the default category.
package classifier

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"mailrank/internal/models"
	"mailrank/internal/rules"
)

// Mode is the active classification capability
type Mode string

// Mode constants
const (
	ModeRulesOnly      Mode = "rules_only"
	ModeRulesPlusModel Mode = "rules_plus_model"
)

// Precedence decides whether a model label may join rule labels
type Precedence string

// Precedence constants
const (
	// PrecedenceRulesFirst skips the model whenever a rule fired
	PrecedenceRulesFirst Precedence = "rules_first"
	// PrecedenceUnion adds an accepted model label next to rule labels
	PrecedenceUnion Precedence = "union"
)

// Classification defaults
const (
	DefaultThreshold  = 0.5
	DefaultCategory   = models.CategoryOther
	DefaultConfidence = 0.01
)

// ErrClassificationDegraded reports that the model could not be loaded and the classifier
// runs on rules only. It is never fatal.
var ErrClassificationDegraded = errors.New("classification degraded to rules-only")

// Result is the outcome of classifying one document
type Result struct {
	Labels      []string           `json:"labels"`
	Confidences map[string]float64 `json:"label_confidence"`
	Source      string             `json:"label_source"`
	Rules       []string           `json:"rules,omitempty"` // names of the rules that fired
}

// capability is the model-side strategy: RulesOnly never predicts
type capability interface {
	mode() Mode
	modelVersion() string
	predict(doc *models.EmailDocument) (category string, probability float64, ok bool)
}

type rulesOnly struct{}

func (rulesOnly) mode() Mode           { return ModeRulesOnly }
func (rulesOnly) modelVersion() string { return "none" }
func (rulesOnly) predict(*models.EmailDocument) (string, float64, bool) {
	return "", 0, false
}

type rulesPlusModel struct {
	model *Model
}

func (r rulesPlusModel) mode() Mode           { return ModeRulesPlusModel }
func (r rulesPlusModel) modelVersion() string { return r.model.Version }
func (r rulesPlusModel) predict(doc *models.EmailDocument) (string, float64, bool) {
	probs := r.model.Predict(Features(doc.Sender, doc.Subject, doc.BodyText))
	category, p := r.model.Top(probs)
	return category, p, category != ""
}

// capabilityBox lets atomic.Pointer hold an interface value
type capabilityBox struct {
	capability
}

// Options configures a Classifier
type Options struct {
	Threshold  float64
	Precedence Precedence
	Logger     zerolog.Logger
	// OnDegraded is called whenever the classifier falls back to rules only
	OnDegraded func(err error)
}

// Classifier is safe for concurrent use. The active capability is swapped atomically.
type Classifier struct {
	rules      *rules.Engine
	threshold  float64
	precedence Precedence
	logger     zerolog.Logger
	onDegraded func(err error)
	active     atomic.Pointer[capabilityBox]
}

// New creates a classifier in RulesOnly mode
func New(engine *rules.Engine, opts Options) *Classifier {
	if engine == nil {
		engine = rules.MustDefault()
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Precedence != PrecedenceUnion {
		opts.Precedence = PrecedenceRulesFirst
	}

	c := &Classifier{
		rules:      engine,
		threshold:  opts.Threshold,
		precedence: opts.Precedence,
		logger:     opts.Logger,
		onDegraded: opts.OnDegraded,
	}
	c.active.Store(&capabilityBox{rulesOnly{}})
	return c
}

// LoadModel loads the artifact at path and swaps it in. On failure the classifier keeps
// running on rules only and the returned error wraps ErrClassificationDegraded.
func (c *Classifier) LoadModel(path string) error {
	model, err := LoadModel(path)
	if err != nil {
		c.active.Store(&capabilityBox{rulesOnly{}})
		degraded := fmt.Errorf("%w: %w", ErrClassificationDegraded, err)
		c.logger.Warn().Err(err).Str("model_path", path).Msg("Model unavailable, classifying with rules only")
		if c.onDegraded != nil {
			c.onDegraded(degraded)
		}
		return degraded
	}

	c.SwapModel(model)
	c.logger.Info().
		Str("model_path", path).
		Str("model_version", model.Version).
		Strs("categories", model.Categories).
		Msg("Model loaded")
	return nil
}

// SwapModel atomically replaces the active model. A nil model selects RulesOnly.
func (c *Classifier) SwapModel(model *Model) {
	if model == nil {
		c.active.Store(&capabilityBox{rulesOnly{}})
		return
	}
	c.active.Store(&capabilityBox{rulesPlusModel{model: model}})
}

// Mode returns the active capability
func (c *Classifier) Mode() Mode {
	return c.active.Load().mode()
}

// Threshold returns the model acceptance threshold
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Version identifies the rule set and model that produce labels
func (c *Classifier) Version() string {
	return c.version(c.active.Load())
}

func (c *Classifier) version(box *capabilityBox) string {
	return fmt.Sprintf("rules:%s/model:%s", c.rules.Fingerprint(), box.modelVersion())
}

// Classify labels a document. Rule labels keep their rule confidence; a model label is
// emitted only when its probability reaches the threshold; otherwise the document gets
// the default category.
func (c *Classifier) Classify(doc *models.EmailDocument) Result {
	return c.classify(c.active.Load(), doc)
}

func (c *Classifier) classify(box *capabilityBox, doc *models.EmailDocument) Result {
	res := Result{Confidences: make(map[string]float64)}
	if doc == nil {
		return defaultResult(res)
	}

	for _, m := range c.rules.Classify(doc) {
		res.Labels = append(res.Labels, m.Category)
		res.Confidences[m.Category] = m.Confidence
		res.Rules = append(res.Rules, m.Rule)
	}
	if len(res.Labels) > 0 {
		res.Source = models.SourceRules
		if c.precedence == PrecedenceRulesFirst {
			return res
		}
	}

	category, p, ok := box.predict(doc)
	if ok && p >= c.threshold {
		if _, exists := res.Confidences[category]; !exists {
			res.Labels = append(res.Labels, category)
			res.Confidences[category] = p
		}
		if res.Source == "" {
			res.Source = models.SourceModel
		}
		return res
	}

	if len(res.Labels) > 0 {
		return res
	}
	return defaultResult(res)
}

func defaultResult(res Result) Result {
	res.Labels = []string{DefaultCategory}
	res.Confidences = map[string]float64{DefaultCategory: DefaultConfidence}
	res.Source = models.SourceDefault
	return res
}

// Probabilities returns the model's distribution for doc, or nil in RulesOnly mode
func (c *Classifier) Probabilities(doc *models.EmailDocument) map[string]float64 {
	return probabilities(c.active.Load(), doc)
}

func probabilities(box *capabilityBox, doc *models.EmailDocument) map[string]float64 {
	rpm, ok := box.capability.(rulesPlusModel)
	if !ok || doc == nil {
		return nil
	}
	return rpm.model.Probabilities(Features(doc.Sender, doc.Subject, doc.BodyText))
}

// Preview is a classification together with the state that produced it
type Preview struct {
	Result
	Probabilities map[string]float64
	Mode          Mode
	Version       string
}

// Preview classifies doc and reports the model distribution, mode and version, all taken
// from the same active capability even when a reload runs concurrently.
func (c *Classifier) Preview(doc *models.EmailDocument) Preview {
	box := c.active.Load()
	return Preview{
		Result:        c.classify(box, doc),
		Probabilities: probabilities(box, doc),
		Mode:          box.mode(),
		Version:       c.version(box),
	}
}
