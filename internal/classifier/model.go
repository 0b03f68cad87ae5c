package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"mailrank/internal/models"
	"mailrank/internal/textproc"
)

// FormatVersion is the artifact layout version written by Save and accepted by LoadModel
const FormatVersion = 1

// ErrModelNotFound is returned by LoadModel when no artifact exists at the path
var ErrModelNotFound = errors.New("model artifact not found")

// Metrics describes how a model was trained
type Metrics struct {
	TrainSize       int            `json:"train_size"`
	HoldoutSize     int            `json:"holdout_size"`
	HoldoutAccuracy float64        `json:"holdout_accuracy"`
	PerCategory     map[string]int `json:"per_category"`
}

// Model is a multinomial naive Bayes classifier over sender/subject/body tokens.
// A loaded Model is never mutated and can be shared between goroutines.
type Model struct {
	FormatVersion int                  `json:"format_version"`
	Version       string               `json:"model_version"`
	CreatedAt     time.Time            `json:"created_at"`
	Categories    []string             `json:"categories"`
	ClassLogPrior []float64            `json:"class_log_prior"`
	TokenLogProb  map[string][]float64 `json:"token_log_prob"`
	Metrics       Metrics              `json:"metrics"`
}

// Example is one labeled training document
type Example struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
}

// Features returns the model features of a document: meaningful subject and body tokens
// plus a sender-domain token.
func Features(sender, subject, body string) []string {
	features := textproc.MeaningfulTokens(subject + "\n" + body)
	if domain := textproc.SenderDomain(sender); domain != "" {
		features = append(features, "domain:"+domain)
	}
	return features
}

// Fit trains a model with additive smoothing alpha. Categories absent from examples are not
// part of the model.
func Fit(examples []Example, alpha float64) (*Model, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("no training examples")
	}
	if alpha <= 0 {
		alpha = 1.0
	}

	docCounts := make(map[string]int)
	tokenCounts := make(map[string]map[string]float64)
	totalTokens := make(map[string]float64)
	vocabulary := make(map[string]struct{})

	for _, ex := range examples {
		if !models.IsValidCategory(ex.Category) {
			return nil, fmt.Errorf("example %s has unknown category %q", ex.ID, ex.Category)
		}
		docCounts[ex.Category]++
		if tokenCounts[ex.Category] == nil {
			tokenCounts[ex.Category] = make(map[string]float64)
		}
		for _, token := range Features(ex.Sender, ex.Subject, ex.BodyText) {
			tokenCounts[ex.Category][token]++
			totalTokens[ex.Category]++
			vocabulary[token] = struct{}{}
		}
	}

	var categories []string
	for _, c := range models.Categories {
		if docCounts[c] > 0 {
			categories = append(categories, c)
		}
	}

	m := &Model{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		Categories:    categories,
		ClassLogPrior: make([]float64, len(categories)),
		TokenLogProb:  make(map[string][]float64, len(vocabulary)),
	}

	total := float64(len(examples))
	vocabSize := float64(len(vocabulary))
	for i, c := range categories {
		m.ClassLogPrior[i] = math.Log(float64(docCounts[c]) / total)
	}
	for token := range vocabulary {
		probs := make([]float64, len(categories))
		for i, c := range categories {
			probs[i] = math.Log((tokenCounts[c][token] + alpha) / (totalTokens[c] + alpha*vocabSize))
		}
		m.TokenLogProb[token] = probs
	}
	m.Version = m.CreatedAt.Format("20060102T150405Z")

	return m, nil
}

// Predict returns the posterior probability of each model category, in Categories order.
// Tokens outside the vocabulary are ignored.
func (m *Model) Predict(features []string) []float64 {
	scores := make([]float64, len(m.Categories))
	copy(scores, m.ClassLogPrior)
	for _, token := range features {
		probs, ok := m.TokenLogProb[token]
		if !ok {
			continue
		}
		for i := range scores {
			scores[i] += probs[i]
		}
	}

	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
	return scores
}

// Top returns the arg-max category and its probability. Equal probabilities resolve
// in canonical category order.
func (m *Model) Top(probs []float64) (string, float64) {
	best := -1
	for i, p := range probs {
		if best < 0 || p > probs[best] ||
			(p == probs[best] && models.CategoryRank(m.Categories[i]) < models.CategoryRank(m.Categories[best])) {
			best = i
		}
	}
	if best < 0 {
		return "", 0
	}
	return m.Categories[best], probs[best]
}

// Probabilities maps each category to its predicted probability
func (m *Model) Probabilities(features []string) map[string]float64 {
	probs := m.Predict(features)
	out := make(map[string]float64, len(probs))
	for i, c := range m.Categories {
		out[c] = probs[i]
	}
	return out
}

// Validate checks that the artifact is internally consistent
func (m *Model) Validate() error {
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported format version %d", m.FormatVersion)
	}
	if len(m.Categories) == 0 {
		return fmt.Errorf("model has no categories")
	}
	for _, c := range m.Categories {
		if !models.IsValidCategory(c) {
			return fmt.Errorf("model has unknown category %q", c)
		}
	}
	if len(m.ClassLogPrior) != len(m.Categories) {
		return fmt.Errorf("class prior has %d entries for %d categories", len(m.ClassLogPrior), len(m.Categories))
	}
	for token, probs := range m.TokenLogProb {
		if len(probs) != len(m.Categories) {
			return fmt.Errorf("token %q has %d probabilities for %d categories", token, len(probs), len(m.Categories))
		}
	}
	return nil
}

// LoadModel reads and validates an artifact
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return nil, ErrModelNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}

	return &m, nil
}

// Save writes the artifact to a temporary file next to path and renames it into place,
// so readers never observe a partial artifact.
func (m *Model) Save(path string) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid model: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install model: %w", err)
	}

	return nil
}
