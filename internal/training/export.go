// Package training builds a weakly labeled corpus from rule-labeled documents and trains
// the classifier model on it.
package training

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailrank/internal/classifier"
	"mailrank/internal/models"
)

// ErrTrainingDataInsufficient is returned when the corpus cannot support a model. Any
// existing artifact is left untouched.
var ErrTrainingDataInsufficient = errors.New("training data insufficient")

// Source pages through classified documents
type Source interface {
	ListClassified(ctx context.Context, afterID string, limit int) ([]models.EmailDocument, error)
}

// ExportOptions tune example selection
type ExportOptions struct {
	OtherRate      float64 // share of default-labeled documents kept as "other" examples
	MinPerCategory int     // categories with fewer examples abort the export
	AllowDrop      bool    // drop under-filled categories instead of aborting
	MinCategories  int
	BalanceFactor  float64 // no category keeps more than factor x the smallest kept category
	PageSize       int
}

// DefaultExportOptions returns the export defaults
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		OtherRate:      0.25,
		MinPerCategory: 5,
		MinCategories:  2,
		BalanceFactor:  3,
		PageSize:       500,
	}
}

// Corpus is the exported training set
type Corpus struct {
	Examples []classifier.Example `json:"examples"`
	Counts   map[string]int       `json:"counts"`
	Dropped  map[string]int       `json:"dropped,omitempty"` // categories below MinPerCategory, with AllowDrop
}

// Export reads every classified document from src and selects training examples
func Export(ctx context.Context, src Source, opts ExportOptions, logger zerolog.Logger) (*Corpus, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultExportOptions().PageSize
	}

	var docs []models.EmailDocument
	afterID := ""
	for {
		page, err := src.ListClassified(ctx, afterID, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read classified documents: %w", err)
		}
		docs = append(docs, page...)
		if len(page) < opts.PageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	logger.Info().Int("documents", len(docs)).Msg("Read classified documents")

	corpus, err := Select(docs, opts)
	if err != nil {
		return nil, err
	}
	for category, n := range corpus.Dropped {
		logger.Warn().Str("category", category).Int("examples", n).Msg("Category dropped, too few examples")
	}
	return corpus, nil
}

// Select turns classified documents into examples. Only documents with exactly one rule
// label qualify, plus a deterministic sample of default-labeled documents as "other".
// Model-labeled documents are never used.
func Select(docs []models.EmailDocument, opts ExportOptions) (*Corpus, error) {
	byCategory := make(map[string][]classifier.Example)
	for _, doc := range docs {
		category, ok := weakLabel(doc, opts.OtherRate)
		if !ok {
			continue
		}
		byCategory[category] = append(byCategory[category], classifier.Example{
			ID:       doc.ID,
			Category: category,
			Sender:   doc.Sender,
			Subject:  doc.Subject,
			BodyText: doc.BodyText,
		})
	}

	corpus := &Corpus{Counts: make(map[string]int), Dropped: make(map[string]int)}
	counts := make(map[string]int, len(byCategory))
	for category, examples := range byCategory {
		counts[category] = len(examples)
	}
	if short := underfilled(counts, opts.MinPerCategory); len(short) > 0 {
		if !opts.AllowDrop {
			return nil, fmt.Errorf("%w: %s", ErrTrainingDataInsufficient, describeShort(short, counts, opts.MinPerCategory))
		}
		for _, category := range short {
			corpus.Dropped[category] = counts[category]
			delete(byCategory, category)
		}
	}

	smallest := 0
	for _, examples := range byCategory {
		if smallest == 0 || len(examples) < smallest {
			smallest = len(examples)
		}
	}

	if len(byCategory) < max(opts.MinCategories, 2) {
		return nil, fmt.Errorf("%w: %d usable categories, need %d", ErrTrainingDataInsufficient, len(byCategory), max(opts.MinCategories, 2))
	}

	limit := 0
	if opts.BalanceFactor > 0 {
		limit = int(opts.BalanceFactor * float64(smallest))
	}

	for _, category := range models.Categories {
		examples := byCategory[category]
		if len(examples) == 0 {
			continue
		}
		sort.Slice(examples, func(i, j int) bool {
			hi, hj := hashID(examples[i].ID), hashID(examples[j].ID)
			if hi != hj {
				return hi < hj
			}
			return examples[i].ID < examples[j].ID
		})
		if limit > 0 && len(examples) > limit {
			examples = examples[:limit]
		}
		corpus.Examples = append(corpus.Examples, examples...)
		corpus.Counts[category] = len(examples)
	}

	return corpus, nil
}

// underfilled lists the categories with fewer than minimum examples, in canonical order
func underfilled(counts map[string]int, minimum int) []string {
	var short []string
	for category, n := range counts {
		if n < minimum {
			short = append(short, category)
		}
	}
	sort.Slice(short, func(i, j int) bool {
		ri, rj := models.CategoryRank(short[i]), models.CategoryRank(short[j])
		if ri != rj {
			return ri < rj
		}
		return short[i] < short[j]
	})
	return short
}

func describeShort(short []string, counts map[string]int, minimum int) string {
	parts := make([]string, 0, len(short))
	for _, category := range short {
		parts = append(parts, fmt.Sprintf("%s has %d examples", category, counts[category]))
	}
	return fmt.Sprintf("%s, need at least %d per category", strings.Join(parts, ", "), minimum)
}

func weakLabel(doc models.EmailDocument, otherRate float64) (string, bool) {
	switch doc.LabelSource {
	case models.SourceRules:
		if len(doc.Labels) != 1 || !models.IsValidCategory(doc.Labels[0]) {
			return "", false
		}
		return doc.Labels[0], true
	case models.SourceDefault:
		if otherRate <= 0 || !sampled(doc.ID, otherRate) {
			return "", false
		}
		return models.CategoryOther, true
	default:
		return "", false
	}
}

func sampled(id string, rate float64) bool {
	return float64(hashID(id)%10000) < rate*10000
}

func hashID(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

// WriteJSONL writes one example per line
func WriteJSONL(w io.Writer, examples []classifier.Example) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("failed to encode example %s: %w", ex.ID, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL reads examples written by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]classifier.Example, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var examples []classifier.Example
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ex classifier.Example
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read examples: %w", err)
	}
	return examples, nil
}
