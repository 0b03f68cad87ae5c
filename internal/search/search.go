// Package search serves ranked email search: the index supplies text-relevance candidates
// and the scorer reranks them by category weight and recency.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"mailrank/internal/index"
	"mailrank/internal/replies"
	"mailrank/internal/scoring"
)

// DefaultCandidatePool is how many candidates are reranked when no pool size is configured
const DefaultCandidatePool = 200

// Candidates is the full-text side of search
type Candidates interface {
	SearchCandidates(ctx context.Context, q index.CandidateQuery) ([]index.Candidate, error)
}

// Tracker receives search counters
type Tracker interface {
	TrackSearch(ctx context.Context, scale string, hits int) error
	TrackQueryCorrection(ctx context.Context, param, value string) error
}

// Hit is one ranked search result
type Hit struct {
	ID               string             `json:"id"`
	Subject          string             `json:"subject"`
	Sender           string             `json:"sender"`
	ReceivedAt       *time.Time         `json:"received_at,omitempty"`
	Labels           []string           `json:"labels"`
	LabelConfidence  map[string]float64 `json:"label_confidence"`
	Replied          bool               `json:"replied"`
	TTRHours         *float64           `json:"ttr_hours"`
	TTRDisplay       string             `json:"ttr_display"`
	DataQualityFlags []string           `json:"data_quality_flags,omitempty"`
	TextRelevance    float64            `json:"text_relevance"`
	Score            float64            `json:"score"`
}

// Response is a page of ranked hits with the parameters that produced it
type Response struct {
	Query    string         `json:"query"`
	Scale    scoring.Scale  `json:"scale"`
	Total    int            `json:"total"` // reranked candidates, before paging
	Offset   int            `json:"offset"`
	Limit    int            `json:"limit"`
	Hits     []Hit          `json:"hits"`
	Scoring  scoring.Params `json:"scoring"`
	Warnings []Warning      `json:"warnings,omitempty"`
}

// Options configure a Service
type Options struct {
	CandidatePool int
	Logger        zerolog.Logger
	Tracker       Tracker
	Now           func() time.Time
}

// Service reranks index candidates with the relevance scorer. It holds no per-request state.
type Service struct {
	candidates Candidates
	scoring    scoring.Config
	pool       int
	logger     zerolog.Logger
	tracker    Tracker
	now        func() time.Time
}

// NewService creates a search service using cfg as the base scoring configuration
func NewService(candidates Candidates, cfg scoring.Config, opts Options) *Service {
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = DefaultCandidatePool
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		candidates: candidates,
		scoring:    cfg,
		pool:       opts.CandidatePool,
		logger:     opts.Logger,
		tracker:    opts.Tracker,
		now:        opts.Now,
	}
}

// Search runs p and returns the requested page of reranked hits. warnings are the
// corrections made while parsing p and are returned with the response.
func (s *Service) Search(ctx context.Context, p Params, warnings []Warning) (*Response, error) {
	cfg := s.scoring.WithScale(p.Scale)

	pool := s.pool
	if p.Offset+p.Limit > pool {
		pool = p.Offset + p.Limit
	}

	candidates, err := s.candidates.SearchCandidates(ctx, index.CandidateQuery{
		Text:    p.Query,
		Replied: p.Replied,
		Labels:  p.Labels,
		From:    p.From,
		To:      p.To,
		Limit:   pool,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}

	hits := Rerank(candidates, cfg, s.now().UTC())

	total := len(hits)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)

	resp := &Response{
		Query:    p.Query,
		Scale:    p.Scale,
		Total:    total,
		Offset:   p.Offset,
		Limit:    p.Limit,
		Hits:     hits[start:end],
		Scoring:  scoring.ParamsFor(cfg),
		Warnings: warnings,
	}

	s.track(ctx, resp)
	return resp, nil
}

// Rerank scores candidates and orders them by score, newest first on ties
func Rerank(candidates []index.Candidate, cfg scoring.Config, now time.Time) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		doc := c.Document
		hit := Hit{
			ID:               doc.ID,
			Subject:          doc.Subject,
			Sender:           doc.Sender,
			Labels:           scoring.SortLabels(doc.Labels, cfg),
			LabelConfidence:  doc.LabelConfidence,
			Replied:          doc.Replied,
			TTRHours:         doc.TTRHours,
			TTRDisplay:       replies.FormatTTR(doc.TTRHours),
			DataQualityFlags: doc.DataQualityFlags,
			TextRelevance:    c.TextRelevance,
		}
		if !doc.ReceivedAt.IsZero() {
			received := doc.ReceivedAt
			hit.ReceivedAt = &received
			hit.Score = scoring.Score(c.TextRelevance, doc.Labels, received, now, cfg)
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ri, rj := hits[i].ReceivedAt, hits[j].ReceivedAt
		switch {
		case ri != nil && rj != nil && !ri.Equal(*rj):
			return ri.After(*rj)
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

func (s *Service) track(ctx context.Context, resp *Response) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.TrackSearch(ctx, string(resp.Scale), len(resp.Hits)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to track search")
	}
	for _, w := range resp.Warnings {
		if err := s.tracker.TrackQueryCorrection(ctx, w.Param, w.Value); err != nil {
			s.logger.Warn().Err(err).Str("param", w.Param).Msg("Failed to track query correction")
		}
	}
}
