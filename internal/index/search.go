package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"mailrank/internal/database"
	"mailrank/internal/models"
)

// CandidateQuery filters the documents the full-text search returns before reranking
type CandidateQuery struct {
	Text    string
	Replied *bool
	Labels  []string  // any of
	From    time.Time // inclusive, zero for unbounded
	To      time.Time // exclusive, zero for unbounded
	Limit   int
}

// Candidate is a search hit with the engine's own text relevance
type Candidate struct {
	Document      models.EmailDocument
	TextRelevance float64
}

// SearchCandidates runs the full-text query. Without text every matching document gets
// relevance 1 and the newest come first.
func (s *Store) SearchCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	query, args := s.candidateQuery(q)

	result, err := s.breaker.Execute(func() (interface{}, error) {
		var rows []emailRow
		if err := database.ExecuteReadOnlyQuery(ctx, s.reader, &rows, query, args...); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
		}
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	rows := result.([]emailRow)
	candidates := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping corrupt index row")
			continue
		}
		candidates = append(candidates, Candidate{Document: doc, TextRelevance: r.TextRelevance})
	}
	return candidates, nil
}

func (s *Store) candidateQuery(q CandidateQuery) (string, []interface{}) {
	var (
		where      []string
		args       []interface{}
		selectArgs []interface{}
	)

	text := strings.TrimSpace(q.Text)
	relevance := "1.0"
	order := "received_at DESC, message_id"
	if text != "" {
		rank, match := s.dialect.TextRank("subject", "body_text")
		relevance = rank
		selectArgs = append(selectArgs, text)
		where = append(where, match)
		args = append(args, text)
		order = "text_relevance DESC, received_at DESC, message_id"
	}

	where = append(where, "user_authored = ?")
	args = append(args, false)

	if q.Replied != nil {
		where = append(where, "replied = ?")
		args = append(args, *q.Replied)
	}
	if len(q.Labels) > 0 {
		likes := make([]string, 0, len(q.Labels))
		for _, label := range q.Labels {
			likes = append(likes, "labels LIKE ?")
			args = append(args, `%"`+label+`"%`)
		}
		where = append(where, "("+strings.Join(likes, " OR ")+")")
	}
	if !q.From.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "received_at < ?")
		args = append(args, q.To.UTC())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(selectArgs, append(args, limit)...)

	query := fmt.Sprintf("SELECT %s, %s AS text_relevance FROM emails WHERE %s ORDER BY %s LIMIT ?",
		emailColumns, relevance, strings.Join(where, " AND "), order)
	return s.dialect.Rebind(query), args
}
