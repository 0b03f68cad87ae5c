// Package backfill classifies indexed emails and computes their reply metrics, writing the
// derived fields back to the index.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mailrank/internal/classifier"
	"mailrank/internal/emails"
	"mailrank/internal/index"
	"mailrank/internal/models"
	"mailrank/internal/replies"
)

// Defaults
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 500
)

// Index is the part of the email index a backfill reads and writes
type Index interface {
	ListWindow(ctx context.Context, q index.WindowQuery) ([]models.Email, error)
	ThreadReplies(ctx context.Context, threadIDs []string) ([]models.ThreadReply, error)
	UpsertDerived(ctx context.Context, doc *models.EmailDocument) error
}

// Labeler assigns labels to a document
type Labeler interface {
	Classify(doc *models.EmailDocument) classifier.Result
	Version() string
}

// Tracker receives run-level counters
type Tracker interface {
	TrackBackfillRun(ctx context.Context, runID string, processed, failed, dataQuality int, duration time.Duration) error
	TrackDataQuality(ctx context.Context, code string, count int) error
}

// Window bounds the documents of a run by received time; zero values are unbounded
type Window struct {
	From time.Time
	To   time.Time
}

// Options configure a Runner
type Options struct {
	Workers   int
	BatchSize int
	Logger    zerolog.Logger
	Tracker   Tracker
}

// Runner executes backfill runs. Documents are sharded by id so each one is handled by
// exactly one worker per run.
type Runner struct {
	index     Index
	labeler   Labeler
	workers   int
	batchSize int
	logger    zerolog.Logger
	tracker   Tracker
}

// NewRunner creates a runner
func NewRunner(idx Index, labeler Labeler, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Runner{
		index:     idx,
		labeler:   labeler,
		workers:   opts.Workers,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		tracker:   opts.Tracker,
	}
}

type job struct {
	email   models.Email
	replies []models.ThreadReply
}

// Run processes every inbound document in window. Per-document failures are counted in
// Stats and never abort the run; only listing errors and cancellation do.
func (r *Runner) Run(ctx context.Context, window Window) (*Stats, error) {
	stats := newStats(uuid.NewString())
	log := r.logger.With().Str("run_id", stats.RunID).Logger()
	log.Info().
		Time("from", window.From).
		Time("to", window.To).
		Int("workers", r.workers).
		Msg("Backfill started")

	g, gctx := errgroup.WithContext(ctx)

	shards := make([]chan job, r.workers)
	for i := range shards {
		ch := make(chan job, r.batchSize)
		shards[i] = ch
		g.Go(func() error {
			for j := range ch {
				if gctx.Err() != nil {
					continue
				}
				r.handle(gctx, j, stats, log)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		return r.produce(gctx, window, shards, stats)
	})

	err := g.Wait()
	stats.finish()

	log.Info().
		Int64("listed", stats.Listed.Load()).
		Int64("processed", stats.Processed.Load()).
		Int64("failed", stats.Failed.Load()).
		Int64("data_quality", stats.DataQuality.Load()).
		Int64("replied", stats.Replied.Load()).
		Dur("duration", stats.Duration()).
		Msg("Backfill finished")

	r.track(ctx, stats, log)

	if err != nil {
		return stats, fmt.Errorf("backfill run %s: %w", stats.RunID, err)
	}
	return stats, nil
}

func (r *Runner) produce(ctx context.Context, window Window, shards []chan job, stats *Stats) error {
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.index.ListWindow(ctx, index.WindowQuery{
			From:    window.From,
			To:      window.To,
			AfterID: afterID,
			Limit:   r.batchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		stats.Listed.Add(int64(len(page)))

		byThread, err := r.threadReplies(ctx, page)
		if err != nil {
			return err
		}

		for _, email := range page {
			j := job{email: email, replies: byThread[threadOf(&email)]}
			select {
			case shards[shardFor(email.MessageID, len(shards))] <- j:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		afterID = page[len(page)-1].MessageID
		if len(page) < r.batchSize {
			return nil
		}
	}
}

func (r *Runner) threadReplies(ctx context.Context, page []models.Email) (map[string][]models.ThreadReply, error) {
	seen := make(map[string]struct{}, len(page))
	threadIDs := make([]string, 0, len(page))
	for i := range page {
		id := threadOf(&page[i])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		threadIDs = append(threadIDs, id)
	}

	candidates, err := r.index.ThreadReplies(ctx, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread replies: %w", err)
	}

	byThread := make(map[string][]models.ThreadReply, len(threadIDs))
	for _, c := range candidates {
		byThread[c.ThreadID] = append(byThread[c.ThreadID], c)
	}
	return byThread, nil
}

func (r *Runner) handle(ctx context.Context, j job, stats *Stats, log zerolog.Logger) {
	doc := r.Derive(&j.email, j.replies)

	for _, code := range doc.DataQualityFlags {
		stats.dataQuality(code)
	}
	if doc.Replied {
		stats.Replied.Add(1)
	}

	if err := r.index.UpsertDerived(ctx, doc); err != nil {
		stats.Failed.Add(1)
		log.Error().Err(err).Str("message_id", doc.ID).Msg("Failed to write derived fields")
		return
	}
	stats.Processed.Add(1)
}

// Derive builds the persisted document for email: labels from the classifier and reply
// metrics from the thread's user replies. Data-quality problems are recorded as flags.
func (r *Runner) Derive(email *models.Email, candidates []models.ThreadReply) *models.EmailDocument {
	doc := &models.EmailDocument{
		ID:         email.MessageID,
		ThreadID:   threadOf(email),
		Sender:     email.Sender,
		Subject:    email.Subject,
		BodyText:   email.BodyText,
		ReceivedAt: email.ReceivedAt.UTC(),
	}
	if email.ReceivedAt.IsZero() {
		doc.ReceivedAt = time.Time{}
	}

	res := r.labeler.Classify(doc)
	doc.Labels = res.Labels
	doc.LabelConfidence = res.Confidences
	doc.LabelSource = res.Source
	doc.ClassifierVersion = r.labeler.Version()

	metrics, err := replies.Compute(replies.Thread{
		ReceivedAt: email.ReceivedAt,
		Replies:    emails.LinkReplies(email, candidates),
	})
	doc.FirstUserReplyAt = metrics.FirstReplyAt
	doc.LastUserReplyAt = metrics.LastReplyAt
	doc.UserReplyCount = metrics.ReplyCount
	doc.Replied = metrics.Replied
	doc.TTRHours = metrics.TTRHours

	var dq *replies.DataQualityError
	switch {
	case errors.As(err, &dq):
		doc.DataQualityFlags = append(doc.DataQualityFlags, dq.Code)
	case err != nil:
		doc.DataQualityFlags = append(doc.DataQualityFlags, replies.CodeMalformedTimestamp)
	case email.ReceivedAt.IsZero():
		doc.DataQualityFlags = append(doc.DataQualityFlags, replies.CodeMissingReceivedAt)
	}

	return doc
}

func (r *Runner) track(ctx context.Context, stats *Stats, log zerolog.Logger) {
	if r.tracker == nil {
		return
	}
	// Counters are recorded even when the run was cancelled
	ctx = context.WithoutCancel(ctx)

	if err := r.tracker.TrackBackfillRun(ctx, stats.RunID,
		int(stats.Processed.Load()), int(stats.Failed.Load()), int(stats.DataQuality.Load()), stats.Duration()); err != nil {
		log.Warn().Err(err).Msg("Failed to track backfill run")
	}
	for code, n := range stats.DataQualityByCode() {
		if err := r.tracker.TrackDataQuality(ctx, code, n); err != nil {
			log.Warn().Err(err).Str("code", code).Msg("Failed to track data quality errors")
		}
	}
}

func threadOf(email *models.Email) string {
	if email.ThreadID != nil && *email.ThreadID != "" {
		return *email.ThreadID
	}
	return emails.GenerateThreadID(email)
}

func shardFor(id string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(shards))
}

// Stats are the counters of one run. Workers only touch them through atomics.
type Stats struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Listed      atomic.Int64
	Processed   atomic.Int64
	Failed      atomic.Int64
	DataQuality atomic.Int64
	Replied     atomic.Int64

	byCode map[string]*atomic.Int64
}

func newStats(runID string) *Stats {
	return &Stats{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		byCode: map[string]*atomic.Int64{
			replies.CodeNegativeTTR:        {},
			replies.CodeMissingReceivedAt:  {},
			replies.CodeMalformedTimestamp: {},
		},
	}
}

func (s *Stats) dataQuality(code string) {
	s.DataQuality.Add(1)
	if c, ok := s.byCode[code]; ok {
		c.Add(1)
	}
}

func (s *Stats) finish() {
	s.FinishedAt = time.Now().UTC()
}

// Duration is the wall time of the run
func (s *Stats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// DataQualityByCode returns the non-zero data-quality counters
func (s *Stats) DataQualityByCode() map[string]int {
	out := make(map[string]int)
	for code, c := range s.byCode {
		if n := c.Load(); n > 0 {
			out[code] = int(n)
		}
	}
	return out
}

// Summary is a plain snapshot of the counters
type Summary struct {
	RunID       string         `json:"run_id"`
	Listed      int64          `json:"listed"`
	Processed   int64          `json:"processed"`
	Failed      int64          `json:"failed"`
	DataQuality int64          `json:"data_quality"`
	Replied     int64          `json:"replied"`
	ByCode      map[string]int `json:"data_quality_by_code,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}

// Summary snapshots the counters
func (s *Stats) Summary() Summary {
	return Summary{
		RunID:       s.RunID,
		Listed:      s.Listed.Load(),
		Processed:   s.Processed.Load(),
		Failed:      s.Failed.Load(),
		DataQuality: s.DataQuality.Load(),
		Replied:     s.Replied.Load(),
		ByCode:      s.DataQualityByCode(),
		DurationMS:  s.Duration().Milliseconds(),
	}
}
