package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"mailrank/internal/database"
	"mailrank/internal/models"
)

var (
	// ErrNotFound is returned when no email has the requested message id
	ErrNotFound = errors.New("email not found")
	// ErrSearchUnavailable is returned while the search circuit breaker is open
	ErrSearchUnavailable = errors.New("search temporarily unavailable")
)

var rawColumns = []string{
	"message_id", "thread_id", "sender", "to_addr", "subject", "body_text",
	"received_at", "in_reply_to", "reference_ids", "user_authored",
}

var derivedColumns = []string{
	"labels", "label_confidence", "label_source", "first_user_reply_at", "last_user_reply_at",
	"user_reply_count", "replied", "ttr_hours", "data_quality_flags", "classifier_version",
}

// Store is the email index: raw messages plus the labels and reply metrics derived from them
type Store struct {
	reader  *sqlx.DB
	writer  *database.WriteClient
	dialect database.Dialect
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewStore creates a store. Reads go through reader when set, otherwise through the writer's connection.
func NewStore(reader *sqlx.DB, writer *database.WriteClient, logger zerolog.Logger) *Store {
	if reader == nil {
		reader = writer.GetDB()
	}
	return &Store{
		reader:  reader,
		writer:  writer,
		dialect: writer.Dialect(),
		breaker: newSearchBreaker(logger),
		logger:  logger,
	}
}

func newSearchBreaker(logger zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "index-search",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Dialect returns the SQL dialect of the index
func (s *Store) Dialect() database.Dialect {
	return s.dialect
}

// StoreEmail inserts a raw message or refreshes its raw columns. Derived columns are left untouched.
func (s *Store) StoreEmail(ctx context.Context, email *models.Email) error {
	query := s.dialect.Upsert("emails", "message_id", rawColumns, rawColumns[1:])

	_, err := s.writer.ExecuteWriteQuery(ctx, query,
		email.MessageID,
		nullStringPtr(email.ThreadID),
		email.Sender,
		email.To,
		email.Subject,
		email.BodyText,
		nullTime(email.ReceivedAt),
		nullStringPtr(email.InReplyTo),
		nullStringPtr(email.References),
		email.UserAuthored,
	)
	if err != nil {
		return fmt.Errorf("failed to store email %s: %w", email.MessageID, err)
	}
	return nil
}

// UpsertDerived writes the labels and reply metrics of doc. Re-running it with the same
// document leaves the row unchanged.
func (s *Store) UpsertDerived(ctx context.Context, doc *models.EmailDocument) error {
	labels, err := encodeJSONColumn(doc.Labels, doc.Labels == nil)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	confidence, err := encodeJSONColumn(doc.LabelConfidence, doc.LabelConfidence == nil)
	if err != nil {
		return fmt.Errorf("failed to encode label confidence: %w", err)
	}
	flags, err := encodeJSONColumn(doc.DataQualityFlags, len(doc.DataQualityFlags) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode data quality flags: %w", err)
	}

	columns := append([]string{"message_id", "sender", "subject", "body_text", "received_at"}, derivedColumns...)
	query := s.dialect.Upsert("emails", "message_id", columns, derivedColumns)

	_, err = s.writer.ExecuteWriteQuery(ctx, query,
		doc.ID,
		doc.Sender,
		doc.Subject,
		doc.BodyText,
		nullTime(doc.ReceivedAt),
		labels,
		confidence,
		doc.LabelSource,
		nullTimePtr(doc.FirstUserReplyAt),
		nullTimePtr(doc.LastUserReplyAt),
		doc.UserReplyCount,
		doc.Replied,
		nullFloatPtr(doc.TTRHours),
		flags,
		doc.ClassifierVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert derived fields for %s: %w", doc.ID, err)
	}
	return nil
}

// WindowQuery selects inbound messages for a backfill run, paged by message id
type WindowQuery struct {
	From    time.Time // inclusive, zero for unbounded
	To      time.Time // exclusive, zero for unbounded
	AfterID string
	Limit   int
}

// ListWindow returns inbound messages received in the window, ordered by message id.
// Messages without a usable date are always included so they still get classified.
func (s *Store) ListWindow(ctx context.Context, q WindowQuery) ([]models.Email, error) {
	var (
		where []string
		args  []interface{}
	)
	where = append(where, "user_authored = ?", "message_id > ?")
	args = append(args, false, q.AfterID)

	var window []string
	if !q.From.IsZero() {
		window = append(window, "received_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		window = append(window, "received_at < ?")
		args = append(args, q.To.UTC())
	}
	if len(window) > 0 {
		where = append(where, fmt.Sprintf("((%s) OR received_at IS NULL)", strings.Join(window, " AND ")))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	query := s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM emails WHERE %s ORDER BY message_id LIMIT ?",
		emailColumns, strings.Join(where, " AND ")))

	var rows []emailRow
	if err := database.ExecuteReadOnlyQuery(ctx, s.reader, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list backfill window: %w", err)
	}

	emails := make([]models.Email, 0, len(rows))
	for _, r := range rows {
		emails = append(emails, r.email())
	}
	return emails, nil
}

// ThreadReplies returns the dated user-authored messages of the given threads
func (s *Store) ThreadReplies(ctx context.Context, threadIDs []string) ([]models.ThreadReply, error) {
	if len(threadIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT thread_id, message_id, in_reply_to, received_at FROM emails
		WHERE user_authored = ? AND received_at IS NOT NULL AND thread_id IN (?)`, true, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build thread reply query: %w", err)
	}

	var out []models.ThreadReply
	if err := database.ExecuteReadOnlyQuery(ctx, s.reader, &out, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load thread replies: %w", err)
	}
	for i := range out {
		out[i].SentAt = out[i].SentAt.UTC()
	}
	return out, nil
}

// GetEmail returns the indexed document for id
func (s *Store) GetEmail(ctx context.Context, id string) (*models.EmailDocument, error) {
	query := s.dialect.Rebind(fmt.Sprintf("SELECT %s FROM emails WHERE message_id = ?", emailColumns))

	var row emailRow
	if err := database.ExecuteReadOnlyQuerySingle(ctx, s.reader, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email %s: %w", id, err)
	}

	doc, err := row.document()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListClassified pages through inbound documents that carry labels, ordered by message id
func (s *Store) ListClassified(ctx context.Context, afterID string, limit int) ([]models.EmailDocument, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`SELECT %s FROM emails
		WHERE user_authored = ? AND labels IS NOT NULL AND message_id > ?
		ORDER BY message_id LIMIT ?`, emailColumns))

	var rows []emailRow
	if err := database.ExecuteReadOnlyQuery(ctx, s.reader, &rows, query, false, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list classified emails: %w", err)
	}
	return s.documents(rows), nil
}

// LabelCounts returns how many inbound documents carry each label
func (s *Store) LabelCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Labels string `db:"labels"`
		N      int    `db:"n"`
	}
	query := s.dialect.Rebind(`SELECT labels, COUNT(*) AS n FROM emails
		WHERE user_authored = ? AND labels IS NOT NULL GROUP BY labels`)
	if err := database.ExecuteReadOnlyQuery(ctx, s.reader, &rows, query, false); err != nil {
		return nil, fmt.Errorf("failed to count labels: %w", err)
	}

	counts := make(map[string]int)
	for _, r := range rows {
		var labels []string
		if err := json.Unmarshal([]byte(r.Labels), &labels); err != nil {
			s.logger.Warn().Err(err).Str("labels", r.Labels).Msg("Skipping undecodable label set")
			continue
		}
		for _, label := range labels {
			counts[label] += r.N
		}
	}
	return counts, nil
}

// documents converts rows, skipping (and logging) rows whose JSON columns are corrupt
func (s *Store) documents(rows []emailRow) []models.EmailDocument {
	docs := make([]models.EmailDocument, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping corrupt index row")
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
