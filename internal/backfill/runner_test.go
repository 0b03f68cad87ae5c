package backfill

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrank/internal/classifier"
	"mailrank/internal/index"
	"mailrank/internal/models"
	"mailrank/internal/replies"
	"mailrank/internal/rules"
)

type fakeIndex struct {
	mu        sync.Mutex
	inbound   []models.Email
	replies   []models.ThreadReply
	derived   map[string]models.EmailDocument
	writes    map[string]int
	failWrite map[string]bool
	listErr   error
}

func newFakeIndex(inbound []models.Email, threadReplies []models.ThreadReply) *fakeIndex {
	sort.Slice(inbound, func(i, j int) bool { return inbound[i].MessageID < inbound[j].MessageID })
	return &fakeIndex{
		inbound:   inbound,
		replies:   threadReplies,
		derived:   make(map[string]models.EmailDocument),
		writes:    make(map[string]int),
		failWrite: make(map[string]bool),
	}
}

func (f *fakeIndex) ListWindow(_ context.Context, q index.WindowQuery) ([]models.Email, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Email
	for _, e := range f.inbound {
		if e.MessageID <= q.AfterID {
			continue
		}
		out = append(out, e)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) ThreadReplies(_ context.Context, threadIDs []string) ([]models.ThreadReply, error) {
	wanted := make(map[string]bool, len(threadIDs))
	for _, id := range threadIDs {
		wanted[id] = true
	}
	var out []models.ThreadReply
	for _, r := range f.replies {
		if wanted[r.ThreadID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIndex) UpsertDerived(_ context.Context, doc *models.EmailDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite[doc.ID] {
		return errors.New("write failed")
	}
	f.derived[doc.ID] = *doc
	f.writes[doc.ID]++
	return nil
}

type fakeTracker struct {
	mu        sync.Mutex
	runs      int
	processed int
	byCode    map[string]int
}

func (t *fakeTracker) TrackBackfillRun(_ context.Context, _ string, processed, _, _ int, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	t.processed = processed
	return nil
}

func (t *fakeTracker) TrackDataQuality(_ context.Context, code string, count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byCode == nil {
		t.byCode = make(map[string]int)
	}
	t.byCode[code] += count
	return nil
}

var received = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func fixture() ([]models.Email, []models.ThreadReply) {
	inbound := []models.Email{
		{MessageID: "a@acme.com", ThreadID: strPtr("a@acme.com"), Sender: "Acme <talent@acme.com>", Subject: "Interview invitation", ReceivedAt: received},
		{MessageID: "b@acme.com", ThreadID: strPtr("b@acme.com"), Sender: "no-reply@greenhouse.io", Subject: "Thanks for applying", ReceivedAt: received},
		{MessageID: "c@acme.com", ThreadID: strPtr("c@acme.com"), Sender: "hr@acme.com", Subject: "Your offer", ReceivedAt: received},
		{MessageID: "d@acme.com", ThreadID: strPtr("d@acme.com"), Sender: "news@example.org", Subject: "Weekly digest"},
		{MessageID: "e@acme.com", ThreadID: strPtr("e@acme.com"), Sender: "jobs@acme.com", Subject: "Update", ReceivedAt: received},
	}
	threadReplies := []models.ThreadReply{
		{ThreadID: "a@acme.com", MessageID: "ra@me", SentAt: received.Add(150 * time.Minute)},
		{ThreadID: "a@acme.com", MessageID: "ra2@me", SentAt: received.Add(5 * time.Hour)},
		// clock skew: answers c directly but is dated before it
		{ThreadID: "c@acme.com", MessageID: "rc@me", InReplyTo: strPtr("<c@acme.com>"), SentAt: received.Add(-5 * time.Minute)},
	}
	return inbound, threadReplies
}

func newTestRunner(idx Index, tracker Tracker) *Runner {
	labeler := classifier.New(rules.MustDefault(), classifier.Options{Logger: zerolog.Nop()})
	return NewRunner(idx, labeler, Options{Workers: 3, BatchSize: 2, Logger: zerolog.Nop(), Tracker: tracker})
}

func TestRun_ProcessesEveryDocumentOnce(t *testing.T) {
	inbound, threadReplies := fixture()
	idx := newFakeIndex(inbound, threadReplies)
	tracker := &fakeTracker{}

	stats, err := newTestRunner(idx, tracker).Run(context.Background(), Window{})
	require.NoError(t, err)

	assert.Equal(t, int64(5), stats.Listed.Load())
	assert.Equal(t, int64(5), stats.Processed.Load())
	assert.Equal(t, int64(0), stats.Failed.Load())
	assert.Equal(t, int64(2), stats.Replied.Load())
	for id, n := range idx.writes {
		assert.Equal(t, 1, n, "document %s written once", id)
	}

	a := idx.derived["a@acme.com"]
	assert.Equal(t, []string{models.CategoryInterview}, a.Labels)
	assert.Equal(t, models.SourceRules, a.LabelSource)
	assert.True(t, a.Replied)
	assert.Equal(t, 2, a.UserReplyCount)
	require.NotNil(t, a.TTRHours)
	assert.Equal(t, 2.5, *a.TTRHours)
	assert.Equal(t, "3h", replies.FormatTTR(a.TTRHours))
	assert.Contains(t, a.ClassifierVersion, "model:none")

	b := idx.derived["b@acme.com"]
	assert.Equal(t, []string{models.CategoryApplication}, b.Labels)
	assert.False(t, b.Replied)
	assert.Nil(t, b.TTRHours)

	e := idx.derived["e@acme.com"]
	assert.Equal(t, []string{models.CategoryOther}, e.Labels)
	assert.Equal(t, 0.01, e.LabelConfidence[models.CategoryOther])

	assert.Equal(t, 1, tracker.runs)
	assert.Equal(t, 5, tracker.processed)
}

func TestRun_NegativeTTRIsFlagged(t *testing.T) {
	inbound, threadReplies := fixture()
	idx := newFakeIndex(inbound, threadReplies)
	tracker := &fakeTracker{}

	stats, err := newTestRunner(idx, tracker).Run(context.Background(), Window{})
	require.NoError(t, err)

	c := idx.derived["c@acme.com"]
	assert.True(t, c.Replied)
	assert.Nil(t, c.TTRHours)
	assert.Equal(t, []string{replies.CodeNegativeTTR}, c.DataQualityFlags)
	assert.Equal(t, "", replies.FormatTTR(c.TTRHours))

	d := idx.derived["d@acme.com"]
	assert.Equal(t, []string{replies.CodeMissingReceivedAt}, d.DataQualityFlags)

	assert.Equal(t, int64(2), stats.DataQuality.Load())
	assert.Equal(t, map[string]int{replies.CodeNegativeTTR: 1, replies.CodeMissingReceivedAt: 1}, stats.DataQualityByCode())
	assert.Equal(t, map[string]int{replies.CodeNegativeTTR: 1, replies.CodeMissingReceivedAt: 1}, tracker.byCode)
}

func TestRun_Idempotent(t *testing.T) {
	inbound, threadReplies := fixture()
	idx := newFakeIndex(inbound, threadReplies)
	runner := newTestRunner(idx, nil)

	_, err := runner.Run(context.Background(), Window{})
	require.NoError(t, err)
	first := make(map[string]models.EmailDocument, len(idx.derived))
	for k, v := range idx.derived {
		first[k] = v
	}

	_, err = runner.Run(context.Background(), Window{})
	require.NoError(t, err)
	assert.Equal(t, first, idx.derived)
}

func TestRun_WriteFailuresAreCounted(t *testing.T) {
	inbound, threadReplies := fixture()
	idx := newFakeIndex(inbound, threadReplies)
	idx.failWrite["b@acme.com"] = true

	stats, err := newTestRunner(idx, nil).Run(context.Background(), Window{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Processed.Load())
	assert.Equal(t, int64(1), stats.Failed.Load())
	_, written := idx.derived["b@acme.com"]
	assert.False(t, written)
}

func TestRun_ListErrorAbortsRun(t *testing.T) {
	idx := newFakeIndex(nil, nil)
	idx.listErr = errors.New("connection reset")

	stats, err := newTestRunner(idx, nil).Run(context.Background(), Window{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list documents")
	assert.Equal(t, int64(0), stats.Processed.Load())
}

func TestRun_Cancelled(t *testing.T) {
	inbound, threadReplies := fixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(newFakeIndex(inbound, threadReplies), nil).Run(ctx, Window{})
	assert.Error(t, err)
}

func TestShardFor_Stable(t *testing.T) {
	for _, id := range []string{"a@x", "b@x", "some-long-message-id@example.com"} {
		first := shardFor(id, 4)
		assert.Equal(t, first, shardFor(id, 4))
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 4)
	}
}

func TestStatsSummary(t *testing.T) {
	s := newStats("run")
	s.Processed.Add(3)
	s.dataQuality(replies.CodeNegativeTTR)
	s.dataQuality("unknown_code")
	s.finish()

	sum := s.Summary()
	assert.Equal(t, "run", sum.RunID)
	assert.Equal(t, int64(3), sum.Processed)
	assert.Equal(t, int64(2), sum.DataQuality)
	assert.Equal(t, map[string]int{replies.CodeNegativeTTR: 1}, sum.ByCode)
}
