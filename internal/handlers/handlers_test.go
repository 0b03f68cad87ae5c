package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mailrank/internal/analytics"
	"mailrank/internal/cache"
	"mailrank/internal/classifier"
	"mailrank/internal/index"
	"mailrank/internal/k8s"
	"mailrank/internal/models"
	"mailrank/internal/rules"
	"mailrank/internal/scoring"
	"mailrank/internal/search"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

type fakeCandidates struct {
	result []index.Candidate
	err    error
}

func (f *fakeCandidates) SearchCandidates(context.Context, index.CandidateQuery) ([]index.Candidate, error) {
	return f.result, f.err
}

func TestSearchHandler(t *testing.T) {
	received := time.Now().UTC().Add(-time.Hour)
	candidates := &fakeCandidates{result: []index.Candidate{
		{Document: models.EmailDocument{ID: "a", ReceivedAt: received, Labels: []string{models.CategoryRejection}}, TextRelevance: 1},
		{Document: models.EmailDocument{ID: "b", ReceivedAt: received, Labels: []string{models.CategoryOffer}}, TextRelevance: 1},
	}}
	svc := search.NewService(candidates, scoring.DefaultConfig(), search.Options{})

	c, rec := newContext(http.MethodGet, "/api/search?q=offer&scale=30d", "")
	require.NoError(t, SearchHandler(svc, scoring.DefaultScale, zerolog.Nop())(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "b", resp.Hits[0].ID)
	assert.Equal(t, scoring.Scale7d, resp.Scale)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "scale", resp.Warnings[0].Param)
}

func TestSearchHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"breaker open", index.ErrSearchUnavailable, http.StatusServiceUnavailable},
		{"query failure", errors.New("syntax error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := search.NewService(&fakeCandidates{err: tt.err}, scoring.DefaultConfig(), search.Options{})
			c, rec := newContext(http.MethodGet, "/api/search?q=x", "")

			require.NoError(t, SearchHandler(svc, scoring.DefaultScale, zerolog.Nop())(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

type fakeCounter struct {
	calls  int
	counts map[string]int
	err    error
}

func (f *fakeCounter) LabelCounts(context.Context) (map[string]int, error) {
	f.calls++
	return f.counts, f.err
}

func TestLabelsHandler(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int{
		models.CategoryRejection: 4,
		models.CategoryOffer:     1,
		models.CategoryOther:     9,
		models.CategoryInterview: 2,
	}}
	handler := LabelsHandler(counter, cache.New(), time.Minute, scoring.DefaultConfig(), zerolog.Nop())

	for i := 0; i < 2; i++ {
		c, rec := newContext(http.MethodGet, "/api/labels", "")
		require.NoError(t, handler(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.LabelsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []models.LabelCount{
			{Label: models.CategoryOffer, Count: 1},
			{Label: models.CategoryInterview, Count: 2},
			{Label: models.CategoryOther, Count: 9},
			{Label: models.CategoryRejection, Count: 4},
		}, resp.Labels)
	}
	assert.Equal(t, 1, counter.calls)
}

func TestLabelsHandler_Error(t *testing.T) {
	counter := &fakeCounter{err: errors.New("db down")}
	c, rec := newContext(http.MethodGet, "/api/labels", "")

	require.NoError(t, LabelsHandler(counter, nil, time.Minute, scoring.DefaultConfig(), zerolog.Nop())(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeGetter struct {
	doc *models.EmailDocument
	err error
}

func (f *fakeGetter) GetEmail(context.Context, string) (*models.EmailDocument, error) {
	return f.doc, f.err
}

func TestEmailHandler(t *testing.T) {
	ttr := 0.4
	doc := &models.EmailDocument{
		ID:       "<a@x>",
		Labels:   []string{models.CategoryRejection, models.CategoryInterview},
		Replied:  true,
		TTRHours: &ttr,
	}

	tests := []struct {
		name       string
		getter     *fakeGetter
		wantStatus int
	}{
		{"found", &fakeGetter{doc: doc}, http.StatusOK},
		{"not found", &fakeGetter{err: index.ErrNotFound}, http.StatusNotFound},
		{"failure", &fakeGetter{err: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, "/api/emails/x", "")
			c.SetParamNames("id")
			c.SetParamValues("<a@x>")

			require.NoError(t, EmailHandler(tt.getter, scoring.DefaultConfig(), zerolog.Nop())(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, []interface{}{models.CategoryInterview, models.CategoryRejection}, got["labels"])
			assert.Equal(t, "24m", got["ttr_display"])
		})
	}
}

func newClassifier() *classifier.Classifier {
	return classifier.New(rules.MustDefault(), classifier.Options{Logger: zerolog.Nop()})
}

func TestClassifyHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLabels []string
		wantSource string
	}{
		{
			name:       "rule match",
			body:       `{"sender":"jobs@acme.com","subject":"Interview invitation","body_text":"Can we schedule an interview?"}`,
			wantStatus: http.StatusOK,
			wantLabels: []string{models.CategoryInterview},
			wantSource: models.SourceRules,
		},
		{
			name:       "default category",
			body:       `{"sender":"friend@example.com","subject":"Lunch","body_text":"See you at noon"}`,
			wantStatus: http.StatusOK,
			wantLabels: []string{models.CategoryOther},
			wantSource: models.SourceDefault,
		},
		{name: "empty document", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", body: `{"subject":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodPost, "/api/classify", tt.body)

			require.NoError(t, ClassifyHandler(newClassifier())(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp models.ClassifyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantLabels, resp.Labels)
			assert.Equal(t, tt.wantSource, resp.LabelSource)
			assert.Equal(t, string(classifier.ModeRulesOnly), resp.Mode)
			assert.Nil(t, resp.Probabilities)
		})
	}
}

type fakeReloadTracker struct {
	reloads  []bool
	degraded int
}

func (f *fakeReloadTracker) TrackModelReload(_ context.Context, _ string, success bool) error {
	f.reloads = append(f.reloads, success)
	return nil
}

func (f *fakeReloadTracker) TrackClassificationDegraded(context.Context, string) error {
	f.degraded++
	return nil
}

func TestModelReloadHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	tracker := &fakeReloadTracker{}
	cls := classifier.New(rules.MustDefault(), classifier.Options{
		Logger: zerolog.Nop(),
		OnDegraded: func(err error) {
			_ = tracker.TrackClassificationDegraded(context.Background(), err.Error())
		},
	})
	handler := ModelReloadHandler(cls, path, tracker, zerolog.Nop())

	// Missing artifact degrades to rules only
	c, rec := newContext(http.MethodPost, "/api/admin/model/reload", "")
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp models.ModelReloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Degraded)
	assert.Equal(t, string(classifier.ModeRulesOnly), resp.Mode)

	model := &classifier.Model{
		FormatVersion: classifier.FormatVersion,
		Version:       "v2",
		Categories:    []string{models.CategoryInterview, models.CategoryRejection},
		ClassLogPrior: []float64{math.Log(0.5), math.Log(0.5)},
		TokenLogProb:  map[string][]float64{"zoom": {math.Log(0.9), math.Log(0.1)}},
	}
	require.NoError(t, model.Save(path))

	c, rec = newContext(http.MethodPost, "/api/admin/model/reload", "")
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	resp = models.ModelReloadResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, string(classifier.ModeRulesPlusModel), resp.Mode)
	assert.Contains(t, resp.Version, "model:v2")

	assert.Equal(t, []bool{false, true}, tracker.reloads)
	assert.Equal(t, 1, tracker.degraded, "a failed reload is counted once")
}

func TestClassifyHandler_WithModel(t *testing.T) {
	cls := newClassifier()
	cls.SwapModel(&classifier.Model{
		FormatVersion: classifier.FormatVersion,
		Version:       "v3",
		Categories:    []string{models.CategoryInterview, models.CategoryRejection},
		ClassLogPrior: []float64{math.Log(0.5), math.Log(0.5)},
		TokenLogProb:  map[string][]float64{"zoom": {math.Log(0.9), math.Log(0.1)}},
	})

	c, rec := newContext(http.MethodPost, "/api/classify", `{"subject":"zoom zoom","body_text":"zoom"}`)
	require.NoError(t, ClassifyHandler(cls)(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(classifier.ModeRulesPlusModel), resp.Mode)
	assert.Contains(t, resp.Version, "model:v3")
	assert.Len(t, resp.Probabilities, 2)
	assert.Equal(t, []string{models.CategoryInterview}, resp.Labels)
	assert.Equal(t, models.SourceModel, resp.LabelSource)
}

func TestTriggerBackfillHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"open window", `{}`, http.StatusOK},
		{"explicit window", `{"from":"2024-03-01","to":"2024-03-31"}`, http.StatusOK},
		{"bad date", `{"from":"March"}`, http.StatusBadRequest},
		{"inverted window", `{"from":"2024-03-31","to":"2024-03-01"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientset := fake.NewSimpleClientset()
			jobs := k8s.NewClientWithClientset(clientset, "mailrank")
			c, rec := newContext(http.MethodPost, "/api/admin/backfill", tt.body)

			require.NoError(t, TriggerBackfillHandler(jobs, "mailrank:test", zerolog.Nop())(c))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp models.BackfillJobResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			if tt.wantStatus != http.StatusOK {
				assert.False(t, resp.Success)
				assert.NotEmpty(t, resp.Error)
				return
			}

			assert.True(t, resp.Success)
			job, err := jobs.GetJobStatus(context.Background(), resp.JobName)
			require.NoError(t, err)
			assert.Equal(t, "mailrank:test", job.Spec.Template.Spec.Containers[0].Image)
		})
	}
}

func TestTriggerBackfillHandler_NoCluster(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/admin/backfill", `{}`)
	require.NoError(t, TriggerBackfillHandler(nil, "img", zerolog.Nop())(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetBackfillStatusHandler(t *testing.T) {
	start := metav1.NewTime(time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC))
	existing := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "mailrank-backfill-1", Namespace: "mailrank"},
		Status:     batchv1.JobStatus{Active: 1, StartTime: &start},
	}
	jobs := k8s.NewClientWithClientset(fake.NewSimpleClientset(existing), "mailrank")
	handler := GetBackfillStatusHandler(jobs, zerolog.Nop())

	c, rec := newContext(http.MethodGet, "/api/admin/backfill/mailrank-backfill-1", "")
	c.SetParamNames("jobName")
	c.SetParamValues("mailrank-backfill-1")
	require.NoError(t, handler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, k8s.StatusRunning, status.Status)
	require.NotNil(t, status.StartTime)
	assert.Equal(t, "2024-03-01T03:00:00Z", *status.StartTime)

	c, rec = newContext(http.MethodGet, "/api/admin/backfill/missing", "")
	c.SetParamNames("jobName")
	c.SetParamValues("missing")
	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeSummary struct {
	period string
	err    error
}

func (f *fakeSummary) GetSummary(_ context.Context, period string) (*models.AnalyticsSummary, error) {
	f.period = period
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnalyticsSummary{Period: period, Searches: 3}, nil
}

func TestAnalyticsHandler(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		source     *fakeSummary
		wantPeriod string
		wantStatus int
	}{
		{"default period", "/api/analytics", &fakeSummary{}, analytics.PeriodYesterday, http.StatusOK},
		{"explicit period", "/api/analytics?period=last_7_days", &fakeSummary{}, analytics.PeriodLast7Days, http.StatusOK},
		{"failure", "/api/analytics", &fakeSummary{err: errors.New("boom")}, analytics.PeriodYesterday, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(http.MethodGet, tt.target, "")
			require.NoError(t, AnalyticsHandler(tt.source, zerolog.Nop())(c))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantPeriod, tt.source.period)

			var resp models.AnalyticsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus == http.StatusOK, resp.Success)
		})
	}
}

func TestDailyReportHandler(t *testing.T) {
	source := &fakeSummary{}
	c, rec := newContext(http.MethodGet, "/api/analytics/daily-report", "")

	require.NoError(t, DailyReportHandler(source, zerolog.Nop())(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, analytics.PeriodYesterday, source.period)

	c, rec = newContext(http.MethodGet, "/api/analytics/daily-report", "")
	require.NoError(t, DailyReportHandler(nil, zerolog.Nop())(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
