package analytics

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrank/internal/database"
)

func newMockService(t *testing.T, dialect database.Dialect) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	wc := database.NewWriteClientFromDB(sqlx.NewDb(mockDB, "sqlmock"), dialect)
	return &Service{writeClient: wc, dialect: dialect, logger: zerolog.Nop()}, mock
}

func TestNewService_RequiresWriteClient(t *testing.T) {
	svc, err := NewService(context.Background(), nil, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestNewService_CreatesTables(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analytics_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analytics_daily").WillReturnError(errors.New("already exists"))

	wc := database.NewWriteClientFromDB(sqlx.NewDb(mockDB, "sqlmock"), database.MySQL)
	svc, err := NewService(context.Background(), wc, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, svc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackEvent(t *testing.T) {
	tests := []struct {
		name      string
		dialect   database.Dialect
		insert    string
		aggregate string
	}{
		{
			name:      "postgres",
			dialect:   database.Postgres,
			insert:    "INSERT INTO analytics_events (event_type, count, metadata) VALUES ($1, $2, $3)",
			aggregate: "ON CONFLICT (date, event_type) DO UPDATE SET",
		},
		{
			name:      "mysql",
			dialect:   database.MySQL,
			insert:    "INSERT INTO analytics_events (event_type, count, metadata) VALUES (?, ?, ?)",
			aggregate: "ON DUPLICATE KEY UPDATE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newMockService(t, tt.dialect)

			mock.ExpectExec(regexp.QuoteMeta(tt.insert)).
				WithArgs(EventDataQuality, 2, `{"code":"negative_ttr"}`).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec(regexp.QuoteMeta(tt.aggregate)).
				WithArgs(sqlmock.AnyArg(), EventDataQuality, 2).
				WillReturnResult(sqlmock.NewResult(1, 1))

			require.NoError(t, svc.TrackDataQuality(context.Background(), "negative_ttr", 2))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTrackEvent_InsertFailure(t *testing.T) {
	svc, mock := newMockService(t, database.Postgres)
	mock.ExpectExec("INSERT INTO analytics_events").WillReturnError(errors.New("read-only"))

	err := svc.TrackSearch(context.Background(), "7d", 3)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to track event")
}

func TestTrackBackfillRun_SkipsZeroCounters(t *testing.T) {
	svc, mock := newMockService(t, database.Postgres)

	mock.ExpectExec("INSERT INTO analytics_events").
		WithArgs(EventBackfillRun, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO analytics_daily").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO analytics_events").
		WithArgs(EventDocumentsBackfilled, 12, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO analytics_daily").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, svc.TrackBackfillRun(context.Background(), "run-1", 12, 0, 0, time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	midnight := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		period    string
		wantName  string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{PeriodToday, PeriodToday, midnight, now},
		{PeriodYesterday, PeriodYesterday, midnight.AddDate(0, 0, -1), midnight},
		{PeriodLast7Days, PeriodLast7Days, now.AddDate(0, 0, -7), now},
		{PeriodLast30Days, PeriodLast30Days, now.AddDate(0, 0, -30), now},
		{"fortnight", PeriodToday, midnight, now},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			name, start, end := PeriodRange(tt.period, now)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestGetSummary(t *testing.T) {
	svc, mock := newMockService(t, database.Postgres)

	mock.ExpectQuery("FROM analytics_daily").
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "total"}).
			AddRow(EventBackfillRun, 2).
			AddRow(EventDataQuality, 5).
			AddRow(EventClassificationDegraded, 1).
			AddRow(EventQueryCorrection, 3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM emails")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM emails WHERE replied = $1")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	summary, err := svc.GetSummary(context.Background(), PeriodLast7Days)
	require.NoError(t, err)

	assert.Equal(t, PeriodLast7Days, summary.Period)
	assert.Equal(t, 2, summary.BackfillRuns)
	assert.Equal(t, 5, summary.DataQualityErrors)
	assert.Equal(t, 1, summary.DegradedClassifications)
	assert.Equal(t, 3, summary.QueryCorrections)
	assert.Equal(t, 40, summary.TotalEmails)
	assert.Equal(t, 7, summary.RepliedEmails)
	assert.NoError(t, mock.ExpectationsWereMet())
}
