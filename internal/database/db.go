package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// New creates a read connection to the email index (supports both MySQL and PostgreSQL).
// MySQL sessions are switched to READ ONLY; writes go through WriteClient.
func New(databaseURL string, logger zerolog.Logger) (*sqlx.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	dialect := DetectDialect(databaseURL)
	dsn, err := dialect.DSN(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect.Driver == DriverMySQL {
		if _, err := db.ExecContext(ctx, "SET SESSION TRANSACTION READ ONLY"); err != nil {
			// Some MySQL users lack permission to set this
			logger.Warn().Err(err).Msg("Could not set MySQL session to read-only")
		} else {
			logger.Debug().Msg("MySQL session set to READ ONLY")
		}
	}

	return db, nil
}

// WaitForDatabase pings until the database answers or attempts run out
func WaitForDatabase(ctx context.Context, db *sqlx.DB, attempts int, interval time.Duration, logger zerolog.Logger) error {
	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		logger.Warn().Err(err).Int("attempt", i).Int("max_attempts", attempts).Msg("Database not ready, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", attempts, err)
}

// ExecuteReadOnlyQuery executes a query within a transaction that is always rolled back
func ExecuteReadOnlyQuery(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args ...interface{}) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Always rollback, we never commit read-only transactions

	err = tx.SelectContext(ctx, dest, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute read-only query: %w", err)
	}

	return nil
}

// ExecuteReadOnlyQuerySingle executes a single-row query within a read-only transaction
func ExecuteReadOnlyQuerySingle(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args ...interface{}) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.GetContext(ctx, dest, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute read-only query: %w", err)
	}

	return nil
}

// ExecuteReadOnlyPing executes a ping within a read-only transaction
func ExecuteReadOnlyPing(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result int
	err = tx.GetContext(ctx, &result, "SELECT 1")
	if err != nil {
		return fmt.Errorf("failed to execute read-only ping query: %w", err)
	}

	return nil
}
