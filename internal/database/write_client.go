package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const writeTimeout = 30 * time.Second

// WriteClient provides write access to the email index
type WriteClient struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewWriteClient creates a new write-enabled database client (supports both MySQL and PostgreSQL)
func NewWriteClient(databaseURL string) (*WriteClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	dialect := DetectDialect(databaseURL)
	dsn, err := dialect.DSN(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database with write access: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &WriteClient{db: db, dialect: dialect}, nil
}

// NewWriteClientFromDB wraps an existing connection
func NewWriteClientFromDB(db *sqlx.DB, dialect Dialect) *WriteClient {
	return &WriteClient{db: db, dialect: dialect}
}

// GetDB returns the underlying database connection
func (wc *WriteClient) GetDB() *sqlx.DB {
	return wc.db
}

// Dialect returns the SQL dialect of the connection
func (wc *WriteClient) Dialect() Dialect {
	return wc.dialect
}

// ExecuteWriteQuery executes a write query and returns the result
func (wc *WriteClient) ExecuteWriteQuery(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wc.db.ExecContext(ctx, query, args...)
}

// ExecuteWriteQueryWithResult executes a query on the write connection and scans the rows into dest
func (wc *WriteClient) ExecuteWriteQueryWithResult(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wc.db.SelectContext(ctx, dest, query, args...)
}

// ExecuteWriteQuerySingle executes a query on the write connection and scans a single row into dest
func (wc *WriteClient) ExecuteWriteQuerySingle(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wc.db.GetContext(ctx, dest, query, args...)
}

// ExecuteInTransaction runs fn in a transaction, committing on success
func (wc *WriteClient) ExecuteInTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := wc.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (wc *WriteClient) Close() error {
	return wc.db.Close()
}
