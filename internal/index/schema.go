package index

import (
	"context"
	"fmt"

	"mailrank/internal/database"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS emails (
		message_id VARCHAR(512) PRIMARY KEY,
		thread_id VARCHAR(512),
		sender TEXT NOT NULL DEFAULT '',
		to_addr TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body_text TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NULL,
		in_reply_to VARCHAR(512),
		reference_ids TEXT,
		user_authored BOOLEAN NOT NULL DEFAULT FALSE,
		labels TEXT,
		label_confidence TEXT,
		label_source VARCHAR(16),
		first_user_reply_at TIMESTAMP NULL,
		last_user_reply_at TIMESTAMP NULL,
		user_reply_count INT NOT NULL DEFAULT 0,
		replied BOOLEAN NOT NULL DEFAULT FALSE,
		ttr_hours DOUBLE PRECISION NULL,
		data_quality_flags TEXT,
		classifier_version VARCHAR(128),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(thread_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_replied ON emails(replied)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_label_source ON emails(label_source)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_fts ON emails USING GIN (to_tsvector('simple', coalesce(subject, '') || ' ' || coalesce(body_text, '')))`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes live in the table definition
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS emails (
		message_id VARCHAR(512) NOT NULL PRIMARY KEY,
		thread_id VARCHAR(512),
		sender TEXT NOT NULL,
		to_addr TEXT NOT NULL,
		subject TEXT NOT NULL,
		body_text LONGTEXT NOT NULL,
		received_at DATETIME(6) NULL,
		in_reply_to VARCHAR(512),
		reference_ids TEXT,
		user_authored BOOLEAN NOT NULL DEFAULT FALSE,
		labels TEXT,
		label_confidence TEXT,
		label_source VARCHAR(16),
		first_user_reply_at DATETIME(6) NULL,
		last_user_reply_at DATETIME(6) NULL,
		user_reply_count INT NOT NULL DEFAULT 0,
		replied BOOLEAN NOT NULL DEFAULT FALSE,
		ttr_hours DOUBLE NULL,
		data_quality_flags TEXT,
		classifier_version VARCHAR(128),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		KEY idx_emails_thread_id (thread_id),
		KEY idx_emails_received_at (received_at),
		KEY idx_emails_replied (replied),
		KEY idx_emails_label_source (label_source),
		FULLTEXT KEY idx_emails_fts (subject, body_text)
	) DEFAULT CHARSET=utf8mb4`,
}

// CreateTables creates the emails table and its indexes if they do not exist
func (s *Store) CreateTables(ctx context.Context) error {
	statements := postgresSchema
	if s.dialect.Driver == database.DriverMySQL {
		statements = mysqlSchema
	}

	for i, stmt := range statements {
		if _, err := s.writer.ExecuteWriteQuery(ctx, stmt); err != nil {
			if i == 0 {
				return fmt.Errorf("failed to create emails table: %w", err)
			}
			// Index creation failures are not fatal
			s.logger.Warn().Err(err).Msg("Failed to create index")
		}
	}

	return nil
}
