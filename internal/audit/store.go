package audit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS masking_audit (
	id           BIGSERIAL PRIMARY KEY,
	request_id   TEXT NOT NULL,
	scope        TEXT NOT NULL DEFAULT '',
	operation    TEXT NOT NULL,
	class_counts JSONB NOT NULL DEFAULT '{}'::jsonb,
	tokens       INTEGER NOT NULL DEFAULT 0,
	unresolved   INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createdIndex = `CREATE INDEX IF NOT EXISTS idx_masking_audit_created_at ON masking_audit (created_at DESC)`

// Store writes the masking audit log to PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewStore connects to PostgreSQL and configures the pool
func NewStore(cfg config.AuditConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := NewWithDB(db, log)
	store.logger.Info("Audit store connected",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

// NewWithDB wraps an open database handle
func NewWithDB(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{db: db, logger: log.WithComponent("audit")}
}

// Migrate creates the audit table and its index when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createdIndex); err != nil {
		return fmt.Errorf("failed to create audit index: %w", err)
	}
	return nil
}

// Record inserts an entry and fills in its id and creation time
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO masking_audit (request_id, scope, operation, class_counts, tokens, unresolved, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		entry.RequestID,
		entry.Scope,
		entry.Operation,
		entry.Counts,
		entry.Tokens,
		entry.Unresolved,
		entry.DurationMs,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to write audit entry",
			zap.Error(err),
			zap.String("operation", entry.Operation),
			zap.String("request_id", entry.RequestID))
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// Recent returns the newest entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, request_id, scope, operation, class_counts, tokens, unresolved, duration_ms, created_at
		FROM masking_audit
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return entries, nil
}

// Summary aggregates entries created at or after since, per operation
func (s *Store) Summary(ctx context.Context, since time.Time) ([]OperationSummary, error) {
	query := `
		SELECT operation, COUNT(*) AS count,
			COALESCE(SUM(tokens), 0) AS tokens,
			COALESCE(SUM(unresolved), 0) AS unresolved
		FROM masking_audit
		WHERE created_at >= $1
		GROUP BY operation
		ORDER BY operation`

	var out []OperationSummary
	if err := s.db.SelectContext(ctx, &out, query, since); err != nil {
		return nil, fmt.Errorf("failed to summarize audit entries: %w", err)
	}
	return out, nil
}

// Purge deletes entries older than before and returns how many were removed
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM masking_audit WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}
	if n > 0 {
		s.logger.Info("Purged audit entries", zap.Int64("deleted", n))
	}
	return n, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides the password of a database URL for logging
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	return u.Redacted()
}
