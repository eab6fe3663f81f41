package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PostgresStore keeps fixed-window counters in a single table. The upsert
// below runs under the row lock, which makes increment-and-compare atomic
// across replicas.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

const counterSchema = `
	CREATE TABLE IF NOT EXISTS rate_limit_counters (
		scope_key VARCHAR(255) PRIMARY KEY,
		count BIGINT NOT NULL,
		window_start TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_expires_at ON rate_limit_counters(expires_at);
`

const incrementQuery = `
	INSERT INTO rate_limit_counters (scope_key, count, window_start, expires_at)
	VALUES ($1, 1, $2, $3)
	ON CONFLICT (scope_key) DO UPDATE SET
		count = CASE WHEN rate_limit_counters.expires_at <= $2 THEN 1 ELSE rate_limit_counters.count + 1 END,
		window_start = CASE WHEN rate_limit_counters.expires_at <= $2 THEN $2 ELSE rate_limit_counters.window_start END,
		expires_at = CASE WHEN rate_limit_counters.expires_at <= $2 THEN $3 ELSE rate_limit_counters.expires_at END
	RETURNING count
`

// InitSchema creates the counter table if it does not exist
func (p *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, counterSchema); err != nil {
		return fmt.Errorf("failed to initialize rate limit schema: %w", err)
	}
	p.logger.Info("rate limit schema initialized")
	return nil
}

// IncrementAndExpire implements CounterStore
func (p *PostgresStore) IncrementAndExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := p.now().UTC()

	var count int64
	if err := p.db.QueryRowContext(ctx, incrementQuery, key, now, now.Add(window)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return count, nil
}

// Ping implements CounterStore
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CleanupExpired removes counters whose window has ended
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := p.now().UTC()

	result, err := p.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired counters: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	p.logger.Debug("cleaned up expired rate limit counters",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoff))

	return rowsAffected, nil
}

// StartCleanupWorker periodically removes expired counters until ctx is done
func (p *PostgresStore) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if _, err := p.CleanupExpired(ctx); err != nil {
				p.logger.Error("failed to cleanup expired counters", zap.Error(err))
			}
		case <-ctx.Done():
			p.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
