package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/waf-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates the security event table and its indexes
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS security_events (
			id UUID PRIMARY KEY,
			request_id VARCHAR(255),
			client_ip VARCHAR(45) NOT NULL,
			method VARCHAR(16) NOT NULL,
			path TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			reason TEXT NOT NULL,
			stage VARCHAR(32) NOT NULL,
			confidence DOUBLE PRECISION,
			matches JSONB NOT NULL DEFAULT '[]',
			headers JSONB NOT NULL DEFAULT '{}',
			user_agent TEXT,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_security_events_client_ip ON security_events(client_ip);
		CREATE INDEX IF NOT EXISTS idx_security_events_stage ON security_events(stage);
		CREATE INDEX IF NOT EXISTS idx_security_events_request_id ON security_events(request_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
