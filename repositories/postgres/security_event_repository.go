package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/repositories"
	"github.com/upb/waf-gateway/services"
	"go.uber.org/zap"
)

const securityEventColumns = `id, request_id, client_ip, method, path, status_code, reason, stage,
		       confidence, matches, headers, user_agent, timestamp`

// SecurityEventRepository implements the repositories.SecurityEventRepository interface
type SecurityEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB, logger *zap.Logger) repositories.SecurityEventRepository {
	return &SecurityEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new security event
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, request_id, client_ip, method, path, status_code, reason, stage,
			confidence, matches, headers, user_agent, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.RequestID,
		event.ClientID,
		event.Method,
		event.Path,
		event.StatusCode,
		event.Reason,
		string(event.Stage),
		event.Confidence,
		[]byte(event.Matches),
		[]byte(event.Headers),
		event.UserAgent,
		event.Timestamp,
	)
	if err != nil {
		return services.NewDomainError(services.ErrorTypeDependency, "failed to insert security event", err)
	}

	r.logger.Debug("security event inserted",
		zap.String("id", event.ID.String()),
		zap.String("stage", string(event.Stage)))
	return nil
}

// GetByID retrieves a security event by ID
func (r *SecurityEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	query := `SELECT ` + securityEventColumns + ` FROM security_events WHERE id = $1`

	event, err := scanSecurityEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrSecurityEventNotFound
		}
		return nil, services.NewDomainError(services.ErrorTypeDependency, "failed to get security event", err)
	}
	return event, nil
}

// List retrieves security events newest first
func (r *SecurityEventRepository) List(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	filter = repositories.NormalizeFilter(filter)

	var (
		conditions []string
		args       []interface{}
	)
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		conditions = append(conditions, fmt.Sprintf("stage = $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		conditions = append(conditions, fmt.Sprintf("client_ip = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeDependency, "failed to query security events", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0, filter.Limit)
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// CountByStage counts events since the given time grouped by stage
func (r *SecurityEventRepository) CountByStage(ctx context.Context, since time.Time) (map[models.Stage]int64, error) {
	query := `
		SELECT stage, COUNT(*)
		FROM security_events
		WHERE timestamp >= $1
		GROUP BY stage
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeDependency, "failed to count security events", err)
	}
	defer rows.Close()

	counts := make(map[models.Stage]int64)
	for rows.Next() {
		var (
			stage string
			count int64
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stage count: %w", err)
		}
		counts[models.Stage(stage)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan removes events recorded before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM security_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, services.NewDomainError(services.ErrorTypeDependency, "failed to delete security events", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("pruned security events",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoff))

	return rowsAffected, nil
}

// Ping implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurityEvent(row rowScanner) (*models.SecurityEvent, error) {
	var (
		event      models.SecurityEvent
		requestID  sql.NullString
		userAgent  sql.NullString
		confidence sql.NullFloat64
		stage      string
		matches    []byte
		headers    []byte
	)

	err := row.Scan(
		&event.ID,
		&requestID,
		&event.ClientID,
		&event.Method,
		&event.Path,
		&event.StatusCode,
		&event.Reason,
		&stage,
		&confidence,
		&matches,
		&headers,
		&userAgent,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	event.RequestID = requestID.String
	event.UserAgent = userAgent.String
	event.Stage = models.Stage(stage)
	if confidence.Valid {
		c := confidence.Float64
		event.Confidence = &c
	}
	event.Matches = matches
	event.Headers = headers

	return &event, nil
}
