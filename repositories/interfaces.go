package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/waf-gateway/models"
)

// SecurityEventRepository handles security event data operations
type SecurityEventRepository interface {
	// Insert inserts a new security event
	Insert(ctx context.Context, event *models.SecurityEvent) error

	// GetByID retrieves a security event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error)

	// List retrieves security events newest first, narrowed by filter
	List(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)

	// CountByStage counts events recorded at or after since, grouped by stage
	CountByStage(ctx context.Context, since time.Time) (map[models.Stage]int64, error)

	// DeleteOlderThan removes events recorded before cutoff and returns how many were removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	SecurityEvents SecurityEventRepository
}

// DefaultListLimit is applied when a filter does not set a limit
const DefaultListLimit = 50

// MaxListLimit caps a single listing
const MaxListLimit = 500

// NormalizeFilter applies listing defaults and bounds
func NormalizeFilter(filter models.EventFilter) models.EventFilter {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
