// Package memory provides process-local repositories used when no database
// is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/repositories"
	"github.com/upb/waf-gateway/services"
)

// DefaultCapacity is the number of events kept when none is given
const DefaultCapacity = 10000

// SecurityEventRepository keeps the most recent events in a fixed-size ring.
// The oldest event is overwritten once the ring is full.
type SecurityEventRepository struct {
	mu     sync.RWMutex
	events []*models.SecurityEvent
	next   int
	size   int
}

// NewSecurityEventRepository creates a ring holding up to capacity events
func NewSecurityEventRepository(capacity int) *SecurityEventRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SecurityEventRepository{
		events: make([]*models.SecurityEvent, capacity),
	}
}

var _ repositories.SecurityEventRepository = (*SecurityEventRepository)(nil)

// Insert implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return services.ErrInvalidInput
	}
	stored := *event

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = &stored
	r.next = (r.next + 1) % len(r.events)
	if r.size < len(r.events) {
		r.size++
	}
	return nil
}

// GetByID implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := 0; i < r.size; i++ {
		if e := r.at(i); e.ID == id {
			out := *e
			return &out, nil
		}
	}
	return nil, services.ErrSecurityEventNotFound
}

// List implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) List(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	filter = repositories.NormalizeFilter(filter)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SecurityEvent, 0, filter.Limit)
	skipped := 0
	for i := 0; i < r.size && len(out) < filter.Limit; i++ {
		e := r.at(i)
		if !matches(e, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

// CountByStage implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) CountByStage(ctx context.Context, since time.Time) (map[models.Stage]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.Stage]int64)
	for i := 0; i < r.size; i++ {
		if e := r.at(i); !e.Timestamp.Before(since) {
			counts[e.Stage]++
		}
	}
	return counts, nil
}

// DeleteOlderThan implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// rebuild oldest first so insertion order survives
	kept := make([]*models.SecurityEvent, 0, r.size)
	for i := r.size - 1; i >= 0; i-- {
		if e := r.at(i); !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := int64(r.size - len(kept))

	for i := range r.events {
		r.events[i] = nil
	}
	copy(r.events, kept)
	r.size = len(kept)
	r.next = r.size % len(r.events)

	return removed, nil
}

// Ping implements repositories.SecurityEventRepository
func (r *SecurityEventRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// at returns the i-th newest event. Callers hold the lock.
func (r *SecurityEventRepository) at(i int) *models.SecurityEvent {
	idx := (r.next - 1 - i + len(r.events)) % len(r.events)
	return r.events[idx]
}

func matches(e *models.SecurityEvent, filter models.EventFilter) bool {
	if filter.Stage != "" && e.Stage != filter.Stage {
		return false
	}
	if filter.ClientID != "" && e.ClientID != filter.ClientID {
		return false
	}
	if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
		return false
	}
	return true
}
