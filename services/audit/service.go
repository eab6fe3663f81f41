package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/repositories"
	"github.com/upb/waf-gateway/services"
	"go.uber.org/zap"
)

// AuditService persists security events asynchronously and serves them back
// to the admin API
type AuditService struct {
	repo        repositories.SecurityEventRepository
	logger      *zap.Logger
	eventChan   chan *models.SecurityEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000, // Buffer up to 10k events
		WorkerCount: 5,     // 5 concurrent workers
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.SecurityEventRepository, logger *zap.Logger, config Config) *AuditService {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}

	return &AuditService{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.SecurityEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	// Close the event channel (no more events will be accepted)
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event for persistence (non-blocking)
func (s *AuditService) LogEvent(event *models.SecurityEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return services.ErrNotStarted
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		// Channel is full, log warning and drop event
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("request_id", event.RequestID),
			zap.String("stage", string(event.Stage)))
		return services.ErrBufferFull
	}
}

// RecordBlocked builds a security event from a rejection and queues it.
// headers must already be sanitized.
func (s *AuditService) RecordBlocked(rc *models.RequestContext, verdict *models.Verdict, headers map[string]string) error {
	event := models.NewSecurityEvent(verdict).
		WithRequest(rc).
		WithHeaders(headers)
	return s.LogEvent(event)
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", event.RequestID),
				zap.String("stage", string(event.Stage)))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent persists a single event
func (s *AuditService) processEvent(event *models.SecurityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	return nil
}

// ListEvents returns stored events newest first
func (s *AuditService) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	return s.repo.List(ctx, filter)
}

// GetEvent returns one stored event
func (s *AuditService) GetEvent(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	return s.repo.GetByID(ctx, id)
}

// CountByStage returns persisted rejections per stage since the given time
func (s *AuditService) CountByStage(ctx context.Context, since time.Time) (map[models.Stage]int64, error) {
	return s.repo.CountByStage(ctx, since)
}

// Prune deletes events older than retention
func (s *AuditService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

// HealthCheck pings the event store
func (s *AuditService) HealthCheck(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return services.ErrEventStoreUnavailable.WithCause(err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
