package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
	"github.com/upb/waf-gateway/services/pipeline"
	"github.com/upb/waf-gateway/utils"
	"go.uber.org/zap"
)

// EventService reads the security event trail
type EventService interface {
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error)
	CountByStage(ctx context.Context, since time.Time) (map[models.Stage]int64, error)
}

// TrafficSource reports live allow/block counters
type TrafficSource interface {
	Stats() models.TrafficStats
}

// RulesReloader swaps in a freshly loaded rule catalogue
type RulesReloader interface {
	Reload() error
	RulesFile() string
	Snapshot() *pipeline.Snapshot
}

// eventQuery is the validated form of the /events query string
type eventQuery struct {
	Limit    int    `validate:"gte=1,lte=500"`
	Offset   int    `validate:"gte=0"`
	Stage    string `validate:"omitempty,oneof=rate_limit rules anomaly internal"`
	ClientIP string `validate:"omitempty,ip"`
}

// EventListResponse is the body of GET /events
type EventListResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	Traffic       models.TrafficStats    `json:"traffic"`
	StoredByStage map[models.Stage]int64 `json:"stored_by_stage"`
	StoredSince   time.Time              `json:"stored_since"`
}

// ReloadResponse is the body of POST /rules/reload
type ReloadResponse struct {
	RulesFile  string    `json:"rules_file"`
	Patterns   int       `json:"patterns"`
	ReloadedAt time.Time `json:"reloaded_at"`
}

// AdminHandler serves the admin API
type AdminHandler struct {
	events   EventService
	traffic  TrafficSource
	reloader RulesReloader
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(events EventService, traffic TrafficSource, reloader RulesReloader, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		events:   events,
		traffic:  traffic,
		reloader: reloader,
		logger:   logger,
	}
}

// HandleListEvents handles GET /api/v1/admin/events
func (h *AdminHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	limit, err := utils.QueryInt(values, "limit", 50)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	offset, err := utils.QueryInt(values, "offset", 0)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	query := eventQuery{
		Limit:    limit,
		Offset:   offset,
		Stage:    values.Get("stage"),
		ClientIP: values.Get("client_ip"),
	}
	if err := utils.ValidateStruct(query); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	filter := models.EventFilter{
		Stage:    models.Stage(query.Stage),
		ClientID: query.ClientIP,
		Limit:    query.Limit,
		Offset:   query.Offset,
	}
	if raw := values.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			HandleServiceError(w, services.ErrInvalidFilter.
				WithCause(fmt.Errorf("since must be an RFC 3339 timestamp: %w", err)), h.logger)
			return
		}
		filter.Since = &since
	}

	events, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	_ = utils.WriteOK(w, EventListResponse{Events: events, Limit: filter.Limit, Offset: filter.Offset})
}

// HandleGetEvent handles GET /api/v1/admin/events/{id}
func (h *AdminHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, services.ErrInvalidInput.
			WithCause(fmt.Errorf("event id must be a UUID: %w", err)), h.logger)
		return
	}

	event, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, event)
}

// HandleStats handles GET /api/v1/admin/stats. Stored counts cover the last
// 24 hours unless since is given.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			HandleServiceError(w, services.ErrInvalidFilter.
				WithCause(fmt.Errorf("since must be an RFC 3339 timestamp: %w", err)), h.logger)
			return
		}
		since = parsed
	}

	stored, err := h.events.CountByStage(r.Context(), since)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, StatsResponse{
		Traffic:       h.traffic.Stats(),
		StoredByStage: stored,
		StoredSince:   since,
	})
}

// HandleReloadRules handles POST /api/v1/admin/rules/reload
func (h *AdminHandler) HandleReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.reloader.RulesFile() == "" {
		HandleServiceError(w, services.ErrRulesFileNotSet, h.logger)
		return
	}

	if err := h.reloader.Reload(); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	snapshot := h.reloader.Snapshot()
	h.logger.Info("rules reloaded via admin API",
		zap.String("request_id", requestID(r)),
		zap.Int("patterns", snapshot.Engine.RuleSet().PatternCount()))

	_ = utils.WriteOK(w, ReloadResponse{
		RulesFile:  h.reloader.RulesFile(),
		Patterns:   snapshot.Engine.RuleSet().PatternCount(),
		ReloadedAt: time.Now().UTC(),
	})
}
