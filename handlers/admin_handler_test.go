package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
	"github.com/upb/waf-gateway/services/pipeline"
	"go.uber.org/zap"
)

type MockEventService struct {
	mock.Mock
}

func (m *MockEventService) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SecurityEvent), args.Error(1)
}

func (m *MockEventService) GetEvent(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SecurityEvent), args.Error(1)
}

func (m *MockEventService) CountByStage(ctx context.Context, since time.Time) (map[models.Stage]int64, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.Stage]int64), args.Error(1)
}

type staticTraffic models.TrafficStats

func (s staticTraffic) Stats() models.TrafficStats { return models.TrafficStats(s) }

type stubReloader struct {
	file     string
	err      error
	snapshot *pipeline.Snapshot
	reloads  int
}

func (s *stubReloader) Reload() error {
	s.reloads++
	return s.err
}

func (s *stubReloader) RulesFile() string             { return s.file }
func (s *stubReloader) Snapshot() *pipeline.Snapshot { return s.snapshot }

func newAdminRouter(t *testing.T, events EventService, reloader *stubReloader) http.Handler {
	t.Helper()
	if reloader.snapshot == nil {
		snap, err := pipeline.BuildSnapshot(pipeline.SnapshotConfig{AllowedMethods: []string{"GET"}})
		require.NoError(t, err)
		reloader.snapshot = snap
	}
	traffic := staticTraffic{Allowed: 10, Blocked: 3, BlockedStage: map[models.Stage]int64{models.StageRules: 3}}
	h := NewAdminHandler(events, traffic, reloader, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/events", h.HandleListEvents)
	r.Get("/events/{id}", h.HandleGetEvent)
	r.Get("/stats", h.HandleStats)
	r.Post("/rules/reload", h.HandleReloadRules)
	return r
}

func TestAdminHandler_ListEvents(t *testing.T) {
	events := new(MockEventService)
	stored := []*models.SecurityEvent{{ID: uuid.New(), Stage: models.StageRules, ClientID: "10.0.0.1"}}

	events.On("ListEvents", mock.Anything, mock.MatchedBy(func(f models.EventFilter) bool {
		return f.Stage == models.StageRules && f.ClientID == "10.0.0.1" && f.Limit == 20 && f.Offset == 40
	})).Return(stored, nil)

	router := newAdminRouter(t, events, &stubReloader{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events?stage=rules&client_ip=10.0.0.1&limit=20&offset=40", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data EventListResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Data.Events, 1)
	assert.Equal(t, 20, body.Data.Limit)
	events.AssertExpectations(t)
}

func TestAdminHandler_ListEvents_Defaults(t *testing.T) {
	events := new(MockEventService)
	events.On("ListEvents", mock.Anything, mock.MatchedBy(func(f models.EventFilter) bool {
		return f.Limit == 50 && f.Offset == 0 && f.Stage == "" && f.Since == nil
	})).Return(nil, nil)

	router := newAdminRouter(t, events, &stubReloader{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"events":[],"limit":50,"offset":0}}`, w.Body.String())
}

func TestAdminHandler_ListEvents_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"limit too large", "limit=1000"},
		{"limit not a number", "limit=ten"},
		{"unknown stage", "stage=bogus"},
		{"bad client ip", "client_ip=not-an-ip"},
		{"negative offset", "offset=-1"},
		{"bad since", "since=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := new(MockEventService)
			router := newAdminRouter(t, events, &stubReloader{})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events?"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			events.AssertNotCalled(t, "ListEvents", mock.Anything, mock.Anything)
		})
	}
}

func TestAdminHandler_GetEvent(t *testing.T) {
	id := uuid.New()
	events := new(MockEventService)
	events.On("GetEvent", mock.Anything, id).Return(&models.SecurityEvent{ID: id, Reason: "Critical security threat detected"}, nil)

	router := newAdminRouter(t, events, &stubReloader{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+id.String(), nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Critical security threat detected")
}

func TestAdminHandler_GetEvent_Errors(t *testing.T) {
	missing := uuid.New()
	events := new(MockEventService)
	events.On("GetEvent", mock.Anything, missing).Return(nil, services.ErrSecurityEventNotFound)

	router := newAdminRouter(t, events, &stubReloader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+missing.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "event id must be a UUID")
}

func TestAdminHandler_BadSinceIsInvalidFilter(t *testing.T) {
	events := new(MockEventService)
	router := newAdminRouter(t, events, &stubReloader{})

	for _, path := range []string{"/events?since=yesterday", "/stats?since=yesterday"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), services.ErrInvalidFilter.Message, path)
		assert.Contains(t, w.Body.String(), "RFC 3339", path)
	}
	events.AssertNotCalled(t, "CountByStage", mock.Anything, mock.Anything)
}

func TestAdminHandler_Stats(t *testing.T) {
	events := new(MockEventService)
	events.On("CountByStage", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(map[models.Stage]int64{models.StageRules: 7, models.StageRateLimit: 2}, nil)

	router := newAdminRouter(t, events, &stubReloader{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, int64(10), body.Data.Traffic.Allowed)
	assert.Equal(t, int64(3), body.Data.Traffic.Blocked)
	assert.Equal(t, int64(7), body.Data.StoredByStage[models.StageRules])
}

func TestAdminHandler_Stats_StoreDown(t *testing.T) {
	events := new(MockEventService)
	events.On("CountByStage", mock.Anything, mock.Anything).
		Return(nil, services.NewDomainError(services.ErrorTypeDependency, "security event store unavailable", errors.New("dial tcp")))

	router := newAdminRouter(t, events, &stubReloader{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminHandler_ReloadRules(t *testing.T) {
	t.Run("reloads configured file", func(t *testing.T) {
		reloader := &stubReloader{file: "/etc/waf/rules.yaml"}
		router := newAdminRouter(t, new(MockEventService), reloader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rules/reload", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, reloader.reloads)
		var body struct {
			Data ReloadResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "/etc/waf/rules.yaml", body.Data.RulesFile)
		assert.Equal(t, 15, body.Data.Patterns)
	})

	t.Run("no rules file configured", func(t *testing.T) {
		reloader := &stubReloader{}
		router := newAdminRouter(t, new(MockEventService), reloader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rules/reload", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, reloader.reloads)
	})

	t.Run("invalid catalogue", func(t *testing.T) {
		reloader := &stubReloader{file: "/etc/waf/rules.yaml", err: services.WrapConfiguration("invalid rule pattern", errors.New("missing )"))}
		router := newAdminRouter(t, new(MockEventService), reloader)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rules/reload", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
