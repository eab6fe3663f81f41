package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/waf-gateway/internal/observability"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
)

func testRequest() *models.RequestContext {
	return &models.RequestContext{
		RequestID: "req-1",
		Method:    http.MethodPost,
		Path:      "/login",
		Headers:   map[string]string{"authorization": "Bearer secret", "user-agent": "curl"},
		Query:     map[string]string{"next": "/home"},
		Body:      "user=admin",
		ClientID:  "10.0.0.7",
	}
}

func domainMessage(t *testing.T, err error) string {
	t.Helper()
	var de *services.DomainError
	require.True(t, errors.As(err, &de))
	return de.Message
}

func TestNewHTTPScorer_Defaults(t *testing.T) {
	s := NewHTTPScorer(Config{URL: "http://localhost:9000/predict"})
	assert.Equal(t, defaultTimeout, s.config.Timeout)
	assert.Equal(t, defaultTimeout, s.httpClient.Timeout)
}

func TestHTTPScorer_Predict(t *testing.T) {
	var received predictRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"malicious": true, "confidence": 0.92}`))
	}))
	defer server.Close()

	s := NewHTTPScorer(Config{URL: server.URL, Timeout: time.Second})
	prediction, err := s.Predict(context.Background(), testRequest())

	require.NoError(t, err)
	assert.True(t, prediction.Malicious)
	assert.InDelta(t, 0.92, prediction.Confidence, 1e-9)

	assert.Equal(t, "/login", received.Path)
	assert.Equal(t, "user=admin", received.Body)
	assert.Equal(t, observability.Redacted, received.Headers["authorization"])
	assert.Equal(t, "curl", received.Headers["user-agent"])
}

func TestHTTPScorer_Predict_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		contains string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, contains: "status 500"},
		{name: "malformed json", status: http.StatusOK, body: `{"malicious":`, contains: "unexpected end of JSON input"},
		{name: "confidence above one", status: http.StatusOK, body: `{"malicious": true, "confidence": 1.5}`, contains: "confidence 1.5 out of range"},
		{name: "negative confidence", status: http.StatusOK, body: `{"malicious": false, "confidence": -0.1}`, contains: "confidence -0.1 out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			s := NewHTTPScorer(Config{URL: server.URL, Timeout: time.Second})
			_, err := s.Predict(context.Background(), testRequest())

			require.Error(t, err)
			assert.True(t, services.IsExternalError(err))
			assert.Equal(t, services.ErrScorerBadResponse.Message, domainMessage(t, err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestHTTPScorer_Predict_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	s := NewHTTPScorer(Config{URL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := s.Predict(context.Background(), testRequest())

	require.Error(t, err)
	assert.True(t, services.IsTimeoutError(err))
	assert.Equal(t, services.ErrScorerTimeout.Message, domainMessage(t, err))
}

func TestHTTPScorer_Predict_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	s := NewHTTPScorer(Config{URL: url, Timeout: time.Second})
	_, err := s.Predict(context.Background(), testRequest())

	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))
	assert.Equal(t, services.ErrScorerUnavailable.Message, domainMessage(t, err))
	assert.Error(t, s.Ping(context.Background()))
}

func TestNoopScorer(t *testing.T) {
	prediction, err := NoopScorer{}.Predict(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, prediction.Malicious)
}
