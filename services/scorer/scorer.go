// Package scorer holds clients for the optional anomaly scoring model that
// runs after the rule engine has let a request through.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/waf-gateway/internal/observability"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
)

const (
	defaultTimeout = 500 * time.Millisecond
	// maxResponseSize bounds how much of a scorer response is read
	maxResponseSize = 64 << 10
)

// Config configures the HTTP scorer client
type Config struct {
	URL     string
	Timeout time.Duration
}

// predictRequest is the payload sent to the scoring service
type predictRequest struct {
	RequestID string            `json:"request_id"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Query     map[string]string `json:"query"`
	Body      string            `json:"body"`
	ClientIP  string            `json:"client_ip"`
}

// HTTPScorer asks a remote model for a prediction over JSON
type HTTPScorer struct {
	config     Config
	httpClient *http.Client
}

// NewHTTPScorer creates a new HTTP scorer
func NewHTTPScorer(config Config) *HTTPScorer {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &HTTPScorer{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Predict scores rc. Errors are external or timeout DomainErrors; callers are
// expected to fail open on them.
func (s *HTTPScorer) Predict(ctx context.Context, rc *models.RequestContext) (models.Prediction, error) {
	payload := predictRequest{
		RequestID: rc.RequestID,
		Method:    rc.Method,
		Path:      rc.Path,
		Headers:   observability.SanitizeHeaders(rc.Headers),
		Query:     rc.Query,
		Body:      rc.Body,
		ClientIP:  rc.ClientID,
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return models.Prediction{}, services.WrapInternal("failed to marshal scorer request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(reqBody))
	if err != nil {
		return models.Prediction{}, services.WrapConfiguration("failed to create scorer request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return models.Prediction{}, services.ErrScorerTimeout.WithCause(err)
		}
		return models.Prediction{}, services.ErrScorerUnavailable.WithCause(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return models.Prediction{}, services.ErrScorerUnavailable.WithCause(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return models.Prediction{}, services.ErrScorerBadResponse.
			WithCause(fmt.Errorf("status %d", httpResp.StatusCode))
	}

	var prediction models.Prediction
	if err := json.Unmarshal(respBody, &prediction); err != nil {
		return models.Prediction{}, services.ErrScorerBadResponse.WithCause(err)
	}
	if prediction.Confidence < 0 || prediction.Confidence > 1 {
		return models.Prediction{}, services.ErrScorerBadResponse.
			WithCause(fmt.Errorf("confidence %v out of range", prediction.Confidence))
	}

	return prediction, nil
}

// Ping checks that the scorer URL answers at all
func (s *HTTPScorer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.config.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return services.ErrScorerUnavailable.WithCause(err)
	}
	resp.Body.Close()
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// NoopScorer never flags a request. It stands in when no model is configured.
type NoopScorer struct{}

// Predict implements the anomaly scorer contract
func (NoopScorer) Predict(ctx context.Context, rc *models.RequestContext) (models.Prediction, error) {
	return models.Prediction{}, nil
}
