package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/waf-gateway/services"
	"go.uber.org/zap"
)

// Sink delivers a single alert message
type Sink interface {
	Send(ctx context.Context, message string) error
}

// webhookPayload is compatible with Slack style incoming webhooks
type webhookPayload struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookSink POSTs alerts as JSON to a webhook URL
type WebhookSink struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewWebhookSink creates a new webhook sink. timeout bounds each delivery.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = DefaultConfig().SendTimeout
	}
	return &WebhookSink{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Send implements Sink
func (s *WebhookSink) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{
		Text:      message,
		Source:    "waf-gateway",
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return services.WrapInternal("failed to marshal alert", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return services.WrapConfiguration("failed to create alert request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return services.ErrAlertDelivery.WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.ErrAlertDelivery.
			WithCause(fmt.Errorf("alert webhook returned status %d", resp.StatusCode))
	}
	return nil
}

// LogSink writes alerts to the log. Used when no webhook is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("waf.alert")}
}

// Send implements Sink
func (s *LogSink) Send(ctx context.Context, message string) error {
	s.logger.Warn("security alert", zap.String("message", message))
	return nil
}
