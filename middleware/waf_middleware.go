package middleware

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/utils"
	"go.uber.org/zap"
)

// Inspector decides on a request and records it once served
type Inspector interface {
	Inspect(ctx context.Context, rc *models.RequestContext) *models.Verdict
	Complete(ctx context.Context, rc *models.RequestContext, status int, elapsed time.Duration)
}

// WAFConfig controls how requests are captured for inspection
type WAFConfig struct {
	// MaxBodySize is the number of body bytes inspected. Anything beyond it
	// is forwarded but not scanned.
	MaxBodySize int64
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP instead of the socket.
	TrustProxyHeaders bool
}

// WAFMiddleware inspects every request before it reaches the next handler
type WAFMiddleware struct {
	inspector Inspector
	config    WAFConfig
	logger    *zap.Logger
}

// NewWAFMiddleware creates a new WAFMiddleware
func NewWAFMiddleware(inspector Inspector, config WAFConfig, logger *zap.Logger) *WAFMiddleware {
	return &WAFMiddleware{
		inspector: inspector,
		config:    config,
		logger:    logger,
	}
}

// Handler runs the inspection pipeline. Rejected requests get a
// {"detail": reason} body and never reach next.
func (m *WAFMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		rc, err := BuildRequestContext(r, m.config.MaxBodySize, m.config.TrustProxyHeaders)
		if err != nil {
			m.logger.Warn("failed to read request body, inspecting without it",
				zap.String("request_id", rc.RequestID),
				zap.Error(err))
		}

		verdict := m.inspector.Inspect(ctx, rc)
		setQuotaHeaders(w, verdict.Quota)

		if !verdict.Allowed() {
			_ = utils.WriteDetail(w, verdict.StatusCode, verdict.Reason)
			return
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(WithRequestContext(ctx, rc)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.inspector.Complete(ctx, rc, status, time.Since(start))
	})
}

func setQuotaHeaders(w http.ResponseWriter, quota *models.Quota) {
	if quota == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(quota.Remaining))
}

// BuildRequestContext captures r for inspection. At most maxBody bytes of
// the body are read; the body is restored in full for the upstream, and any
// bytes past maxBody are forwarded without inspection. A prefix cut inside a
// multi-byte character is trimmed back to the last complete one. A body that
// is not valid UTF-8 is inspected as empty. Headers and query parameters keep
// the last value seen for a name.
//
// On a read error the returned context is still usable, with an empty body,
// and whatever was read is put back for the upstream.
func BuildRequestContext(r *http.Request, maxBody int64, trustProxy bool) (*models.RequestContext, error) {
	requestID := GetRequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}

	rc := &models.RequestContext{
		RequestID: requestID,
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   make(map[string]string, len(r.Header)),
		Query:     make(map[string]string),
		ClientID:  clientAddress(r, trustProxy),
		ArrivedAt: time.Now().UTC(),
	}

	for name, values := range r.Header {
		if len(values) > 0 {
			rc.Headers[strings.ToLower(name)] = values[len(values)-1]
		}
	}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			rc.Query[name] = values[len(values)-1]
		}
	}

	body, truncated, err := readBody(r, maxBody)
	if err != nil {
		return rc, err
	}
	if truncated {
		body = trimPartialRune(body)
	}
	if utf8.Valid(body) {
		rc.Body = string(body)
	}
	return rc, nil
}

// readBody returns at most limit bytes of the body and reports whether more
// followed. Everything read, including on error, is put back in front of the
// rest of the stream.
func readBody(r *http.Request, limit int64) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody || limit <= 0 {
		return nil, false, nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(buf), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		return nil, false, err
	}

	if int64(len(buf)) > limit {
		return buf[:limit], true, nil
	}
	return buf, false, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end of b by
// a cut.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && len(b)-i <= utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		return b
	}
	return b
}

type readCloser struct {
	io.Reader
	io.Closer
}

func clientAddress(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			return xrip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
