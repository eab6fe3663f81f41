package handlers

import (
	"fmt"
	"net/http"

	"github.com/upb/waf-gateway/middleware"
	"github.com/upb/waf-gateway/utils"
)

// MessageResponse is the body returned by the built-in demo routes
type MessageResponse struct {
	Message string `json:"message"`
}

// DemoHandler serves a small echo application behind the WAF when no
// upstream is configured. It exists so rules can be exercised end to end.
type DemoHandler struct{}

// NewDemoHandler creates a new DemoHandler
func NewDemoHandler() *DemoHandler {
	return &DemoHandler{}
}

// HandleRoot handles GET /
func (h *DemoHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, MessageResponse{Message: "WAF is running"})
}

// HandleXSS handles GET /test/xss?payload=
func (h *DemoHandler) HandleXSS(w http.ResponseWriter, r *http.Request) {
	h.echo(w, r, "payload", "Received payload: %s")
}

// HandleSQLInjection handles GET /test/sqli?query=
func (h *DemoHandler) HandleSQLInjection(w http.ResponseWriter, r *http.Request) {
	h.echo(w, r, "query", "Received query: %s")
}

// HandlePathTraversal handles GET /test/path-traversal?path=
func (h *DemoHandler) HandlePathTraversal(w http.ResponseWriter, r *http.Request) {
	h.echo(w, r, "path", "Received path: %s")
}

func (h *DemoHandler) echo(w http.ResponseWriter, r *http.Request, param, format string) {
	values := r.URL.Query()
	if !values.Has(param) {
		_ = utils.WriteBadRequest(w, "Validation failed", map[string]interface{}{
			param: fmt.Sprintf("%s is required", param),
		})
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf(format, values.Get(param))})
}

func requestID(r *http.Request) string {
	return middleware.GetRequestIDFromContext(r.Context())
}
