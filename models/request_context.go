package models

import (
	"strings"
	"time"
)

// FieldKind identifies which part of a request a scanned value came from.
type FieldKind string

const (
	FieldHeader FieldKind = "header"
	FieldQuery  FieldKind = "query"
	FieldBody   FieldKind = "body"
	FieldMethod FieldKind = "method"
)

// RequestContext is the immutable snapshot of an inbound request that the
// inspection pipeline works on. Header names are lower-cased and both headers
// and query parameters keep only the last value seen for a name.
type RequestContext struct {
	RequestID string            `json:"request_id"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Query     map[string]string `json:"query"`
	Body      string            `json:"body"`
	ClientID  string            `json:"client_id"`
	ArrivedAt time.Time         `json:"arrived_at"`
}

// Header returns the value of the named header, matching case-insensitively.
func (rc *RequestContext) Header(name string) string {
	if rc == nil || rc.Headers == nil {
		return ""
	}
	return rc.Headers[strings.ToLower(name)]
}
