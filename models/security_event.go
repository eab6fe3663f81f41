package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SecurityEvent is the persisted audit record of a rejected request.
type SecurityEvent struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	RequestID  string          `json:"request_id" db:"request_id"`
	ClientID   string          `json:"client_ip" db:"client_ip"`
	Method     string          `json:"method" db:"method"`
	Path       string          `json:"path" db:"path"`
	StatusCode int             `json:"status_code" db:"status_code"`
	Reason     string          `json:"reason" db:"reason"`
	Stage      Stage           `json:"stage" db:"stage"`
	Confidence *float64        `json:"confidence,omitempty" db:"confidence"`
	Matches    json.RawMessage `json:"matches" db:"matches"` // JSONB
	Headers    json.RawMessage `json:"headers" db:"headers"` // JSONB, sanitized
	UserAgent  string          `json:"user_agent" db:"user_agent"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the SecurityEvent model
func (SecurityEvent) TableName() string {
	return "security_events"
}

// NewSecurityEvent creates a SecurityEvent from a rejecting verdict
func NewSecurityEvent(verdict *Verdict) *SecurityEvent {
	e := &SecurityEvent{
		ID:         uuid.New(),
		StatusCode: verdict.StatusCode,
		Reason:     verdict.Reason,
		Stage:      verdict.Stage,
		Timestamp:  time.Now().UTC(),
		Matches:    json.RawMessage("[]"),
		Headers:    json.RawMessage("{}"),
	}
	if verdict.Confidence > 0 {
		c := verdict.Confidence
		e.Confidence = &c
	}
	return e.WithMatches(verdict.Matches)
}

// WithRequest sets request metadata
func (e *SecurityEvent) WithRequest(rc *RequestContext) *SecurityEvent {
	if rc == nil {
		return e
	}
	e.RequestID = rc.RequestID
	e.ClientID = rc.ClientID
	e.Method = rc.Method
	e.Path = rc.Path
	e.UserAgent = rc.Header("user-agent")
	return e
}

// WithMatches sets the rule matches that led to the rejection
func (e *SecurityEvent) WithMatches(matches []RuleMatch) *SecurityEvent {
	if matches == nil {
		matches = []RuleMatch{}
	}
	if data, err := json.Marshal(matches); err == nil {
		e.Matches = data
	}
	return e
}

// WithHeaders sets the (already sanitized) request headers
func (e *SecurityEvent) WithHeaders(headers map[string]string) *SecurityEvent {
	if data, err := json.Marshal(headers); err == nil {
		e.Headers = data
	}
	return e
}

// EventFilter narrows a security event listing.
type EventFilter struct {
	Stage    Stage
	ClientID string
	Since    *time.Time
	Limit    int
	Offset   int
}

// TrafficStats aggregates inspection outcomes for the admin dashboard.
type TrafficStats struct {
	Allowed      int64           `json:"allowed"`
	Blocked      int64           `json:"blocked"`
	BlockedStage map[Stage]int64 `json:"blocked_by_stage"`
	Since        time.Time       `json:"since"`
}
