package models

import "time"

// Action is the outcome of inspecting a request.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReject Action = "REJECT"
)

// Stage names the pipeline step that produced a verdict.
type Stage string

const (
	StageWhitelist Stage = "whitelist"
	StageRateLimit Stage = "rate_limit"
	StageRules     Stage = "rules"
	StageAnomaly   Stage = "anomaly"
	StagePassed    Stage = "passed"
	StageInternal  Stage = "internal"
)

// Verdict is the final decision for a single request. StatusCode and Reason
// are only meaningful when Action is ActionReject.
type Verdict struct {
	Action     Action      `json:"action"`
	StatusCode int         `json:"status_code,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Stage      Stage       `json:"stage"`
	Matches    []RuleMatch `json:"matches,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`

	// Quota is the caller's rate-limit standing, when the limiter was consulted.
	Quota *Quota `json:"-"`
}

// Quota describes how much of its rate-limit window a client has used.
type Quota struct {
	Limit     int
	Remaining int
	Window    time.Duration
}

// Allow builds an ALLOW verdict
func Allow(stage Stage, matches []RuleMatch) *Verdict {
	return &Verdict{Action: ActionAllow, Stage: stage, Matches: matches}
}

// Reject builds a REJECT verdict
func Reject(stage Stage, status int, reason string, matches []RuleMatch) *Verdict {
	return &Verdict{
		Action:     ActionReject,
		StatusCode: status,
		Reason:     reason,
		Stage:      stage,
		Matches:    matches,
	}
}

// Allowed reports whether the request may proceed upstream.
func (v *Verdict) Allowed() bool {
	return v != nil && v.Action == ActionAllow
}

// Prediction is the anomaly scorer's opinion of a request.
type Prediction struct {
	Malicious  bool    `json:"malicious"`
	Confidence float64 `json:"confidence"`
}
