package models

import (
	"fmt"
	"strings"
)

// Severity is the ordered threat level attached to a rule category.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

// ParseSeverity parses a severity name, ignoring case.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// String returns the upper-case severity name
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Rank returns the ordinal of s, 0 for an undefined severity.
func (s Severity) Rank() int {
	if !s.Valid() {
		return 0
	}
	return int(s)
}

// Valid reports whether s is one of the four defined levels.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// MarshalText implements encoding.TextMarshaler
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RuleMatch records one pattern hit against one request field.
type RuleMatch struct {
	Category   string    `json:"category"`
	PatternID  string    `json:"pattern_id"`
	Field      FieldKind `json:"field"`
	FieldName  string    `json:"field_name,omitempty"`
	Snippet    string    `json:"snippet"`
	Severity   Severity  `json:"severity"`
	Confidence float64   `json:"confidence"`
}
