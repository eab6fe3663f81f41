package rules

import "github.com/upb/waf-gateway/models"

const (
	CategoryXSS           = "xss"
	CategorySQLInjection  = "sql_injection"
	CategoryPathTraversal = "path_traversal"
	CategoryInvalidMethod = "invalid_method"
)

var (
	allTargets     = []models.FieldKind{models.FieldHeader, models.FieldQuery, models.FieldBody}
	contentTargets = []models.FieldKind{models.FieldQuery, models.FieldBody}
)

// DefaultCategories returns the built-in catalogue. Path traversal is not
// applied to header values.
func DefaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{
			Name:       CategoryXSS,
			Enabled:    true,
			Severity:   models.SeverityHigh,
			Confidence: 0.9,
			Targets:    allTargets,
			Patterns: []string{
				`<script.*?>`,
				`javascript:`,
				`onload\s*=`,
				`onerror\s*=`,
				`eval\s*\(`,
			},
		},
		{
			Name:       CategorySQLInjection,
			Enabled:    true,
			Severity:   models.SeverityCritical,
			Confidence: 0.95,
			Targets:    allTargets,
			Patterns: []string{
				`union.*?select`,
				`drop.*?table`,
				`--\s*$`,
				`'\s*;`,
				`;\s*(drop|delete|insert|update|select|alter|create|exec|shutdown)\b`,
				`'.*?or.*?'.*?=.*?'`,
			},
		},
		{
			Name:       CategoryPathTraversal,
			Enabled:    true,
			Severity:   models.SeverityHigh,
			Confidence: 0.85,
			Targets:    contentTargets,
			Patterns: []string{
				`\.\./`,
				`\.\.\\`,
				`%2e%2e%2f`,
				`%252e%252e%252f`,
			},
		},
	}
}

// ApplyToggles returns a copy of cfgs with Enabled overridden for every
// category named in toggles. Categories not named keep their own setting.
func ApplyToggles(cfgs []CategoryConfig, toggles map[string]bool) []CategoryConfig {
	out := make([]CategoryConfig, len(cfgs))
	for i, c := range cfgs {
		if enabled, ok := toggles[c.Name]; ok {
			c.Enabled = enabled
		}
		out[i] = c
	}
	return out
}
