package rules

import (
	"sort"
	"strings"

	"github.com/upb/waf-gateway/models"
)

// maxSnippetLen bounds how much matched text is carried into a RuleMatch.
const maxSnippetLen = 128

// Field is one scannable request value.
type Field struct {
	Kind  models.FieldKind
	Name  string
	Value string
}

// Engine scans request fields against a RuleSet. It holds no mutable state
// and may be shared between goroutines.
type Engine struct {
	rules *RuleSet
}

// NewEngine creates an engine over the given rule set
func NewEngine(rs *RuleSet) *Engine {
	return &Engine{rules: rs}
}

// RuleSet returns the rule set the engine scans with
func (e *Engine) RuleSet() *RuleSet {
	return e.rules
}

// Scan evaluates every enabled category's patterns against every field the
// category targets. Each pattern that matches a field yields exactly one
// RuleMatch, carrying the first matching substring. An empty result means
// nothing matched.
func (e *Engine) Scan(fields []Field) []models.RuleMatch {
	var matches []models.RuleMatch
	if e == nil || e.rules == nil {
		return matches
	}

	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		for i := range e.rules.categories {
			cat := &e.rules.categories[i]
			if !cat.Enabled || !cat.Applies(f.Kind) {
				continue
			}
			for _, p := range cat.Patterns {
				loc := p.re.FindStringIndex(f.Value)
				if loc == nil {
					continue
				}
				matches = append(matches, models.RuleMatch{
					Category:   cat.Name,
					PatternID:  p.ID,
					Field:      f.Kind,
					FieldName:  f.Name,
					Snippet:    snippet(f.Value[loc[0]:loc[1]]),
					Severity:   cat.Severity,
					Confidence: cat.Confidence,
				})
			}
		}
	}

	return matches
}

// ScanRequest scans the header, query and body values of rc.
func (e *Engine) ScanRequest(rc *models.RequestContext) []models.RuleMatch {
	return e.Scan(RequestFields(rc))
}

// RequestFields flattens a request into scan order: header values, then query
// values, then the body. Headers and query parameters are ordered by name so
// repeated scans of the same request yield the same match order.
func RequestFields(rc *models.RequestContext) []Field {
	if rc == nil {
		return nil
	}
	fields := make([]Field, 0, len(rc.Headers)+len(rc.Query)+1)

	for _, name := range sortedKeys(rc.Headers) {
		fields = append(fields, Field{Kind: models.FieldHeader, Name: name, Value: rc.Headers[name]})
	}
	for _, name := range sortedKeys(rc.Query) {
		fields = append(fields, Field{Kind: models.FieldQuery, Name: name, Value: rc.Query[name]})
	}
	fields = append(fields, Field{Kind: models.FieldBody, Name: "body", Value: rc.Body})

	return fields
}

// MethodMatch returns the synthetic invalid-method match when method is not in
// the allowed set. Comparison is case-insensitive.
func MethodMatch(method string, allowed map[string]bool) (models.RuleMatch, bool) {
	if allowed[strings.ToUpper(method)] {
		return models.RuleMatch{}, false
	}
	return models.RuleMatch{
		Category:   CategoryInvalidMethod,
		PatternID:  CategoryInvalidMethod,
		Field:      models.FieldMethod,
		FieldName:  "method",
		Snippet:    snippet(method),
		Severity:   models.SeverityMedium,
		Confidence: 1.0,
	}, true
}

// MethodSet builds an allowed-method lookup from a list of method names.
func MethodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			set[m] = true
		}
	}
	return set
}

func snippet(s string) string {
	if len(s) <= maxSnippetLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxSnippetLen], "")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
