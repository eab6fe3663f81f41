package rules

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
)

// CategoryConfig is the uncompiled description of one rule category.
type CategoryConfig struct {
	Name       string
	Enabled    bool
	Severity   models.Severity
	Confidence float64
	Patterns   []string
	// Targets lists the field kinds the category applies to. Empty means all.
	Targets []models.FieldKind
}

// Pattern is one compiled expression of a category.
type Pattern struct {
	ID     string
	Source string
	re     *regexp.Regexp
}

// Category is a compiled rule category.
type Category struct {
	Name       string
	Enabled    bool
	Severity   models.Severity
	Confidence float64
	Patterns   []Pattern
	targets    map[models.FieldKind]bool
}

// Applies reports whether the category scans fields of the given kind.
func (c *Category) Applies(kind models.FieldKind) bool {
	if len(c.targets) == 0 {
		return true
	}
	return c.targets[kind]
}

// RuleSet is the compiled, ordered pattern catalogue.
type RuleSet struct {
	categories []Category
}

// Compile validates and compiles category configurations. Every pattern is
// compiled case-insensitively. Disabled categories are validated as well so a
// broken pattern cannot hide behind a toggle.
func Compile(cfgs []CategoryConfig) (*RuleSet, error) {
	seen := make(map[string]bool, len(cfgs))
	rs := &RuleSet{categories: make([]Category, 0, len(cfgs))}

	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, services.ErrInvalidRuleSet.WithCause(errors.New("rule category name is required"))
		}
		if seen[cfg.Name] {
			return nil, services.ErrInvalidRuleSet.WithCause(fmt.Errorf("duplicate rule category %q", cfg.Name))
		}
		seen[cfg.Name] = true

		if !cfg.Severity.Valid() {
			return nil, services.ErrInvalidRuleSet.
				WithCause(fmt.Errorf("category %q has invalid severity", cfg.Name)).
				WithDetail("category", cfg.Name)
		}
		if cfg.Confidence < 0 || cfg.Confidence > 1 {
			return nil, services.ErrInvalidRuleSet.
				WithCause(fmt.Errorf("category %q confidence %v outside [0,1]", cfg.Name, cfg.Confidence)).
				WithDetail("category", cfg.Name)
		}

		cat := Category{
			Name:       cfg.Name,
			Enabled:    cfg.Enabled,
			Severity:   cfg.Severity,
			Confidence: cfg.Confidence,
			Patterns:   make([]Pattern, 0, len(cfg.Patterns)),
		}
		if len(cfg.Targets) > 0 {
			cat.targets = make(map[models.FieldKind]bool, len(cfg.Targets))
			for _, t := range cfg.Targets {
				cat.targets[t] = true
			}
		}

		for i, src := range cfg.Patterns {
			if src == "" {
				return nil, services.ErrInvalidPattern.
					WithCause(fmt.Errorf("category %q pattern %d is empty", cfg.Name, i)).
					WithDetail("category", cfg.Name).
					WithDetail("index", i)
			}
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				return nil, services.ErrInvalidPattern.
					WithCause(fmt.Errorf("category %q pattern %d: %w", cfg.Name, i, err)).
					WithDetail("category", cfg.Name).
					WithDetail("index", i)
			}
			cat.Patterns = append(cat.Patterns, Pattern{
				ID:     fmt.Sprintf("%s:%d", cfg.Name, i),
				Source: src,
				re:     re,
			})
		}

		rs.categories = append(rs.categories, cat)
	}

	return rs, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(cfgs []CategoryConfig) *RuleSet {
	rs, err := Compile(cfgs)
	if err != nil {
		panic(err)
	}
	return rs
}

// Categories returns a copy of the compiled categories in configured order.
func (rs *RuleSet) Categories() []Category {
	out := make([]Category, len(rs.categories))
	copy(out, rs.categories)
	return out
}

// Category looks up a compiled category by name.
func (rs *RuleSet) Category(name string) (Category, bool) {
	for _, c := range rs.categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// PatternCount returns the number of compiled patterns across enabled categories.
func (rs *RuleSet) PatternCount() int {
	n := 0
	for _, c := range rs.categories {
		if c.Enabled {
			n += len(c.Patterns)
		}
	}
	return n
}
