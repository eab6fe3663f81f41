package rules

import (
	"errors"
	"fmt"
	"os"

	"github.com/upb/waf-gateway/models"
	"github.com/upb/waf-gateway/services"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a rules catalogue.
//
//	categories:
//	  - name: xss
//	    enabled: true
//	    severity: HIGH
//	    confidence: 0.9
//	    targets: [header, query, body]
//	    patterns:
//	      - '<script.*?>'
type File struct {
	Categories []FileCategory `yaml:"categories"`
}

// FileCategory is one category entry in a rules file.
type FileCategory struct {
	Name       string   `yaml:"name"`
	Enabled    *bool    `yaml:"enabled"`
	Severity   string   `yaml:"severity"`
	Confidence float64  `yaml:"confidence"`
	Targets    []string `yaml:"targets"`
	Patterns   []string `yaml:"patterns"`
}

// LoadFile reads and parses a rules file into category configurations. The
// result still has to go through Compile.
func LoadFile(path string) ([]CategoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.WrapConfiguration(fmt.Sprintf("failed to read rules file %s", path), err)
	}
	return Parse(data)
}

// Parse decodes a YAML rules document.
func Parse(data []byte) ([]CategoryConfig, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, services.WrapConfiguration("failed to parse rules file", err)
	}
	if len(f.Categories) == 0 {
		return nil, services.ErrInvalidRuleSet.WithCause(errors.New("rules file defines no categories"))
	}

	cfgs := make([]CategoryConfig, 0, len(f.Categories))
	for _, fc := range f.Categories {
		sev, err := models.ParseSeverity(fc.Severity)
		if err != nil {
			return nil, services.WrapConfiguration(fmt.Sprintf("category %q", fc.Name), err)
		}

		targets := make([]models.FieldKind, 0, len(fc.Targets))
		for _, t := range fc.Targets {
			kind := models.FieldKind(t)
			switch kind {
			case models.FieldHeader, models.FieldQuery, models.FieldBody:
				targets = append(targets, kind)
			default:
				return nil, services.ErrInvalidRuleSet.
					WithCause(fmt.Errorf("category %q has unknown target %q", fc.Name, t))
			}
		}

		enabled := true
		if fc.Enabled != nil {
			enabled = *fc.Enabled
		}

		cfgs = append(cfgs, CategoryConfig{
			Name:       fc.Name,
			Enabled:    enabled,
			Severity:   sev,
			Confidence: fc.Confidence,
			Targets:    targets,
			Patterns:   fc.Patterns,
		})
	}

	return cfgs, nil
}
