package pipeline

import (
	"github.com/upb/waf-gateway/internal/rules"
	"github.com/upb/waf-gateway/services/whitelist"
)

// Snapshot is the immutable inspection configuration a request is checked
// against. It is replaced as a whole, never edited in place.
type Snapshot struct {
	Engine         *rules.Engine
	Whitelist      *whitelist.Filter
	AllowedMethods map[string]bool
}

// SnapshotConfig describes how to build a Snapshot
type SnapshotConfig struct {
	// RulesFile is a YAML catalogue. Empty uses the built-in categories.
	RulesFile string
	// Disabled names categories switched off regardless of the catalogue.
	Disabled       []string
	IPWhitelist    []string
	PathWhitelist  []string
	AllowedMethods []string
}

// BuildSnapshot loads and compiles the rule catalogue and assembles a
// Snapshot. Any invalid pattern fails the whole build.
func BuildSnapshot(cfg SnapshotConfig) (*Snapshot, error) {
	categories := rules.DefaultCategories()
	if cfg.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		categories = loaded
	}

	if len(cfg.Disabled) > 0 {
		toggles := make(map[string]bool, len(cfg.Disabled))
		for _, name := range cfg.Disabled {
			toggles[name] = false
		}
		categories = rules.ApplyToggles(categories, toggles)
	}

	rs, err := rules.Compile(categories)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Engine:         rules.NewEngine(rs),
		Whitelist:      whitelist.New(cfg.IPWhitelist, cfg.PathWhitelist),
		AllowedMethods: rules.MethodSet(cfg.AllowedMethods),
	}, nil
}
