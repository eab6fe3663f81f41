// Package rules holds the compiled pattern catalogue and the engine that scans
// request fields against it.
//
// A RuleSet is immutable once compiled. Reconfiguration builds a new RuleSet
// and swaps it in whole; nothing mutates a RuleSet while a scan may be using it.
package rules
