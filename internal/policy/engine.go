package policy

import "github.com/upb/waf-gateway/models"

// Decide applies the blocking cascade to matches. An allow decision carries
// an empty reason; the matches are still worth logging by the caller.
func Decide(matches []models.RuleMatch) Decision {
	var critical, high int
	var confident bool

	for _, m := range matches {
		switch m.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityHigh:
			high++
		}
		if m.Confidence >= HighConfidenceThreshold {
			confident = true
		}
	}

	switch {
	case critical > 0:
		return Decision{Block: true, Reason: ReasonCritical}
	case high >= 2:
		return Decision{Block: true, Reason: ReasonMultipleHigh}
	case confident:
		return Decision{Block: true, Reason: ReasonHighConfidence}
	}
	return Decision{}
}
