package policy

// Block reasons returned to the caller in the rejection body.
const (
	ReasonCritical       = "Critical security threat detected"
	ReasonMultipleHigh   = "Multiple high severity threats detected"
	ReasonHighConfidence = "High confidence security threat detected"
)

// HighConfidenceThreshold is the confidence at which a single match blocks.
const HighConfidenceThreshold = 0.9

// Decision is the outcome of evaluating a set of matches.
type Decision struct {
	Block  bool
	Reason string
}
