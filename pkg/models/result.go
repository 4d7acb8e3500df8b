package models

// EvaluationResult is the outcome of evaluating one (event, rule) pair.
// Confidence is nil when the engine does not produce one (e.g. a
// traditional rule that did not fire).
type EvaluationResult struct {
	ShouldTrigger bool     `json:"should_trigger"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Reason        string   `json:"reason"`
}

// Confident is a convenience constructor for a result with a confidence.
func Confident(trigger bool, confidence float64, reason string) EvaluationResult {
	return EvaluationResult{ShouldTrigger: trigger, Confidence: &confidence, Reason: reason}
}

// NoTrigger builds a negative result with no confidence attached.
func NoTrigger(reason string) EvaluationResult {
	return EvaluationResult{ShouldTrigger: false, Reason: reason}
}
