package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Decision is the parsed outcome of one model call.
type Decision struct {
	ShouldTrigger bool
	Confidence    float64
	Reason        string
}

var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// ParseDecision extracts the decision JSON object from a raw model
// response. Malformed or missing JSON never fails the evaluation: the
// result is a safe non-trigger with a fallback reason.
func ParseDecision(response string) Decision {
	match := jsonObjectPattern.FindString(response)
	if match == "" {
		slog.Warn("No JSON found in LLM response", "response", head(response, 200))
		return fallbackDecision("No JSON found in response")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(match), &payload); err != nil {
		slog.Warn("JSON parse error in LLM response", "error", err)
		return fallbackDecision(fmt.Sprintf("JSON parse error: %v", err))
	}

	decision := Decision{Reason: "No reason provided"}
	switch v := payload["should_trigger"].(type) {
	case bool:
		decision.ShouldTrigger = v
	case string:
		decision.ShouldTrigger = strings.EqualFold(v, "true")
	}
	switch v := payload["confidence"].(type) {
	case float64:
		decision.Confidence = v
	case string:
		fmt.Sscanf(v, "%f", &decision.Confidence)
	}
	if reason, ok := payload["reason"].(string); ok && reason != "" {
		decision.Reason = reason
	}

	decision.Confidence = clamp01(decision.Confidence)
	return decision
}

func fallbackDecision(reason string) Decision {
	return Decision{
		ShouldTrigger: false,
		Confidence:    0,
		Reason:        "Fallback decision: " + reason,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
