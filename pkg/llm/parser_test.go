package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecision(t *testing.T) {
	t.Run("clean JSON", func(t *testing.T) {
		decision := ParseDecision(`{"should_trigger": true, "confidence": 0.85, "reason": "losing streak"}`)
		assert.True(t, decision.ShouldTrigger)
		assert.Equal(t, 0.85, decision.Confidence)
		assert.Equal(t, "losing streak", decision.Reason)
	})

	t.Run("JSON embedded in prose", func(t *testing.T) {
		response := "Based on my analysis:\n{\"should_trigger\": false, \"confidence\": 0.4, \"reason\": \"insufficient data\"}\nLet me know if you need more."
		decision := ParseDecision(response)
		assert.False(t, decision.ShouldTrigger)
		assert.Equal(t, 0.4, decision.Confidence)
	})

	t.Run("no JSON yields fallback", func(t *testing.T) {
		decision := ParseDecision("I think this should probably trigger.")
		assert.False(t, decision.ShouldTrigger)
		assert.Zero(t, decision.Confidence)
		assert.Contains(t, decision.Reason, "Fallback decision")
	})

	t.Run("malformed JSON yields fallback", func(t *testing.T) {
		decision := ParseDecision(`{"should_trigger": yes!}`)
		assert.False(t, decision.ShouldTrigger)
		assert.Contains(t, decision.Reason, "Fallback decision")
	})

	t.Run("string coercions", func(t *testing.T) {
		decision := ParseDecision(`{"should_trigger": "true", "confidence": "0.9"}`)
		assert.True(t, decision.ShouldTrigger)
		assert.Equal(t, 0.9, decision.Confidence)
		assert.Equal(t, "No reason provided", decision.Reason)
	})

	t.Run("confidence clamped to [0, 1]", func(t *testing.T) {
		high := ParseDecision(`{"should_trigger": true, "confidence": 1.7, "reason": "x"}`)
		assert.Equal(t, 1.0, high.Confidence)
		low := ParseDecision(`{"should_trigger": false, "confidence": -0.3, "reason": "x"}`)
		assert.Equal(t, 0.0, low.Confidence)
	})
}
