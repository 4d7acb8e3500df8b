package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tripwire/pkg/llm"
	"github.com/codeready-toolchain/tripwire/pkg/models"
)

type fakeLLM struct {
	calls  int
	result models.EvaluationResult
	batch  []models.ContextEntry
}

func (f *fakeLLM) Evaluate(_ context.Context, _ models.Event, _ *models.Rule, batch []models.ContextEntry) models.EvaluationResult {
	f.calls++
	f.batch = batch
	return f.result
}

type fakeModes struct {
	result       llm.TriggerResult
	markAnalyzed int
}

func (f *fakeModes) ShouldTrigger(_ context.Context, _ models.Event, _ *models.Rule) (llm.TriggerResult, error) {
	return f.result, nil
}

func (f *fakeModes) MarkAnalyzed(_ context.Context, _ *models.Rule, _ string) error {
	f.markAnalyzed++
	return nil
}

func llmRule() *models.Rule {
	return &models.Rule{
		RuleID: "rule_llm",
		RuleConfig: models.RuleConfig{
			RuleType: models.RuleTypeLLM,
			LLM: &models.LLMConfig{
				Description:         "watch for anomalies",
				TriggerMode:         models.TriggerModeRealtime,
				BatchSize:           5,
				MaxWaitSeconds:      60,
				IntervalSeconds:     300,
				ConfidenceThreshold: 0.7,
			},
		},
	}
}

func hybridRule(expression string) *models.Rule {
	rule := llmRule()
	rule.RuleID = "rule_hybrid"
	rule.RuleConfig.RuleType = models.RuleTypeHybrid
	rule.RuleConfig.PreFilter = &models.PreFilter{Type: "expression", Expression: expression}
	return rule
}

func TestRouterTraditional(t *testing.T) {
	fake := &fakeLLM{}
	router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, &fakeModes{})

	event := testEvent(map[string]any{"profit": 150.0})
	result := router.Evaluate(context.Background(), event, traditionalRule("profit > 100"))
	assert.True(t, result.ShouldTrigger)
	assert.Zero(t, fake.calls, "traditional rules never reach the model")
}

func TestRouterLLM(t *testing.T) {
	t.Run("trigger runs the model and marks analyzed", func(t *testing.T) {
		fake := &fakeLLM{result: models.Confident(true, 0.9, "losing streak detected")}
		modes := &fakeModes{result: llm.TriggerResult{Decision: llm.DecisionTrigger, Reason: "Realtime mode"}}
		router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, modes)

		result := router.Evaluate(context.Background(), testEvent(nil), llmRule())
		assert.True(t, result.ShouldTrigger)
		assert.Equal(t, "LLM: losing streak detected", result.Reason)
		assert.Equal(t, 1, fake.calls)
		assert.Equal(t, 1, modes.markAnalyzed)
	})

	t.Run("pending skips the model", func(t *testing.T) {
		fake := &fakeLLM{}
		modes := &fakeModes{result: llm.TriggerResult{Decision: llm.DecisionPending, Reason: "Batch pending: 2/5 events"}}
		router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, modes)

		result := router.Evaluate(context.Background(), testEvent(nil), llmRule())
		assert.False(t, result.ShouldTrigger)
		assert.Equal(t, "Batch pending: 2/5 events", result.Reason)
		assert.Zero(t, fake.calls)
		assert.Zero(t, modes.markAnalyzed)
	})

	t.Run("batch is forwarded to the model", func(t *testing.T) {
		batch := []models.ContextEntry{{EventID: "evt_1"}, {EventID: "evt_2"}}
		fake := &fakeLLM{result: models.Confident(false, 0.2, "nothing unusual")}
		modes := &fakeModes{result: llm.TriggerResult{Decision: llm.DecisionTrigger, Reason: "Batch full", Batch: batch}}
		router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, modes)

		router.Evaluate(context.Background(), testEvent(nil), llmRule())
		require.Len(t, fake.batch, 2)
	})
}

func TestRouterHybrid(t *testing.T) {
	t.Run("failing pre-filter short-circuits", func(t *testing.T) {
		fake := &fakeLLM{}
		modes := &fakeModes{result: llm.TriggerResult{Decision: llm.DecisionTrigger}}
		router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, modes)

		event := testEvent(map[string]any{"profit": 50.0})
		result := router.Evaluate(context.Background(), event, hybridRule("profit > 100"))
		assert.False(t, result.ShouldTrigger)
		assert.Contains(t, result.Reason, "Pre-filter:")
		assert.Zero(t, fake.calls, "no model call on a failed pre-filter")
	})

	t.Run("passing pre-filter defers to the model", func(t *testing.T) {
		fake := &fakeLLM{result: models.Confident(true, 0.85, "trend confirmed")}
		modes := &fakeModes{result: llm.TriggerResult{Decision: llm.DecisionTrigger, Reason: "Realtime mode"}}
		router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, modes)

		event := testEvent(map[string]any{"profit": 150.0})
		result := router.Evaluate(context.Background(), event, hybridRule("profit > 100"))
		assert.True(t, result.ShouldTrigger)
		assert.Equal(t, "Pre-filter passed, LLM: trend confirmed", result.Reason)
		assert.Equal(t, 1, fake.calls)
	})

	t.Run("model veto wins over pre-filter", func(t *testing.T) {
		fake := &fakeLLM{result: models.Confident(false, 0.3, "no sustained trend")}
		modes := &fakeModes{result: llm.TriggerResult{Decision: llm.DecisionTrigger, Reason: "Realtime mode"}}
		router := NewRouter(NewTraditionalEngine(NewEvaluator()), fake, modes)

		event := testEvent(map[string]any{"profit": 150.0})
		result := router.Evaluate(context.Background(), event, hybridRule("profit > 100"))
		assert.False(t, result.ShouldTrigger)
	})
}

func TestRouterUnknownRuleType(t *testing.T) {
	router := NewRouter(NewTraditionalEngine(NewEvaluator()), &fakeLLM{}, &fakeModes{})
	rule := &models.Rule{RuleID: "rule_x", RuleConfig: models.RuleConfig{RuleType: "fuzzy"}}

	result := router.Evaluate(context.Background(), testEvent(nil), rule)
	assert.False(t, result.ShouldTrigger)
	assert.Contains(t, result.Reason, "Unknown rule type")
}
