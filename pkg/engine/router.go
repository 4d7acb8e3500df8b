package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tripwire/pkg/llm"
	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// ModeManager is the trigger-mode state machine consulted before any LLM
// call. *llm.ModeManager satisfies it; tests substitute a fake.
type ModeManager interface {
	ShouldTrigger(ctx context.Context, event models.Event, rule *models.Rule) (llm.TriggerResult, error)
	MarkAnalyzed(ctx context.Context, rule *models.Rule, contextKey string) error
}

// LLMEvaluator runs one model-backed evaluation. *llm.Engine satisfies
// it; tests substitute a fake that records calls.
type LLMEvaluator interface {
	Evaluate(ctx context.Context, event models.Event, rule *models.Rule, batch []models.ContextEntry) models.EvaluationResult
}

// Router dispatches an (event, rule) pair to the engine the rule's type
// selects: traditional rules run the expression engine only, llm rules
// go through trigger-mode gating and the model, hybrid rules run the
// pre-filter as a cheap gate before the model.
type Router struct {
	traditional *TraditionalEngine
	llm         LLMEvaluator
	modes       ModeManager
	logger      *slog.Logger
}

// NewRouter creates the evaluation router.
func NewRouter(traditional *TraditionalEngine, llmEngine LLMEvaluator, modes ModeManager) *Router {
	return &Router{
		traditional: traditional,
		llm:         llmEngine,
		modes:       modes,
		logger:      slog.Default().With("component", "engine-router"),
	}
}

// Evaluate routes one evaluation. It never returns an error: every
// failure mode collapses to a non-trigger with the cause in the reason,
// so one broken rule cannot take down event processing.
func (r *Router) Evaluate(ctx context.Context, event models.Event, rule *models.Rule) models.EvaluationResult {
	switch rule.RuleConfig.RuleType {
	case models.RuleTypeTraditional:
		return r.traditional.Evaluate(event, rule)
	case models.RuleTypeLLM:
		return r.evaluateLLM(ctx, event, rule, "")
	case models.RuleTypeHybrid:
		return r.evaluateHybrid(ctx, event, rule)
	default:
		r.logger.Warn("Unknown rule type", "rule_id", rule.RuleID, "rule_type", rule.RuleConfig.RuleType)
		return models.NoTrigger(fmt.Sprintf("Unknown rule type %q", rule.RuleConfig.RuleType))
	}
}

// evaluateLLM runs the trigger-mode check and, when it fires, the model.
// reasonPrefix carries hybrid provenance into the final reason.
func (r *Router) evaluateLLM(ctx context.Context, event models.Event, rule *models.Rule, reasonPrefix string) models.EvaluationResult {
	check, err := r.modes.ShouldTrigger(ctx, event, rule)
	if err != nil {
		r.logger.Error("Trigger mode check failed", "rule_id", rule.RuleID, "error", err)
		return models.NoTrigger(fmt.Sprintf("Trigger mode error: %v", err))
	}
	if check.Decision != llm.DecisionTrigger {
		return models.NoTrigger(reasonPrefix + check.Reason)
	}

	result := r.llm.Evaluate(ctx, event, rule, check.Batch)
	if err := r.modes.MarkAnalyzed(ctx, rule, event.ContextKey); err != nil {
		r.logger.Error("Failed to mark rule analyzed", "rule_id", rule.RuleID, "error", err)
	}
	result.Reason = reasonPrefix + "LLM: " + result.Reason
	return result
}

// evaluateHybrid runs the pre-filter as a gate: a false or failing
// pre-filter short-circuits without any model call, so the expensive
// path only runs on pre-screened events.
func (r *Router) evaluateHybrid(ctx context.Context, event models.Event, rule *models.Rule) models.EvaluationResult {
	preResult := r.traditional.Evaluate(event, rule)
	if !preResult.ShouldTrigger {
		return models.NoTrigger("Pre-filter: " + preResult.Reason)
	}
	return r.evaluateLLM(ctx, event, rule, "Pre-filter passed, ")
}
