package engine

import (
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// TraditionalEngine evaluates predicate-driven rules: the rule's
// pre_filter expression is run against the event-derived environment.
type TraditionalEngine struct {
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewTraditionalEngine creates the traditional engine.
func NewTraditionalEngine(evaluator *Evaluator) *TraditionalEngine {
	return &TraditionalEngine{
		evaluator: evaluator,
		logger:    slog.Default().With("component", "traditional-engine"),
	}
}

// Evaluate runs the rule's pre-filter against the event. Expression
// failures are not retried: they yield a non-trigger with the error in
// the reason.
func (e *TraditionalEngine) Evaluate(event models.Event, rule *models.Rule) models.EvaluationResult {
	preFilter := rule.RuleConfig.PreFilter
	if preFilter == nil {
		e.logger.Warn("Traditional rule missing pre_filter", "rule_id", rule.RuleID)
		return models.NoTrigger("Missing pre_filter configuration")
	}

	env := BuildEnv(event)
	result, err := e.evaluator.Evaluate(preFilter.Expression, env)
	if err != nil {
		e.logger.Error("Expression evaluation failed",
			"rule_id", rule.RuleID,
			"expression", preFilter.Expression,
			"error", err)
		return models.NoTrigger(fmt.Sprintf("Expression evaluation error: %v", err))
	}

	if result {
		return models.Confident(true, 1.0,
			fmt.Sprintf("Expression %q evaluated to true", preFilter.Expression))
	}
	return models.NoTrigger(fmt.Sprintf("Expression %q evaluated to false", preFilter.Expression))
}
