// Package messaging consumes broker events and drives them through the
// evaluation pipeline: idempotency, context accumulation, rule matching,
// engine routing, and notification dispatch.
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tripwire/pkg/engine"
	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// Evaluator routes one (event, rule) pair. *engine.Router satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, event models.Event, rule *models.Rule) models.EvaluationResult
}

// Notifier turns positive evaluations into queued notifications.
// *notification.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, event models.Event, rule *models.Rule, result models.EvaluationResult) error
}

// Handler is the per-event pipeline. One failing rule never blocks the
// others: evaluation and dispatch errors are logged per rule and the
// event is still considered handled.
type Handler struct {
	idempotency *storage.IdempotencyStore
	contexts    *storage.ContextStore
	rules       *storage.RuleStore
	evaluator   Evaluator
	llm         engine.LLMEvaluator
	modes       engine.ModeManager
	notifier    Notifier
	logger      *slog.Logger
}

// NewHandler creates the event pipeline handler.
func NewHandler(
	idempotency *storage.IdempotencyStore,
	contexts *storage.ContextStore,
	rules *storage.RuleStore,
	evaluator Evaluator,
	llm engine.LLMEvaluator,
	modes engine.ModeManager,
	notifier Notifier,
) *Handler {
	return &Handler{
		idempotency: idempotency,
		contexts:    contexts,
		rules:       rules,
		evaluator:   evaluator,
		llm:         llm,
		modes:       modes,
		notifier:    notifier,
		logger:      slog.Default().With("component", "event-handler"),
	}
}

// Handle processes one event end to end. A nil return means the event
// may be acked; a non-nil return means infrastructure failed before the
// event took effect and redelivery is safe.
func (h *Handler) Handle(ctx context.Context, event models.Event) error {
	start := time.Now()

	fresh, err := h.idempotency.MarkProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if !fresh {
		h.logger.Debug("Duplicate event skipped", "event_id", event.EventID)
		return nil
	}

	if err := h.contexts.Add(ctx, event); err != nil {
		return err
	}

	rules, err := h.rules.ListByEventType(ctx, event.EventType)
	if err != nil {
		return err
	}

	matched := 0
	triggered := 0
	for _, rule := range rules {
		if !rule.MatchesContextKey(event.ContextKey) {
			continue
		}
		matched++

		result := h.evaluator.Evaluate(ctx, event, rule)
		if !result.ShouldTrigger {
			continue
		}
		triggered++
		h.logger.Info("Rule triggered",
			"rule_id", rule.RuleID,
			"event_id", event.EventID,
			"reason", result.Reason)

		if err := h.notifier.Dispatch(ctx, event, rule, result); err != nil {
			h.logger.Error("Notification dispatch failed",
				"rule_id", rule.RuleID,
				"event_id", event.EventID,
				"error", err)
		}
	}

	h.logger.Debug("Event handled",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"matched", matched,
		"triggered", triggered,
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// HandleBatchFlush evaluates a timed-out batch directly against the
// model, bypassing the trigger-mode gate the sweeper already cleared.
// The most recent batched event stands in as the current event.
func (h *Handler) HandleBatchFlush(ctx context.Context, rule *models.Rule, contextKey string, batch []models.ContextEntry) {
	if len(batch) == 0 {
		return
	}
	event := models.EventFromContextEntry(batch[len(batch)-1], contextKey)

	result := h.llm.Evaluate(ctx, event, rule, batch)
	if err := h.modes.MarkAnalyzed(ctx, rule, contextKey); err != nil {
		h.logger.Error("Failed to mark batch analyzed", "rule_id", rule.RuleID, "error", err)
	}
	if !result.ShouldTrigger {
		h.logger.Debug("Flushed batch did not trigger",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"reason", result.Reason)
		return
	}

	result.Reason = "LLM: " + result.Reason
	h.logger.Info("Rule triggered by batch flush",
		"rule_id", rule.RuleID,
		"context_key", contextKey,
		"batch_size", len(batch))
	if err := h.notifier.Dispatch(ctx, event, rule, result); err != nil {
		h.logger.Error("Notification dispatch failed",
			"rule_id", rule.RuleID,
			"context_key", contextKey,
			"error", err)
	}
}
