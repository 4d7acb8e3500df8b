package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// DecisionClient is the model call made by the engine. *Client satisfies
// it; tests substitute a fake.
type DecisionClient interface {
	Decide(ctx context.Context, systemPrompt, userPrompt string) (Decision, error)
}

// Engine evaluates an (event, rule) pair through the model: it
// summarizes the context window, consults the decision cache, calls the
// model, applies the rule's confidence threshold, and caches the result.
type Engine struct {
	client   DecisionClient
	cache    *storage.LLMCacheStore
	contexts *storage.ContextStore
	logger   *slog.Logger
}

// NewEngine creates the LLM engine.
func NewEngine(client DecisionClient, cache *storage.LLMCacheStore, contexts *storage.ContextStore) *Engine {
	return &Engine{
		client:   client,
		cache:    cache,
		contexts: contexts,
		logger:   slog.Default().With("component", "llm-engine"),
	}
}

// Evaluate runs one LLM evaluation. A non-empty batch (from batch
// trigger mode) is summarized instead of the stored context window, so
// the model sees exactly the accumulated events. Transport, timeout, and
// parse failures all yield a safe non-trigger; repeat attempts happen
// only through future events.
func (e *Engine) Evaluate(ctx context.Context, event models.Event, rule *models.Rule, batch []models.ContextEntry) models.EvaluationResult {
	llmConfig := rule.RuleConfig.LLM
	if llmConfig == nil {
		return models.NoTrigger("Missing LLM configuration")
	}

	start := time.Now()

	entries := batch
	if len(entries) == 0 {
		var err error
		entries, err = e.contexts.Get(ctx, event.ContextKey, 0)
		if err != nil {
			e.logger.Error("Failed to load context window", "rule_id", rule.RuleID, "error", err)
			// Proceed with an empty context rather than dropping the evaluation.
			entries = nil
		}
	}
	contextSummary := Summarize(entries)

	cacheKey := computeCacheKey(rule.RuleID, contextSummary, event)
	if cached, err := e.cache.Get(ctx, rule.RuleID, cacheKey); err != nil {
		e.logger.Warn("LLM cache read failed", "rule_id", rule.RuleID, "error", err)
	} else if cached != nil {
		e.logger.Debug("LLM cache hit", "rule_id", rule.RuleID)
		return models.Confident(cached.ShouldTrigger, cached.Confidence, cached.Reason+" (cached)")
	}

	eventData, err := json.Marshal(event.Data)
	if err != nil {
		return models.NoTrigger(fmt.Sprintf("Cannot encode event data: %v", err))
	}
	system, user := BuildPrompt(
		llmConfig.Description,
		contextSummary,
		event.EventType,
		event.Timestamp.UTC().Format(time.RFC3339),
		string(eventData),
	)

	decision, err := e.client.Decide(ctx, system, user)
	if err != nil {
		e.logger.Error("LLM call failed", "rule_id", rule.RuleID, "error", err)
		return models.NoTrigger(fmt.Sprintf("LLM service error: %v", err))
	}

	e.logger.Info("LLM evaluation complete",
		"rule_id", rule.RuleID,
		"should_trigger", decision.ShouldTrigger,
		"confidence", decision.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds())

	if decision.ShouldTrigger && decision.Confidence < llmConfig.ConfidenceThreshold {
		decision = Decision{
			ShouldTrigger: false,
			Confidence:    decision.Confidence,
			Reason: fmt.Sprintf("Confidence %.2f below threshold %g",
				decision.Confidence, llmConfig.ConfidenceThreshold),
		}
	}

	if err := e.cache.Set(ctx, rule.RuleID, cacheKey, storage.CachedDecision{
		ShouldTrigger: decision.ShouldTrigger,
		Confidence:    decision.Confidence,
		Reason:        decision.Reason,
	}); err != nil {
		e.logger.Warn("LLM cache write failed", "rule_id", rule.RuleID, "error", err)
	}

	return models.Confident(decision.ShouldTrigger, decision.Confidence, decision.Reason)
}

// computeCacheKey hashes the evaluation inputs; identical context and
// event data within the cache TTL reuse the prior decision.
func computeCacheKey(ruleID, contextSummary string, event models.Event) string {
	data, _ := json.Marshal(event.Data)
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%s:%s", ruleID, contextSummary, event.EventType, data))
	return hex.EncodeToString(sum[:])[:16]
}
