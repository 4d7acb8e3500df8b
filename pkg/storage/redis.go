// Package storage wraps the shared Redis key-value store with typed
// accessors for each logical namespace: rules, context windows,
// idempotency flags, the LLM result cache, the notification queue, and
// the rate/dedup counters.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 20
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Keys builds namespaced key names. All keys share a configurable prefix
// so multiple deployments can share one Redis.
type Keys struct {
	prefix string
}

// NewKeys creates a key builder with the given prefix (e.g. "trigger:").
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// RuleDetail is the hash holding one rule's config and metadata.
func (k Keys) RuleDetail(ruleID string) string {
	return k.prefix + "rules:detail:" + ruleID
}

// RuleIndex is the set of rule IDs subscribed to an event type.
func (k Keys) RuleIndex(eventType string) string {
	return k.prefix + "rules:index:" + eventType
}

// RuleAll is the set of all rule IDs.
func (k Keys) RuleAll() string { return k.prefix + "rules:all" }

// RuleVersion is the global monotonic rules version counter.
func (k Keys) RuleVersion() string { return k.prefix + "rules:version" }

// RuleUpdateChannel is the pub/sub channel for rule mutations.
func (k Keys) RuleUpdateChannel() string { return k.prefix + "rules:update" }

// Context is the sorted set of context entries for a context key,
// scored by timestamp in milliseconds.
func (k Keys) Context(contextKey string) string {
	return k.prefix + "context:" + contextKey
}

// Processed is the idempotency TTL flag for a consumed event.
func (k Keys) Processed(eventID string) string {
	return k.prefix + "processed:" + eventID
}

// LLMCache is one cached LLM decision.
func (k Keys) LLMCache(ruleID, hash string) string {
	return k.prefix + "llm_cache:" + ruleID + ":" + hash
}

// NotifyQueue is the pending notification task list.
func (k Keys) NotifyQueue() string { return k.prefix + "notify:queue" }

// NotifyDeadLetter is the terminal list for exhausted tasks.
func (k Keys) NotifyDeadLetter() string { return k.prefix + "notify:dead_letter" }

// NotifyDedup is the per-rule-per-context cooldown flag.
func (k Keys) NotifyDedup(ruleID, contextKey string) string {
	return k.prefix + "notify:dedup:" + ruleID + ":" + contextKey
}

// NotifyRate is the per-rule per-minute-bucket counter.
func (k Keys) NotifyRate(ruleID, minute string) string {
	return k.prefix + "notify:rate:" + ruleID + ":" + minute
}

// TriggerBatch is the accumulated event list of a batch-mode rule.
func (k Keys) TriggerBatch(ruleID, contextKey string) string {
	return k.prefix + "trigger:mode:batch:" + ruleID + ":" + contextKey
}

// TriggerBatchPattern matches all batch lists; used by the sweeper.
func (k Keys) TriggerBatchPattern() string {
	return k.prefix + "trigger:mode:batch:*"
}

// TriggerBatchPrefix is the fixed prefix of batch list keys.
func (k Keys) TriggerBatchPrefix() string {
	return k.prefix + "trigger:mode:batch:"
}

// TriggerLast is the last-analysis timestamp of an LLM rule.
func (k Keys) TriggerLast(ruleID, contextKey string) string {
	return k.prefix + "trigger:mode:last:" + ruleID + ":" + contextKey
}

// TriggerIntervalLock is the advisory interval lock of an interval rule.
func (k Keys) TriggerIntervalLock(ruleID string) string {
	return k.prefix + "trigger:mode:interval_lock:" + ruleID
}

// TriggerFlushLock is the advisory lock taken while flushing an expired
// batch, preventing double flushes across replicas.
func (k Keys) TriggerFlushLock(ruleID, contextKey string) string {
	return k.prefix + "trigger:mode:flush_lock:" + ruleID + ":" + contextKey
}
