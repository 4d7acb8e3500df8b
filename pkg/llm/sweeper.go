package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// FlushFunc receives a timed-out batch for evaluation. The batch is
// already removed from the store when the callback runs.
type FlushFunc func(ctx context.Context, rule *models.Rule, contextKey string, batch []models.ContextEntry)

// Sweeper periodically scans batch-mode lists and flushes the ones whose
// oldest entry exceeded the rule's max wait. Without it, a batch whose
// context key goes silent would only flush on the next event (or expire
// with its TTL, unanalyzed).
type Sweeper struct {
	rdb      *redis.Client
	keys     storage.Keys
	store    *ModeStore
	rules    *storage.RuleStore
	flush    FlushFunc
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates the batch sweeper.
func NewSweeper(rdb *redis.Client, keys storage.Keys, store *ModeStore, rules *storage.RuleStore, flush FlushFunc, interval time.Duration) *Sweeper {
	return &Sweeper{
		rdb:      rdb,
		keys:     keys,
		store:    store,
		rules:    rules,
		flush:    flush,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("component", "batch-sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("Batch sweeper started", "interval", s.interval)
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Batch sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all batch lists. Exported so tests can drive
// it without the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, s.keys.TriggerBatchPattern(), 100).Iterator()
	for iter.Next(ctx) {
		s.sweepKey(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Batch scan failed", "error", err)
	}
}

func (s *Sweeper) sweepKey(ctx context.Context, key string) {
	ruleID, contextKey, ok := s.splitBatchKey(key)
	if !ok {
		return
	}

	rule, err := s.rules.Get(ctx, ruleID)
	if errors.Is(err, storage.ErrNotFound) {
		// Rule deleted while a batch was pending.
		s.rdb.Del(ctx, key)
		return
	}
	if err != nil {
		s.logger.Error("Failed to load rule for batch", "rule_id", ruleID, "error", err)
		return
	}
	llmConfig := rule.RuleConfig.LLM
	if llmConfig == nil || llmConfig.TriggerMode != models.TriggerModeBatch {
		// Rule reconfigured away from batch mode; the list is stale.
		s.rdb.Del(ctx, key)
		return
	}

	first, err := s.store.BatchFirstTimestamp(ctx, ruleID, contextKey)
	if err != nil || first.IsZero() {
		return
	}
	maxWait := time.Duration(llmConfig.MaxWaitSeconds) * time.Second
	elapsed := s.now().Sub(first)
	if elapsed < maxWait {
		return
	}

	locked, err := s.store.TryAcquireFlushLock(ctx, ruleID, contextKey)
	if err != nil || !locked {
		return
	}

	// Re-read under the lock; another replica may have flushed already.
	batch, err := s.store.Batch(ctx, ruleID, contextKey)
	if err != nil || len(batch) == 0 {
		return
	}
	if err := s.store.ClearBatch(ctx, ruleID, contextKey); err != nil {
		s.logger.Error("Failed to clear batch", "rule_id", ruleID, "context_key", contextKey, "error", err)
		return
	}

	s.logger.Info("Flushing timed-out batch",
		"rule_id", ruleID,
		"context_key", contextKey,
		"size", len(batch),
		"elapsed", elapsed.Round(time.Second))
	s.flush(ctx, rule, contextKey, batch)
}

// splitBatchKey recovers (rule ID, context key) from a batch list key.
// Rule IDs never contain colons; context keys may.
func (s *Sweeper) splitBatchKey(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, s.keys.TriggerBatchPrefix())
	if !ok {
		return "", "", false
	}
	ruleID, contextKey, ok := strings.Cut(rest, ":")
	if !ok {
		return "", "", false
	}
	return ruleID, contextKey, true
}
