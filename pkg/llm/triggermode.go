package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// TriggerDecision is the outcome of a trigger-mode check.
type TriggerDecision string

// Trigger decisions.
const (
	// DecisionTrigger means the LLM evaluation runs now.
	DecisionTrigger TriggerDecision = "trigger"
	// DecisionSkip means the event is dropped from the LLM path.
	DecisionSkip TriggerDecision = "skip"
	// DecisionPending means the event joined a batch awaiting more.
	DecisionPending TriggerDecision = "pending"
)

// TriggerResult is the decision plus, in batch mode, the accumulated
// events to forward to the model.
type TriggerResult struct {
	Decision TriggerDecision
	Reason   string
	Batch    []models.ContextEntry
}

// lastAnalysisTTL bounds how long a last-analysis timestamp is kept.
const lastAnalysisTTL = time.Hour

// ModeStore holds trigger-mode scheduling state in the shared store:
// batch lists, last-analysis timestamps, and interval locks.
type ModeStore struct {
	rdb  *redis.Client
	keys storage.Keys
}

// NewModeStore creates the trigger-mode state store.
func NewModeStore(rdb *redis.Client, keys storage.Keys) *ModeStore {
	return &ModeStore{rdb: rdb, keys: keys}
}

// AddToBatch appends the event to the rule's batch list and returns the
// new batch length. The list's TTL is set on first insert to
// maxWait + 10s so abandoned batches expire on their own.
func (s *ModeStore) AddToBatch(ctx context.Context, ruleID, contextKey string, event models.Event, maxWait time.Duration) (int64, error) {
	key := s.keys.TriggerBatch(ruleID, contextKey)
	entry, err := models.MarshalEntry(event.ToContextEntry())
	if err != nil {
		return 0, err
	}
	n, err := s.rdb.RPush(ctx, key, entry).Result()
	if err != nil {
		return 0, fmt.Errorf("append batch %s/%s: %w", ruleID, contextKey, err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, key, maxWait+10*time.Second).Err(); err != nil {
			return 0, fmt.Errorf("batch ttl %s/%s: %w", ruleID, contextKey, err)
		}
	}
	return n, nil
}

// Batch returns the accumulated batch entries in insertion order.
func (s *ModeStore) Batch(ctx context.Context, ruleID, contextKey string) ([]models.ContextEntry, error) {
	raw, err := s.rdb.LRange(ctx, s.keys.TriggerBatch(ruleID, contextKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read batch %s/%s: %w", ruleID, contextKey, err)
	}
	entries := make([]models.ContextEntry, 0, len(raw))
	for _, item := range raw {
		entry, err := models.UnmarshalEntry(item)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ClearBatch deletes the batch list after it was analyzed.
func (s *ModeStore) ClearBatch(ctx context.Context, ruleID, contextKey string) error {
	if err := s.rdb.Del(ctx, s.keys.TriggerBatch(ruleID, contextKey)).Err(); err != nil {
		return fmt.Errorf("clear batch %s/%s: %w", ruleID, contextKey, err)
	}
	return nil
}

// BatchFirstTimestamp returns the timestamp of the oldest batched entry,
// or the zero time when the batch is empty. Entry timestamps are
// accepted as epoch seconds or RFC 3339, UTC assumed when naive.
func (s *ModeStore) BatchFirstTimestamp(ctx context.Context, ruleID, contextKey string) (time.Time, error) {
	first, err := s.rdb.LIndex(ctx, s.keys.TriggerBatch(ruleID, contextKey), 0).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read batch head %s/%s: %w", ruleID, contextKey, err)
	}
	entry, err := models.UnmarshalEntry(first)
	if err != nil {
		return time.Time{}, nil
	}
	return entry.Timestamp, nil
}

// SetLastAnalysis records when the rule/context pair was last analyzed.
func (s *ModeStore) SetLastAnalysis(ctx context.Context, ruleID, contextKey string, at time.Time) error {
	val := strconv.FormatFloat(float64(at.UnixMilli())/1000, 'f', 3, 64)
	if err := s.rdb.SetEx(ctx, s.keys.TriggerLast(ruleID, contextKey), val, lastAnalysisTTL).Err(); err != nil {
		return fmt.Errorf("record last analysis %s/%s: %w", ruleID, contextKey, err)
	}
	return nil
}

// LastAnalysis returns the recorded last-analysis time, or the zero time
// when the pair was never analyzed within the TTL.
func (s *ModeStore) LastAnalysis(ctx context.Context, ruleID, contextKey string) (time.Time, error) {
	val, err := s.rdb.Get(ctx, s.keys.TriggerLast(ruleID, contextKey)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last analysis %s/%s: %w", ruleID, contextKey, err)
	}
	epoch, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(int64(epoch * 1000)).UTC(), nil
}

// TryAcquireIntervalLock takes the advisory interval lock: set-if-absent
// with TTL equal to the poll interval, ensuring at most one analysis per
// interval across workers.
func (s *ModeStore) TryAcquireIntervalLock(ctx context.Context, ruleID string, interval time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.TriggerIntervalLock(ruleID),
		strconv.FormatInt(time.Now().Unix(), 10), interval).Result()
	if err != nil {
		return false, fmt.Errorf("interval lock %s: %w", ruleID, err)
	}
	return ok, nil
}

// TryAcquireFlushLock takes the advisory lock guarding a batch-timeout
// flush so concurrent sweepers do not flush the same batch twice.
func (s *ModeStore) TryAcquireFlushLock(ctx context.Context, ruleID, contextKey string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.TriggerFlushLock(ruleID, contextKey), "1", 30*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("flush lock %s/%s: %w", ruleID, contextKey, err)
	}
	return ok, nil
}

// ModeManager is the per-rule-per-context scheduling state machine for
// LLM evaluations: realtime always triggers, batch accumulates until
// size or age thresholds, interval polls under an advisory lock.
type ModeManager struct {
	store  *ModeStore
	now    func() time.Time
	logger *slog.Logger
}

// NewModeManager creates the trigger-mode manager.
func NewModeManager(store *ModeStore) *ModeManager {
	return &ModeManager{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "trigger-mode"),
	}
}

// ShouldTrigger decides whether this event leads to an LLM evaluation.
func (m *ModeManager) ShouldTrigger(ctx context.Context, event models.Event, rule *models.Rule) (TriggerResult, error) {
	llmConfig := rule.RuleConfig.LLM
	if llmConfig == nil {
		return TriggerResult{Decision: DecisionSkip, Reason: "No LLM config"}, nil
	}

	switch llmConfig.TriggerMode {
	case models.TriggerModeRealtime:
		return TriggerResult{Decision: DecisionTrigger, Reason: "Realtime mode: analyze every event"}, nil
	case models.TriggerModeBatch:
		return m.checkBatch(ctx, event, rule, llmConfig)
	case models.TriggerModeInterval:
		return m.checkInterval(ctx, event, rule, llmConfig)
	default:
		m.logger.Warn("Unknown trigger mode", "mode", llmConfig.TriggerMode, "rule_id", rule.RuleID)
		return TriggerResult{
			Decision: DecisionTrigger,
			Reason:   fmt.Sprintf("Unknown mode %q, falling back to realtime", llmConfig.TriggerMode),
		}, nil
	}
}

// MarkAnalyzed records a completed LLM evaluation: it stamps the
// last-analysis time and, in batch mode, drops the analyzed batch.
func (m *ModeManager) MarkAnalyzed(ctx context.Context, rule *models.Rule, contextKey string) error {
	llmConfig := rule.RuleConfig.LLM
	if llmConfig == nil {
		return nil
	}
	if err := m.store.SetLastAnalysis(ctx, rule.RuleID, contextKey, m.now()); err != nil {
		return err
	}
	if llmConfig.TriggerMode == models.TriggerModeBatch {
		return m.store.ClearBatch(ctx, rule.RuleID, contextKey)
	}
	return nil
}

func (m *ModeManager) checkBatch(ctx context.Context, event models.Event, rule *models.Rule, cfg *models.LLMConfig) (TriggerResult, error) {
	maxWait := time.Duration(cfg.MaxWaitSeconds) * time.Second
	size, err := m.store.AddToBatch(ctx, rule.RuleID, event.ContextKey, event, maxWait)
	if err != nil {
		return TriggerResult{}, err
	}

	if size >= int64(cfg.BatchSize) {
		batch, err := m.store.Batch(ctx, rule.RuleID, event.ContextKey)
		if err != nil {
			return TriggerResult{}, err
		}
		return TriggerResult{
			Decision: DecisionTrigger,
			Reason:   fmt.Sprintf("Batch full: %d/%d events", size, cfg.BatchSize),
			Batch:    batch,
		}, nil
	}

	// Timeouts also fire lazily here, on the next event for the same
	// key; the sweeper covers silent windows.
	first, err := m.store.BatchFirstTimestamp(ctx, rule.RuleID, event.ContextKey)
	if err != nil {
		return TriggerResult{}, err
	}
	if !first.IsZero() {
		if elapsed := m.now().Sub(first); elapsed >= maxWait {
			batch, err := m.store.Batch(ctx, rule.RuleID, event.ContextKey)
			if err != nil {
				return TriggerResult{}, err
			}
			return TriggerResult{
				Decision: DecisionTrigger,
				Reason:   fmt.Sprintf("Batch timeout: %.1fs >= %ds", elapsed.Seconds(), cfg.MaxWaitSeconds),
				Batch:    batch,
			}, nil
		}
	}

	return TriggerResult{
		Decision: DecisionPending,
		Reason:   fmt.Sprintf("Batch pending: %d/%d events", size, cfg.BatchSize),
	}, nil
}

func (m *ModeManager) checkInterval(ctx context.Context, event models.Event, rule *models.Rule, cfg *models.LLMConfig) (TriggerResult, error) {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second

	last, err := m.store.LastAnalysis(ctx, rule.RuleID, event.ContextKey)
	if err != nil {
		return TriggerResult{}, err
	}
	if !last.IsZero() {
		if elapsed := m.now().Sub(last); elapsed < interval {
			return TriggerResult{
				Decision: DecisionSkip,
				Reason:   fmt.Sprintf("Interval not reached: %.1fs < %ds", elapsed.Seconds(), cfg.IntervalSeconds),
			}, nil
		}
	}

	ok, err := m.store.TryAcquireIntervalLock(ctx, rule.RuleID, interval)
	if err != nil {
		return TriggerResult{}, err
	}
	if ok {
		return TriggerResult{
			Decision: DecisionTrigger,
			Reason:   fmt.Sprintf("Interval reached: analyzing at %ds interval", cfg.IntervalSeconds),
		}, nil
	}
	return TriggerResult{Decision: DecisionSkip, Reason: "Interval analysis already in progress"}, nil
}
