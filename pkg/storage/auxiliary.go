package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// idempotencyTTL bounds the dedup window. Duplicates arriving more than
// an hour apart are processed again; this is a deliberate trade-off.
const idempotencyTTL = time.Hour

// IdempotencyStore deduplicates consumed event IDs.
type IdempotencyStore struct {
	rdb  *redis.Client
	keys Keys
}

// NewIdempotencyStore creates an idempotency store.
func NewIdempotencyStore(rdb *redis.Client, keys Keys) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, keys: keys}
}

// MarkProcessed records the event ID with a one-hour TTL. Returns true
// iff the ID was newly inserted; the caller proceeds only on true.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.Processed(eventID), "1", idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark processed %s: %w", eventID, err)
	}
	return ok, nil
}

// IsProcessed reports whether the event ID was seen within the window.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keys.Processed(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check processed %s: %w", eventID, err)
	}
	return n > 0, nil
}

// llmCacheTTL is the default lifetime of a cached LLM decision.
const llmCacheTTL = 60 * time.Second

// CachedDecision is the stored form of an LLM decision.
type CachedDecision struct {
	ShouldTrigger bool    `json:"should_trigger"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

// LLMCacheStore caches LLM decisions keyed by rule and context hash.
type LLMCacheStore struct {
	rdb  *redis.Client
	keys Keys
	ttl  time.Duration
}

// NewLLMCacheStore creates an LLM result cache with the default TTL.
func NewLLMCacheStore(rdb *redis.Client, keys Keys) *LLMCacheStore {
	return &LLMCacheStore{rdb: rdb, keys: keys, ttl: llmCacheTTL}
}

// Get returns the cached decision or (nil, nil) on a miss.
func (s *LLMCacheStore) Get(ctx context.Context, ruleID, hash string) (*CachedDecision, error) {
	data, err := s.rdb.Get(ctx, s.keys.LLMCache(ruleID, hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read llm cache %s: %w", ruleID, err)
	}
	var decision CachedDecision
	if err := json.Unmarshal([]byte(data), &decision); err != nil {
		return nil, fmt.Errorf("decode llm cache %s: %w", ruleID, err)
	}
	return &decision, nil
}

// Set stores a decision under the rule and context hash.
func (s *LLMCacheStore) Set(ctx context.Context, ruleID, hash string, decision CachedDecision) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode llm cache %s: %w", ruleID, err)
	}
	if err := s.rdb.SetEx(ctx, s.keys.LLMCache(ruleID, hash), string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("write llm cache %s: %w", ruleID, err)
	}
	return nil
}

// NotificationQueue is the Redis-list backed task queue plus its
// dead-letter companion.
type NotificationQueue struct {
	rdb  *redis.Client
	keys Keys
}

// NewNotificationQueue creates the notification queue accessor.
func NewNotificationQueue(rdb *redis.Client, keys Keys) *NotificationQueue {
	return &NotificationQueue{rdb: rdb, keys: keys}
}

// Enqueue pushes a task onto the pending queue.
func (q *NotificationQueue) Enqueue(ctx context.Context, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.TaskID, err)
	}
	if err := q.rdb.LPush(ctx, q.keys.NotifyQueue(), string(data)).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.TaskID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. Returns (nil, nil)
// when the queue stays empty.
func (q *NotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.NotificationTask, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.keys.NotifyQueue()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue notification: %w", err)
	}
	// BRPOP returns [key, value].
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode notification task: %w", err)
	}
	return &task, nil
}

// Requeue pushes a failed task back with an incremented retry count.
// The retry delay is recorded on the task; tasks re-enqueue at the tail
// rather than being held back.
func (q *NotificationQueue) Requeue(ctx context.Context, task *models.NotificationTask) error {
	task.RetryCount++
	now := time.Now().UTC()
	task.RetryAfter = &now
	return q.Enqueue(ctx, task)
}

// MoveToDeadLetter pushes a task onto the terminal dead-letter list.
func (q *NotificationQueue) MoveToDeadLetter(ctx context.Context, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.TaskID, err)
	}
	if err := q.rdb.LPush(ctx, q.keys.NotifyDeadLetter(), string(data)).Err(); err != nil {
		return fmt.Errorf("dead-letter task %s: %w", task.TaskID, err)
	}
	return nil
}

// Len returns the pending queue length.
func (q *NotificationQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.keys.NotifyQueue()).Result()
	if err != nil {
		return 0, fmt.Errorf("notification queue length: %w", err)
	}
	return n, nil
}

// DedupStore implements the per-rule-per-context cooldown flag.
type DedupStore struct {
	rdb  *redis.Client
	keys Keys
}

// NewDedupStore creates the cooldown store.
func NewDedupStore(rdb *redis.Client, keys Keys) *DedupStore {
	return &DedupStore{rdb: rdb, keys: keys}
}

// ShouldSend sets the cooldown flag if absent. Returns true iff the flag
// was newly set, i.e. the pair is not in cooldown. A zero cooldown
// disables the check.
func (s *DedupStore) ShouldSend(ctx context.Context, ruleID, contextKey string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	ok, err := s.rdb.SetNX(ctx, s.keys.NotifyDedup(ruleID, contextKey), "1", cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check %s/%s: %w", ruleID, contextKey, err)
	}
	return ok, nil
}

// rateBucketTTL keeps minute buckets around slightly past their minute.
const rateBucketTTL = 120 * time.Second

// RateCounter implements the per-rule per-minute notification quota.
type RateCounter struct {
	rdb  *redis.Client
	keys Keys
	now  func() time.Time
}

// NewRateCounter creates the rate counter.
func NewRateCounter(rdb *redis.Client, keys Keys) *RateCounter {
	return &RateCounter{rdb: rdb, keys: keys, now: time.Now}
}

// Allow increments the current minute bucket and reports whether the
// post-increment count stays within maxPerMinute.
func (c *RateCounter) Allow(ctx context.Context, ruleID string, maxPerMinute int) (bool, error) {
	minute := c.now().UTC().Format("200601021504")
	key := c.keys.NotifyRate(ruleID, minute)
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate counter %s: %w", ruleID, err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, rateBucketTTL).Err(); err != nil {
			return false, fmt.Errorf("rate counter ttl %s: %w", ruleID, err)
		}
	}
	return count <= int64(maxPerMinute), nil
}
