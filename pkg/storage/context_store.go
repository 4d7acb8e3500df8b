package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// ContextStore maintains the rolling context window: a time-ordered
// sorted set of entries per context key, scored by timestamp in
// milliseconds. Membership is bounded both by age (window duration) and
// by count (keeping the most recent).
type ContextStore struct {
	rdb       *redis.Client
	keys      Keys
	window    time.Duration
	maxEvents int
	now       func() time.Time
	logger    *slog.Logger
}

// NewContextStore creates a context store with the given bounds.
func NewContextStore(rdb *redis.Client, keys Keys, window time.Duration, maxEvents int) *ContextStore {
	return &ContextStore{
		rdb:       rdb,
		keys:      keys,
		window:    window,
		maxEvents: maxEvents,
		now:       time.Now,
		logger:    slog.Default().With("component", "context-store"),
	}
}

// Add appends the event to its context window, trims entries outside the
// bounds, and refreshes the window's TTL to window + 60s.
func (s *ContextStore) Add(ctx context.Context, event models.Event) error {
	key := s.keys.Context(event.ContextKey)
	entry, err := models.MarshalEntry(event.ToContextEntry())
	if err != nil {
		return err
	}
	score := float64(event.Timestamp.UnixMilli())
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: entry}).Err(); err != nil {
		return fmt.Errorf("append context %s: %w", event.ContextKey, err)
	}
	if err := s.trim(ctx, key); err != nil {
		return err
	}
	ttl := s.window + 60*time.Second
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("refresh context ttl %s: %w", event.ContextKey, err)
	}
	return nil
}

// Get returns the entries of a window in chronological order, limited to
// the most recent `limit` when limit > 0.
func (s *ContextStore) Get(ctx context.Context, contextKey string, limit int) ([]models.ContextEntry, error) {
	key := s.keys.Context(contextKey)
	raw, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(s.cutoffMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read context %s: %w", contextKey, err)
	}

	entries := make([]models.ContextEntry, 0, len(raw))
	for _, item := range raw {
		entry, err := models.UnmarshalEntry(item)
		if err != nil {
			s.logger.Warn("Skipping malformed context entry", "context_key", contextKey, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Count returns the number of in-window entries for a context key.
func (s *ContextStore) Count(ctx context.Context, contextKey string) (int64, error) {
	key := s.keys.Context(contextKey)
	n, err := s.rdb.ZCount(ctx, key, strconv.FormatInt(s.cutoffMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count context %s: %w", contextKey, err)
	}
	return n, nil
}

// Clear removes a context window entirely.
func (s *ContextStore) Clear(ctx context.Context, contextKey string) error {
	if err := s.rdb.Del(ctx, s.keys.Context(contextKey)).Err(); err != nil {
		return fmt.Errorf("clear context %s: %w", contextKey, err)
	}
	return nil
}

// trim drops entries older than the window and, when over the count
// bound, the oldest surplus entries.
func (s *ContextStore) trim(ctx context.Context, key string) error {
	if err := s.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(s.cutoffMilli()-1, 10)).Err(); err != nil {
		return fmt.Errorf("trim context by age: %w", err)
	}
	count, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count context: %w", err)
	}
	if count > int64(s.maxEvents) {
		if err := s.rdb.ZRemRangeByRank(ctx, key, 0, count-int64(s.maxEvents)-1).Err(); err != nil {
			return fmt.Errorf("trim context by count: %w", err)
		}
	}
	return nil
}

func (s *ContextStore) cutoffMilli() int64 {
	return s.now().Add(-s.window).UnixMilli()
}
