package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

// RuleUpdate is a rule mutation broadcast on the update channel.
type RuleUpdate struct {
	Action    string `json:"action"`
	RuleID    string `json:"rule_id"`
	Timestamp int64  `json:"timestamp"`
}

// RuleStore provides CRUD over rules plus the all-rules and
// per-event-type indexes. Mutations bump the global version counter and
// publish a RuleUpdate so other instances can invalidate local caches.
type RuleStore struct {
	rdb    *redis.Client
	keys   Keys
	logger *slog.Logger
}

// NewRuleStore creates a rule store over the shared Redis client.
func NewRuleStore(rdb *redis.Client, keys Keys) *RuleStore {
	return &RuleStore{
		rdb:    rdb,
		keys:   keys,
		logger: slog.Default().With("component", "rule-store"),
	}
}

// Create persists a new rule and indexes it under its event types.
func (s *RuleStore) Create(ctx context.Context, rule *models.Rule) error {
	if err := s.writeDetail(ctx, rule); err != nil {
		return err
	}
	if err := s.rdb.SAdd(ctx, s.keys.RuleAll(), rule.RuleID).Err(); err != nil {
		return fmt.Errorf("index rule %s: %w", rule.RuleID, err)
	}
	for _, eventType := range rule.EventTypes {
		if err := s.rdb.SAdd(ctx, s.keys.RuleIndex(eventType), rule.RuleID).Err(); err != nil {
			return fmt.Errorf("index rule %s under %s: %w", rule.RuleID, eventType, err)
		}
	}
	return s.publishUpdate(ctx, "create", rule.RuleID)
}

// Get loads a rule by ID. Returns ErrNotFound when absent.
func (s *RuleStore) Get(ctx context.Context, ruleID string) (*models.Rule, error) {
	data, err := s.rdb.HGet(ctx, s.keys.RuleDetail(ruleID), "config").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	var rule models.Rule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return nil, fmt.Errorf("decode rule %s: %w", ruleID, err)
	}
	return &rule, nil
}

// Update replaces an existing rule, bumping its version and reconciling
// the event-type indexes.
func (s *RuleStore) Update(ctx context.Context, ruleID string, rule *models.Rule) error {
	existing, err := s.Get(ctx, ruleID)
	if err != nil {
		return err
	}

	rule.RuleID = ruleID
	rule.Metadata.CreatedAt = existing.Metadata.CreatedAt
	rule.Metadata.UpdatedAt = time.Now().UTC()
	rule.Metadata.Version = existing.Metadata.Version + 1

	oldTypes := toSet(existing.EventTypes)
	newTypes := toSet(rule.EventTypes)
	for t := range oldTypes {
		if !newTypes[t] {
			if err := s.rdb.SRem(ctx, s.keys.RuleIndex(t), ruleID).Err(); err != nil {
				return fmt.Errorf("deindex rule %s from %s: %w", ruleID, t, err)
			}
		}
	}
	for t := range newTypes {
		if !oldTypes[t] {
			if err := s.rdb.SAdd(ctx, s.keys.RuleIndex(t), ruleID).Err(); err != nil {
				return fmt.Errorf("index rule %s under %s: %w", ruleID, t, err)
			}
		}
	}

	if err := s.writeDetail(ctx, rule); err != nil {
		return err
	}
	return s.publishUpdate(ctx, "update", ruleID)
}

// Delete removes a rule and all its index entries.
func (s *RuleStore) Delete(ctx context.Context, ruleID string) error {
	existing, err := s.Get(ctx, ruleID)
	if err != nil {
		return err
	}
	for _, eventType := range existing.EventTypes {
		if err := s.rdb.SRem(ctx, s.keys.RuleIndex(eventType), ruleID).Err(); err != nil {
			return fmt.Errorf("deindex rule %s from %s: %w", ruleID, eventType, err)
		}
	}
	if err := s.rdb.SRem(ctx, s.keys.RuleAll(), ruleID).Err(); err != nil {
		return fmt.Errorf("deindex rule %s: %w", ruleID, err)
	}
	if err := s.rdb.Del(ctx, s.keys.RuleDetail(ruleID)).Err(); err != nil {
		return fmt.Errorf("delete rule %s: %w", ruleID, err)
	}
	return s.publishUpdate(ctx, "delete", ruleID)
}

// SetEnabled flips a rule's enabled flag.
func (s *RuleStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	rule, err := s.Get(ctx, ruleID)
	if err != nil {
		return err
	}
	rule.Enabled = enabled
	rule.Metadata.UpdatedAt = time.Now().UTC()
	rule.Metadata.Version++
	if err := s.writeDetail(ctx, rule); err != nil {
		return err
	}
	return s.publishUpdate(ctx, "update", ruleID)
}

// ListAll returns every stored rule.
func (s *RuleStore) ListAll(ctx context.Context) ([]*models.Rule, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.RuleAll()).Result()
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return s.loadAll(ctx, ids, false)
}

// ListByEventType returns the enabled rules subscribed to an event type,
// sorted by descending priority.
func (s *RuleStore) ListByEventType(ctx context.Context, eventType string) ([]*models.Rule, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.RuleIndex(eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", eventType, err)
	}
	rules, err := s.loadAll(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	models.SortByPriority(rules)
	return rules, nil
}

// Version returns the global rules version counter.
func (s *RuleStore) Version(ctx context.Context) (int64, error) {
	val, err := s.rdb.Get(ctx, s.keys.RuleVersion()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load rules version: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rules version %q: %w", val, err)
	}
	return n, nil
}

// Subscribe returns a channel of rule mutations. The subscription ends
// when ctx is cancelled.
func (s *RuleStore) Subscribe(ctx context.Context) <-chan RuleUpdate {
	out := make(chan RuleUpdate, 16)
	pubsub := s.rdb.Subscribe(ctx, s.keys.RuleUpdateChannel())
	go func() {
		defer close(out)
		defer func() {
			if err := pubsub.Close(); err != nil {
				s.logger.Warn("Failed to close rule update subscription", "error", err)
			}
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update RuleUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					s.logger.Warn("Malformed rule update message", "payload", msg.Payload, "error", err)
					continue
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (s *RuleStore) writeDetail(ctx context.Context, rule *models.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule %s: %w", rule.RuleID, err)
	}
	fields := map[string]any{
		"config":     string(data),
		"enabled":    strconv.FormatBool(rule.Enabled),
		"version":    strconv.FormatInt(rule.Metadata.Version, 10),
		"created_at": strconv.FormatInt(rule.Metadata.CreatedAt.UnixMilli(), 10),
		"updated_at": strconv.FormatInt(rule.Metadata.UpdatedAt.UnixMilli(), 10),
	}
	if err := s.rdb.HSet(ctx, s.keys.RuleDetail(rule.RuleID), fields).Err(); err != nil {
		return fmt.Errorf("store rule %s: %w", rule.RuleID, err)
	}
	return nil
}

func (s *RuleStore) loadAll(ctx context.Context, ids []string, enabledOnly bool) ([]*models.Rule, error) {
	rules := make([]*models.Rule, 0, len(ids))
	for _, id := range ids {
		rule, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived the detail hash; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		if enabledOnly && !rule.Enabled {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *RuleStore) publishUpdate(ctx context.Context, action, ruleID string) error {
	if err := s.rdb.Incr(ctx, s.keys.RuleVersion()).Err(); err != nil {
		return fmt.Errorf("bump rules version: %w", err)
	}
	msg, err := json.Marshal(RuleUpdate{
		Action:    action,
		RuleID:    ruleID,
		Timestamp: time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode rule update: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.keys.RuleUpdateChannel(), string(msg)).Err(); err != nil {
		return fmt.Errorf("publish rule update: %w", err)
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
