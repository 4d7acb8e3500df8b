package notification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func notifyRule(maxPerMinute, cooldownSeconds int) *models.Rule {
	return &models.Rule{
		RuleID: "rule_1",
		Name:   "high loss alert",
		NotifyPolicy: models.NotifyPolicy{
			Targets:   []models.NotifyTarget{{Type: models.TargetTelegram, ChatID: "42"}},
			RateLimit: models.RateLimit{MaxPerMinute: maxPerMinute, CooldownSeconds: cooldownSeconds},
		},
	}
}

func notifyEvent() models.Event {
	return models.NewEvent("evt_1", "trade.closed", "btc_usdt",
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		map[string]any{"profit": -120.5, "symbol": "BTC/USDT"})
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.NotificationQueue) {
	t.Helper()
	rdb, _ := newTestRedis(t)
	keys := storage.NewKeys("trigger:")
	queue := storage.NewNotificationQueue(rdb, keys)
	limiter := NewLimiter(storage.NewDedupStore(rdb, keys), storage.NewRateCounter(rdb, keys), models.DefaultRateLimit())
	return NewDispatcher(limiter, queue), queue
}

func TestDispatchEnqueuesTask(t *testing.T) {
	dispatcher, queue := newTestDispatcher(t)
	ctx := context.Background()
	result := models.Confident(true, 0.85, "losing streak detected")

	require.NoError(t, dispatcher.Dispatch(ctx, notifyEvent(), notifyRule(5, 60), result))

	task, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "rule_1", task.RuleID)
	assert.Equal(t, "btc_usdt", task.ContextKey)
	assert.Len(t, task.TaskID, len("notify_")+12)
	require.Len(t, task.Targets, 1)
	assert.Contains(t, task.Message, "high loss alert")
	assert.Equal(t, "evt_1", task.Metadata["event_id"])
	assert.Equal(t, 0.85, task.Metadata["confidence"])
}

func TestDispatchCooldownSuppresses(t *testing.T) {
	dispatcher, queue := newTestDispatcher(t)
	ctx := context.Background()
	result := models.Confident(true, 0.9, "streak")
	rule := notifyRule(10, 60)

	require.NoError(t, dispatcher.Dispatch(ctx, notifyEvent(), rule, result))
	require.NoError(t, dispatcher.Dispatch(ctx, notifyEvent(), rule, result))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "second dispatch lands in cooldown")
}

func TestDispatchRateLimit(t *testing.T) {
	dispatcher, queue := newTestDispatcher(t)
	ctx := context.Background()
	result := models.Confident(true, 0.9, "streak")
	// No cooldown so only the per-minute quota applies.
	rule := notifyRule(2, 0)

	for n := 0; n < 4; n++ {
		require.NoError(t, dispatcher.Dispatch(ctx, notifyEvent(), rule, result))
	}

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "quota caps deliveries per minute")
}

func TestRenderMessage(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := models.Confident(true, 0.85, "losing streak detected")
	rule := notifyRule(5, 60)
	event := notifyEvent()

	message := RenderMessage(event, rule, result, at)
	assert.Contains(t, message, "Rule Triggered: high loss alert")
	assert.Contains(t, message, "Time: 2026-01-02 03:04:05 UTC")
	assert.Contains(t, message, "Event Type: trade.closed")
	assert.Contains(t, message, "Reason: losing streak detected")
	assert.Contains(t, message, "Confidence: 85%")
	assert.Contains(t, message, "- profit: -120.5")
	assert.Contains(t, message, "- symbol: BTC/USDT")

	assert.Equal(t, message, RenderMessage(event, rule, result, at), "rendering is deterministic")
}

func TestRenderMessageBoundsDataFields(t *testing.T) {
	event := notifyEvent()
	event.Data = map[string]any{
		"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6, "g": 7,
	}
	message := RenderMessage(event, notifyRule(5, 60), models.NoTrigger("x"), time.Now().UTC())
	assert.Contains(t, message, "- e: 5")
	assert.NotContains(t, message, "- f: 6", "only the first five keys are listed")
}
