package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

type flushRecorder struct {
	calls   int
	ruleID  string
	key     string
	batched int
}

func (r *flushRecorder) flush(_ context.Context, rule *models.Rule, contextKey string, batch []models.ContextEntry) {
	r.calls++
	r.ruleID = rule.RuleID
	r.key = contextKey
	r.batched = len(batch)
}

func TestSweeperFlushesExpiredBatch(t *testing.T) {
	rdb, _ := newTestRedis(t)
	keys := storage.NewKeys("trigger:")
	modeStore := NewModeStore(rdb, keys)
	ruleStore := storage.NewRuleStore(rdb, keys)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	rule := batchRule(10, 60)
	rule.Name = "batch rule"
	rule.EventTypes = []string{"trade.closed"}
	require.NoError(t, ruleStore.Create(ctx, rule))

	_, err := modeStore.AddToBatch(ctx, rule.RuleID, "btc_usdt", modeEvent("evt_0", base), 60*time.Second)
	require.NoError(t, err)
	_, err = modeStore.AddToBatch(ctx, rule.RuleID, "btc_usdt", modeEvent("evt_1", base.Add(time.Second)), 60*time.Second)
	require.NoError(t, err)

	recorder := &flushRecorder{}
	sweeper := NewSweeper(rdb, keys, modeStore, ruleStore, recorder.flush, time.Second)

	t.Run("young batch is left alone", func(t *testing.T) {
		sweeper.now = func() time.Time { return base.Add(30 * time.Second) }
		sweeper.Sweep(ctx)
		assert.Zero(t, recorder.calls)
	})

	t.Run("expired batch flushes once", func(t *testing.T) {
		sweeper.now = func() time.Time { return base.Add(90 * time.Second) }
		sweeper.Sweep(ctx)
		require.Equal(t, 1, recorder.calls)
		assert.Equal(t, rule.RuleID, recorder.ruleID)
		assert.Equal(t, "btc_usdt", recorder.key)
		assert.Equal(t, 2, recorder.batched)

		batch, err := modeStore.Batch(ctx, rule.RuleID, "btc_usdt")
		require.NoError(t, err)
		assert.Empty(t, batch, "flushed batch is cleared")

		// A second sweep finds nothing.
		sweeper.Sweep(ctx)
		assert.Equal(t, 1, recorder.calls)
	})
}

func TestSweeperDropsStaleBatches(t *testing.T) {
	rdb, _ := newTestRedis(t)
	keys := storage.NewKeys("trigger:")
	modeStore := NewModeStore(rdb, keys)
	ruleStore := storage.NewRuleStore(rdb, keys)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	// A batch whose rule no longer exists.
	_, err := modeStore.AddToBatch(ctx, "rule_gone", "btc_usdt", modeEvent("evt_0", base), 60*time.Second)
	require.NoError(t, err)

	// A batch whose rule switched to realtime.
	realtime := realtimeRule(0.7)
	realtime.RuleID = "rule_realtime"
	realtime.Name = "realtime rule"
	realtime.EventTypes = []string{"trade.closed"}
	require.NoError(t, ruleStore.Create(ctx, realtime))
	_, err = modeStore.AddToBatch(ctx, "rule_realtime", "btc_usdt", modeEvent("evt_1", base), 60*time.Second)
	require.NoError(t, err)

	recorder := &flushRecorder{}
	sweeper := NewSweeper(rdb, keys, modeStore, ruleStore, recorder.flush, time.Second)
	sweeper.now = func() time.Time { return base.Add(5 * time.Minute) }
	sweeper.Sweep(ctx)

	assert.Zero(t, recorder.calls)
	gone, err := modeStore.Batch(ctx, "rule_gone", "btc_usdt")
	require.NoError(t, err)
	assert.Empty(t, gone)
	stale, err := modeStore.Batch(ctx, "rule_realtime", "btc_usdt")
	require.NoError(t, err)
	assert.Empty(t, stale)
}
