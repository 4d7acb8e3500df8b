package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

func contextEvent(id string, at time.Time, profit float64) models.Event {
	return models.NewEvent(id, "trade.closed", "btc_usdt", at,
		map[string]any{"profit": profit})
}

func TestContextStoreAddAndGet(t *testing.T) {
	rdb, _ := newTestRedis(t)
	store := NewContextStore(rdb, NewKeys("trigger:"), 5*time.Minute, 100)
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i-5) * time.Second)
		require.NoError(t, store.Add(ctx, contextEvent(fmt.Sprintf("evt_%d", i), at, float64(i))))
	}

	entries, err := store.Get(ctx, "btc_usdt", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp), "chronological order")
	}

	limited, err := store.Get(ctx, "btc_usdt", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "evt_4", limited[1].EventID, "limit keeps the most recent")

	count, err := store.Count(ctx, "btc_usdt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestContextStoreAgeBound(t *testing.T) {
	rdb, _ := newTestRedis(t)
	store := NewContextStore(rdb, NewKeys("trigger:"), 5*time.Minute, 100)
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, contextEvent("evt_old", base.Add(-10*time.Minute), 1)))
	require.NoError(t, store.Add(ctx, contextEvent("evt_new", base.Add(-time.Minute), 2)))

	entries, err := store.Get(ctx, "btc_usdt", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "entries older than the window are trimmed")
	assert.Equal(t, "evt_new", entries[0].EventID)
}

func TestContextStoreCountBound(t *testing.T) {
	rdb, _ := newTestRedis(t)
	store := NewContextStore(rdb, NewKeys("trigger:"), 5*time.Minute, 10)
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		at := base.Add(time.Duration(i-60) * time.Second)
		require.NoError(t, store.Add(ctx, contextEvent(fmt.Sprintf("evt_%02d", i), at, float64(i))))
	}

	entries, err := store.Get(ctx, "btc_usdt", 0)
	require.NoError(t, err)
	require.Len(t, entries, 10, "count bound keeps the most recent entries")
	assert.Equal(t, "evt_05", entries[0].EventID)
	assert.Equal(t, "evt_14", entries[9].EventID)
}

func TestContextStoreClear(t *testing.T) {
	rdb, _ := newTestRedis(t)
	store := NewContextStore(rdb, NewKeys("trigger:"), 5*time.Minute, 100)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, contextEvent("evt_1", time.Now().UTC(), 1)))
	require.NoError(t, store.Clear(ctx, "btc_usdt"))

	entries, err := store.Get(ctx, "btc_usdt", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
