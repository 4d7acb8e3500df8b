package llm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

func tradeEntries(base time.Time, profits ...float64) []models.ContextEntry {
	entries := make([]models.ContextEntry, 0, len(profits))
	for i, profit := range profits {
		entries = append(entries, models.ContextEntry{
			EventID:   fmt.Sprintf("evt_%d", i),
			EventType: "trade.closed",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Data:      map[string]any{"symbol": "BTC/USDT", "profit": profit},
		})
	}
	return entries
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, "No historical events in context window.", Summarize(nil))
}

func TestSummarizeDeterministic(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	entries := tradeEntries(base, -50, -30, 20, -10)

	first := Summarize(entries)
	for n := 0; n < 5; n++ {
		assert.Equal(t, first, Summarize(entries), "identical input yields identical bytes")
	}

	// Input order does not matter: entries sort by timestamp.
	reversed := make([]models.ContextEntry, len(entries))
	for i, entry := range entries {
		reversed[len(entries)-1-i] = entry
	}
	assert.Equal(t, first, Summarize(reversed))
}

func TestSummarizeContent(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	summary := Summarize(tradeEntries(base, -50, -30, 20))

	assert.Contains(t, summary, "Event Type: trade.closed")
	assert.Contains(t, summary, "Total Events: 3")
	assert.Contains(t, summary, "03:00:00 - 03:02:00")
	assert.Contains(t, summary, "Total profit: -60.00")
	assert.Contains(t, summary, "Win/Loss: 1/2")
	assert.Contains(t, summary, "BTC/USDT -50.00")
}

func TestSummarizeRecentEventsBounded(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	profits := make([]float64, 25)
	for i := range profits {
		profits[i] = float64(i)
	}
	summary := Summarize(tradeEntries(base, profits...))

	assert.Contains(t, summary, "Total Events: 25")
	assert.NotContains(t, summary, "11. [", "listing stops at ten entries")
	// The most recent entry appears; the oldest does not.
	assert.Contains(t, summary, "+24.00")
	assert.NotContains(t, summary, "+5.00")
}

func TestSummarizePriceStatistics(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	entries := []models.ContextEntry{
		{EventType: "price.tick", Timestamp: base, Data: map[string]any{"price": 100.0}},
		{EventType: "price.tick", Timestamp: base.Add(time.Minute), Data: map[string]any{"price": 110.0}},
	}
	summary := Summarize(entries)
	assert.Contains(t, summary, "Price change: +10.00%")
}
