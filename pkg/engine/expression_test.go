package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

func testEvent(data map[string]any) models.Event {
	return models.NewEvent("evt_1", "trade.closed", "btc_usdt",
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), data)
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want bool
	}{
		{"comparison true", "profit > 100", map[string]any{"profit": 150.0}, true},
		{"comparison false", "profit > 100", map[string]any{"profit": 50.0}, false},
		{"boolean operators", "profit < 0 && abs(profit) > 10", map[string]any{"profit": -25.0}, true},
		{"function abs", "abs(profit_rate) >= 0.05", map[string]any{"profit_rate": -0.08}, true},
		{"event_type bound", `event_type == "trade.closed"`, nil, true},
		{"context_key bound", `context_key == "btc_usdt"`, nil, true},
		{"nested data flattened", "metrics_cpu > 0.9", map[string]any{"metrics": map[string]any{"cpu": 0.95}}, true},
		{"leaf name bound", "cpu > 0.9", map[string]any{"metrics": map[string]any{"cpu": 0.95}}, true},
		{"min max", "max(a, b) == 7.0", map[string]any{"a": 3.0, "b": 7.0}, true},
		{"sum over list", "sum(profits) < -100", map[string]any{"profits": []any{-60.0, -50.0}}, true},
		{"len of string", `len(symbol) == 3`, map[string]any{"symbol": "BTC"}, true},
		{"numeric truthiness", "profit", map[string]any{"profit": 1.0}, true},
		{"zero is falsy", "profit", map[string]any{"profit": 0.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := BuildEnv(testEvent(tt.data))
			got, err := e.Evaluate(tt.expr, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	e := NewEvaluator()
	env := BuildEnv(testEvent(map[string]any{"profit": 1.0}))

	t.Run("syntax error", func(t *testing.T) {
		_, err := e.Evaluate("profit >", env)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid expression")
	})

	t.Run("unknown function rejected", func(t *testing.T) {
		_, err := e.Evaluate(`exec("rm -rf /")`, env)
		assert.Error(t, err)
	})

	t.Run("missing variable", func(t *testing.T) {
		_, err := e.Evaluate("nonexistent > 5", env)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	e := NewEvaluator()
	assert.NoError(t, e.Validate("profit > 100"))
	assert.Error(t, e.Validate("profit >"))
}

func TestProgramCacheReuse(t *testing.T) {
	e := NewEvaluator()
	env := BuildEnv(testEvent(map[string]any{"profit": 150.0}))

	for n := 0; n < 3; n++ {
		got, err := e.Evaluate("profit > 100", env)
		require.NoError(t, err)
		assert.True(t, got)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.programs, 1)
}
