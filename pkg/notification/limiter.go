package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// Limiter combines the per-rule-per-context cooldown with the per-rule
// per-minute quota. Both live in the shared store, so the limits hold
// across instances.
type Limiter struct {
	dedup    *storage.DedupStore
	rate     *storage.RateCounter
	defaults models.RateLimit
}

// NewLimiter creates a notification limiter. The defaults apply to rules
// whose notify policy leaves the rate limit unset.
func NewLimiter(dedup *storage.DedupStore, rate *storage.RateCounter, defaults models.RateLimit) *Limiter {
	return &Limiter{dedup: dedup, rate: rate, defaults: defaults}
}

// Allow reports whether a notification for the rule/context pair may be
// sent now. A false return carries a human-readable reason. The cooldown
// flag and rate bucket are both consumed by the check, so callers must
// send after a true return.
func (l *Limiter) Allow(ctx context.Context, rule *models.Rule, contextKey string) (bool, string, error) {
	limits := rule.NotifyPolicy.RateLimit
	if limits.MaxPerMinute == 0 && limits.CooldownSeconds == 0 {
		limits = l.defaults
	}

	cooldown := time.Duration(limits.CooldownSeconds) * time.Second
	ok, err := l.dedup.ShouldSend(ctx, rule.RuleID, contextKey, cooldown)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, fmt.Sprintf("In cooldown period (%ds)", limits.CooldownSeconds), nil
	}

	ok, err = l.rate.Allow(ctx, rule.RuleID, limits.MaxPerMinute)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, fmt.Sprintf("Rate limit exceeded (%d/min)", limits.MaxPerMinute), nil
	}
	return true, "", nil
}
