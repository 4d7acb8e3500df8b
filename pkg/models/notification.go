package models

import (
	"math"
	"time"
)

// NotificationTask is one queued notification. Serialized as JSON on the
// Redis notification list.
type NotificationTask struct {
	TaskID     string         `json:"task_id"`
	RuleID     string         `json:"rule_id"`
	ContextKey string         `json:"context_key"`
	Targets    []NotifyTarget `json:"targets"`
	Message    string         `json:"message"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
	RetryAfter *time.Time     `json:"retry_after,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ShouldRetry reports whether the task is still within its retry budget.
func (t *NotificationTask) ShouldRetry(maxRetry int) bool {
	return t.RetryCount < maxRetry
}

// RetryDelay computes the exponential backoff for the current retry count.
func (t *NotificationTask) RetryDelay(base time.Duration) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(t.RetryCount)))
}
