package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// maxMessageDataFields bounds the event data lines in a rendered message.
const maxMessageDataFields = 5

// Dispatcher turns a positive evaluation into a queued notification
// task, subject to the rule's rate limits.
type Dispatcher struct {
	limiter *Limiter
	queue   *storage.NotificationQueue
	now     func() time.Time
	logger  *slog.Logger
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(limiter *Limiter, queue *storage.NotificationQueue) *Dispatcher {
	return &Dispatcher{
		limiter: limiter,
		queue:   queue,
		now:     time.Now,
		logger:  slog.Default().With("component", "notify-dispatcher"),
	}
}

// Dispatch enqueues a notification for a triggered rule. Rate-limited
// notifications are dropped silently apart from a log line; the trigger
// decision itself already happened.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.Event, rule *models.Rule, result models.EvaluationResult) error {
	ok, reason, err := d.limiter.Allow(ctx, rule, event.ContextKey)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Info("Notification suppressed",
			"rule_id", rule.RuleID,
			"context_key", event.ContextKey,
			"reason", reason)
		return nil
	}

	task := &models.NotificationTask{
		TaskID:     "notify_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		RuleID:     rule.RuleID,
		ContextKey: event.ContextKey,
		Targets:    rule.NotifyPolicy.Targets,
		Message:    RenderMessage(event, rule, result, d.now().UTC()),
		CreatedAt:  d.now().UTC(),
		Metadata: map[string]any{
			"event_id":   event.EventID,
			"event_type": event.EventType,
			"reason":     result.Reason,
		},
	}
	if result.Confidence != nil {
		task.Metadata["confidence"] = *result.Confidence
	}

	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("dispatch notification for %s: %w", rule.RuleID, err)
	}
	d.logger.Info("Notification enqueued",
		"task_id", task.TaskID,
		"rule_id", rule.RuleID,
		"targets", len(task.Targets))
	return nil
}

// RenderMessage produces the notification text. Deterministic for
// identical inputs: data fields are listed in sorted key order.
func RenderMessage(event models.Event, rule *models.Rule, result models.EvaluationResult, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule Triggered: %s\n\n", rule.Name)
	fmt.Fprintf(&b, "Time: %s\n", at.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "Event Type: %s\n", event.EventType)
	fmt.Fprintf(&b, "Reason: %s\n", result.Reason)
	if result.Confidence != nil {
		fmt.Fprintf(&b, "Confidence: %.0f%%\n", *result.Confidence*100)
	}

	if len(event.Data) > 0 {
		keys := make([]string, 0, len(event.Data))
		for k := range event.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > maxMessageDataFields {
			keys = keys[:maxMessageDataFields]
		}
		b.WriteString("\nEvent Data:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, event.Data[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
