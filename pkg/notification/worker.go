package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// dequeueTimeout is how long one blocking pop waits before the loop
// re-checks for shutdown.
const dequeueTimeout = 5 * time.Second

// Worker drains the notification queue and delivers each task through
// the registered channels. A task succeeds when at least one target
// accepted it; a task whose attempted sends all failed is retried with
// a bounded budget, then dead-lettered. Targets with no registered
// channel are skipped and do not count as failures.
type Worker struct {
	queue    *storage.NotificationQueue
	channels map[models.TargetType]Channel
	maxRetry int
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a delivery worker over the given channels.
func NewWorker(queue *storage.NotificationQueue, channels []Channel, maxRetry int) *Worker {
	byType := make(map[models.TargetType]Channel, len(channels))
	for _, ch := range channels {
		byType[ch.Type()] = ch
	}
	return &Worker{
		queue:    queue,
		channels: byType,
		maxRetry: maxRetry,
		logger:   slog.Default().With("component", "notify-worker"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the delivery loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("Notification worker started", "channels", len(w.channels), "max_retry", w.maxRetry)
}

// Stop signals the loop to exit and waits for the in-flight task.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("Notification worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to dequeue notification", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}
		w.Process(ctx, task)
	}
}

// Process delivers one task. Exported so tests can drive it without the
// dequeue loop.
func (w *Worker) Process(ctx context.Context, task *models.NotificationTask) {
	delivered := 0
	failed := 0
	for _, target := range task.Targets {
		channel, ok := w.channels[target.Type]
		if !ok {
			w.logger.Warn("No channel for target type",
				"task_id", task.TaskID,
				"target_type", target.Type)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := channel.Send(sendCtx, target, task)
		cancel()
		if err != nil {
			w.logger.Error("Delivery failed",
				"task_id", task.TaskID,
				"target_type", target.Type,
				"error", err)
			failed++
			continue
		}
		delivered++
	}

	if delivered > 0 || failed == 0 {
		w.logger.Info("Notification processed",
			"task_id", task.TaskID,
			"delivered", delivered,
			"failed", failed,
			"targets", len(task.Targets))
		return
	}

	if task.ShouldRetry(w.maxRetry) {
		if err := w.queue.Requeue(ctx, task); err != nil {
			w.logger.Error("Failed to requeue task", "task_id", task.TaskID, "error", err)
		} else {
			w.logger.Warn("Notification requeued",
				"task_id", task.TaskID,
				"retry_count", task.RetryCount)
		}
		return
	}

	if err := w.queue.MoveToDeadLetter(ctx, task); err != nil {
		w.logger.Error("Failed to dead-letter task", "task_id", task.TaskID, "error", err)
	} else {
		w.logger.Error("Notification dead-lettered",
			"task_id", task.TaskID,
			"retry_count", task.RetryCount)
	}
}
