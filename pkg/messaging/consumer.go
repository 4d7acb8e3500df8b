package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// reconnectDelay is the pause between broker connection attempts.
const reconnectDelay = 5 * time.Second

// EventHandler processes one decoded event. Errors are logged, not
// redelivered: the handler marks idempotency up front, so a redelivery
// would be dropped as a duplicate anyway.
type EventHandler interface {
	Handle(ctx context.Context, event models.Event) error
}

// Consumer reads events from the RabbitMQ queue with manual
// acknowledgement and a bounded number of in-flight handlers. It
// reconnects with a fixed delay when the broker drops the connection.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	handler  EventHandler
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConsumer creates a broker consumer.
func NewConsumer(url, queue string, prefetch int, handler EventHandler) *Consumer {
	return &Consumer{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		handler:  handler,
		logger:   slog.Default().With("component", "event-consumer"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the consume loop.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
	c.logger.Info("Event consumer started", "queue", c.queue, "prefetch", c.prefetch)
}

// Stop signals the loop to exit and waits for in-flight handlers.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.logger.Info("Event consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.consume(ctx); err != nil {
			c.logger.Error("Broker session ended", "error", err)
		}

		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// consume runs one broker session: connect, declare, and drain
// deliveries until the connection drops or shutdown is requested.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.prefetch)
	defer group.Wait()

	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-closed:
			if err != nil {
				return err
			}
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			group.Go(func() error {
				c.process(groupCtx, delivery)
				return nil
			})
		}
	}
}

// process decodes and handles one delivery. The delivery is always
// acked: malformed payloads cannot be fixed by redelivery, and handler
// errors would hit the idempotency guard on a second pass.
func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery) {
	event, ok := c.decode(delivery.Body)
	if ok {
		if err := c.handler.Handle(ctx, event); err != nil {
			c.logger.Error("Event handling failed",
				"event_id", event.EventID,
				"error", err)
		}
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ack delivery", "error", err)
	}
}

// decode parses a broker payload into an Event, applying the field
// defaults: missing event_id falls back to a content-independent unique
// ID via the timestamp, missing context_key falls back to the event
// type, missing timestamp falls back to now.
func (c *Consumer) decode(body []byte) (models.Event, bool) {
	var payload struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		ContextKey string         `json:"context_key"`
		Timestamp  any            `json:"timestamp"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Warn("Discarding malformed event payload", "error", err)
		return models.Event{}, false
	}
	if payload.EventType == "" {
		c.logger.Warn("Discarding event without event_type")
		return models.Event{}, false
	}

	ts, err := models.ParseTimestamp(payload.Timestamp)
	if err != nil {
		ts = time.Time{}
	}
	eventID := payload.EventID
	if eventID == "" {
		eventID = generateEventID(payload.EventType)
	}
	return models.NewEvent(eventID, payload.EventType, payload.ContextKey, ts, payload.Data), true
}

// generateEventID synthesizes an ID for producers that omit one. Such
// events cannot be deduplicated across redeliveries, which is the
// producer's trade-off to make.
func generateEventID(eventType string) string {
	return "evt_" + eventType + "_" + uuid.NewString()
}
