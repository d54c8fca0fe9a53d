// Package consumer feeds directory callbacks (and replayed dead letters)
// into the orchestrator's dispatch table. One handler invocation per
// delivered message; offsets commit only after the poll batch is handled, so
// delivery stays at-least-once and handlers rely on idempotency.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"keyclaims/internal/keys/orchestrator"
	"keyclaims/internal/platform/kafka"
)

// maxAttempts bounds in-process retries for version-conflict races. Anything
// beyond that waits for broker redelivery.
const maxAttempts = 3

// Consumer polls the callback topic and dispatches triggers.
type Consumer struct {
	client   *kgo.Client
	handlers map[string]orchestrator.HandlerFunc
	logger   *slog.Logger
}

func New(client *kgo.Client, handlers map[string]orchestrator.HandlerFunc, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, handlers: handlers, logger: logger}
}

// Run polls until the context is canceled or the client closes.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "fetch error",
				"topic", topic, "partition", partition, "error", err.Error())
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			c.handle(ctx, kafka.Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value})
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.ErrorContext(ctx, "commit offsets", "error", err.Error())
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var trig orchestrator.Trigger
	if err := json.Unmarshal(msg.Value, &trig); err != nil {
		c.logger.WarnContext(ctx, "malformed trigger, skipping",
			"topic", msg.Topic, "error", err.Error())
		return
	}

	handler, ok := c.handlers[trig.Event]
	if !ok {
		c.logger.WarnContext(ctx, "no handler for event, skipping",
			"event", trig.Event, "topic", msg.Topic)
		return
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err = handler(ctx, trig)
		if err == nil || !orchestrator.IsRetryable(err) {
			break
		}
		// Lost the version race to a concurrent transition; re-read and retry.
	}
	if err != nil {
		// Guard and not-found failures are terminal for this delivery; the
		// message is consumed without side effects.
		c.logger.ErrorContext(ctx, "trigger handling failed",
			"event", trig.Event,
			"key_id", trig.KeyID,
			"key_value", trig.KeyValue,
			"error", err.Error(),
		)
	}
}
