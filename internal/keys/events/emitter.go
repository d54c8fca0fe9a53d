// Package events carries transitions out of the orchestrator: domain events
// to downstream collaborators and dead letters for retryable failures.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"keyclaims/internal/keys/models"
)

// Emitter publishes one domain event per completed transition.
type Emitter interface {
	Emit(ctx context.Context, event models.Event) error
}

// DeadLetterRouter redirects the payload of an event whose gateway call
// failed transiently, so it can be replayed without reprocessing state that
// was already confirmed. Re-delivery is owned elsewhere.
type DeadLetterRouter interface {
	Route(ctx context.Context, topic string, payload []byte) error
}

// KafkaEmitter produces domain events to a single topic, partitioned by key
// id so events for the same key stay ordered.
type KafkaEmitter struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaEmitter(client *kgo.Client, topic string, logger *slog.Logger) *KafkaEmitter {
	return &KafkaEmitter{client: client, topic: topic, logger: logger}
}

func (e *KafkaEmitter) Emit(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}

	record := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(event.KeyID.String()),
		Value: payload,
	}
	if err := e.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event %s: %w", event.Name, err)
	}

	e.logger.InfoContext(ctx, "event emitted",
		"event", event.Name,
		"key_id", event.KeyID.String(),
		"state", string(event.State),
	)
	return nil
}

// DLQSuffix is appended to the originating topic to form its dead-letter
// topic name.
const DLQSuffix = ".dlq"

// KafkaDeadLetter produces dead letters to "<topic>.dlq".
type KafkaDeadLetter struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewKafkaDeadLetter(client *kgo.Client, logger *slog.Logger) *KafkaDeadLetter {
	return &KafkaDeadLetter{client: client, logger: logger}
}

func (d *KafkaDeadLetter) Route(ctx context.Context, topic string, payload []byte) error {
	record := &kgo.Record{
		Topic: topic + DLQSuffix,
		Value: payload,
	}
	if err := d.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce dead letter to %s%s: %w", topic, DLQSuffix, err)
	}

	d.logger.WarnContext(ctx, "message dead-lettered", "topic", topic+DLQSuffix)
	return nil
}
