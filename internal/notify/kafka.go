package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/atmx/escrow-engine/internal/model"
)

// DefaultTopic carries every escrow engine event.
const DefaultTopic = "escrow_events"

// KafkaSink publishes events to a Kafka topic. The writer runs in async
// mode so Publish never waits on the brokers; delivery failures are logged.
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink creates a sink writing to topic on the comma separated brokers.
func NewKafkaSink(brokers, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(brokers, ",")...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("kafka publish failed", "messages", len(messages), "err", err)
			}
		},
	}
	return &KafkaSink{w: w}
}

// Publish keys each message by listing (or asset) so events of one listing
// stay ordered within a partition.
func (s *KafkaSink) Publish(ctx context.Context, events ...model.Event) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			slog.Error("encode event failed", "type", e.Type, "err", err)
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(partitionKey(e)), Value: body})
	}
	if len(msgs) == 0 {
		return
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		slog.Error("kafka enqueue failed", "err", err)
	}
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func partitionKey(e model.Event) string {
	switch {
	case e.ListingID != "":
		return e.ListingID
	case e.Asset != "":
		return e.Asset
	default:
		return e.Mint
	}
}
