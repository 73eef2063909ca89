package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultKafkaTopic is the topic flow summaries are produced to when none is
// configured.
const DefaultKafkaTopic = "registry.history"

// KafkaSink produces flow summaries to a Kafka topic, keyed by resource so
// per-resource ordering is preserved across partitions. Downstream consumers
// build registrar activity reports and the billing export from this stream.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// KafkaSinkOption configures a KafkaSink.
type KafkaSinkOption func(*KafkaSink)

// WithKafkaTopic overrides the destination topic.
func WithKafkaTopic(topic string) KafkaSinkOption {
	return func(s *KafkaSink) { s.topic = topic }
}

// NewKafkaSink constructs a sink over an existing client. The client
// lifecycle is managed by the caller.
func NewKafkaSink(client *kgo.Client, opts ...KafkaSinkOption) *KafkaSink {
	sink := &KafkaSink{
		client: client,
		topic:  DefaultKafkaTopic,
	}
	for _, opt := range opts {
		opt(sink)
	}
	return sink
}

func (s *KafkaSink) Deliver(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry %s: %w", entry.Key, err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.ParentResource),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("producing history entry %s: %w", entry.Key, err)
	}
	return nil
}
