// Package events publishes ledger notifications. The Kafka publisher is
// the production path; the channel publisher backs tests and single-node
// deployments without a broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"demura/internal/ledger/models"
)

// KafkaPublisher produces RateChangeScheduled events to a single topic,
// keyed by period so per-period ordering is preserved across partitions.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
func NewKafkaPublisher(ctx context.Context, brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 3, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %q: %w", topic, err)
	}
	for _, ctr := range resp {
		if ctr.Err != nil && !errors.Is(ctr.Err, kerr.TopicAlreadyExists) {
			client.Close()
			return nil, fmt.Errorf("ensure topic %q: %w", topic, ctr.Err)
		}
	}

	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Publish produces the event synchronously. Callers treat failures as
// fail-open: the schedule change is already durable.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.RateChangeScheduled) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode rate change event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   fmt.Appendf(nil, "%d", event.Period),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce rate change event: %w", err)
	}
	return nil
}

// Close flushes and releases the underlying client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
