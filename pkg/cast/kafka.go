// ABOUTME: Kafka pipeline publishing change feed entries with franz-go
// ABOUTME: Records are keyed by study so per-study order is preserved

package cast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nainya/dicomstore/pkg/changefeed"
)

// KafkaConfig configures the Kafka pipeline
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPipeline publishes each entry as a JSON record keyed by study UID, so all
// events of a study land on one partition in sequence order.
type KafkaPipeline struct {
	topic    string
	producer recordProducer
}

// NewKafkaPipeline connects a franz-go producer
func NewKafkaPipeline(cfg KafkaConfig, opts ...kgo.Opt) (*KafkaPipeline, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("cast: kafka brokers and topic are required")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	return &KafkaPipeline{topic: cfg.Topic, producer: cl}, nil
}

// Process produces the entry and waits for the broker acknowledgement
func (p *KafkaPipeline) Process(ctx context.Context, entry changefeed.Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cast: encode entry %d: %w", entry.Sequence, err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.StudyInstanceUID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "sequence", Value: []byte(strconv.FormatInt(entry.Sequence, 10))},
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("cast: produce entry %d: %w", entry.Sequence, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPipeline) Close() error {
	p.producer.Close()
	return nil
}
