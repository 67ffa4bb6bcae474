package dlq

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/lsm/txgen/internal/kafka"
)

// asyncProducer abstracts the kafka client methods used by KafkaPublisher for testing.
type asyncProducer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaPublisher publishes dead-letter records without waiting for acknowledgment.
// When its buffer is full records are failed immediately instead of blocking the caller.
type KafkaPublisher struct {
	client   asyncProducer
	onResult func(*kgo.Record, error)
}

// PublisherOption configures a KafkaPublisher.
type PublisherOption func(*KafkaPublisher)

// WithResultFunc registers fn to receive the delivery outcome of every record.
// fn runs on the client's goroutines.
func WithResultFunc(fn func(r *kgo.Record, err error)) PublisherOption {
	return func(p *KafkaPublisher) {
		p.onResult = fn
	}
}

// NewKafkaPublisher creates a publisher with its own client. tuning.Topic is used as the
// default produce topic.
func NewKafkaPublisher(cluster *kafka.ClusterConfig, tuning kafka.ProducerTuning, opts ...PublisherOption) (*KafkaPublisher, error) {
	if cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}

	kopts, err := kafka.ProducerOptions(cluster, tuning)
	if err != nil {
		return nil, fmt.Errorf("dead-letter producer options: %w", err)
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("dead-letter client: %w", err)
	}

	return newKafkaPublisher(client, opts...), nil
}

func newKafkaPublisher(client asyncProducer, opts ...PublisherOption) *KafkaPublisher {
	p := &KafkaPublisher{
		client:   client,
		onResult: func(*kgo.Record, error) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish buffers the record and returns. Delivery errors are reported to the result func.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	p.client.TryProduce(ctx, record, p.onResult)
	return nil
}

// Flush waits until buffered records are delivered or ctx is done.
func (p *KafkaPublisher) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

// Close shuts down the publisher. Unflushed records fail.
func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
