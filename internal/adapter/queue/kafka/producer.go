// Package kafka publishes job lifecycle events (job.enqueued,
// job.completed, job.failed) to a Kafka-compatible broker. The stream is
// optional; with no brokers configured the service runs with the no-op
// publisher.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Producer emits one record per lifecycle event, keyed by job_id so
// per-job ordering is preserved within a partition.
type Producer struct {
	cl    *kgo.Client
	topic string
}

var _ domain.EventPublisher = (*Producer)(nil)

// NewProducer connects to the brokers and instruments the client with
// OTEL hooks.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	k := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(k.Hooks()...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{cl: cl, topic: topic}, nil
}

// PublishJobEvent produces a single event record synchronously. Event
// publishing is advisory; callers log failures and carry on.
func (p *Producer) PublishJobEvent(ctx domain.Context, event, jobID string, fields map[string]any) error {
	body := map[string]any{
		"event":     event,
		"job_id":    jobID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		body[k] = v
	}
	val, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kafka publish marshal: %w", err)
	}
	rec := &kgo.Record{Topic: p.topic, Key: []byte(jobID), Value: val}
	if err := p.cl.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and releases the client.
func (p *Producer) Close() { p.cl.Close() }

// Nop is the publisher used when no brokers are configured.
type Nop struct{}

var _ domain.EventPublisher = Nop{}

// PublishJobEvent does nothing.
func (Nop) PublishJobEvent(domain.Context, string, string, map[string]any) error { return nil }
