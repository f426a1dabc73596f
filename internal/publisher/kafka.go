package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"wirecdc/internal/metrics"
)

// KafkaPublisher writes change events to a single Kafka topic. The subject
// becomes the message key, so the hash balancer keeps one table on one
// partition and per-table ordering survives.
type KafkaPublisher struct {
	opts         KafkaOptions
	writer       *kafka.Writer
	logger       *zap.Logger
	publishedCnt *metrics.Counter
	failCnt      *metrics.Counter
	promMetrics  *metrics.Metrics
}

type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration
}

func NewKafkaPublisher(opts KafkaOptions, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		opts:         opts,
		logger:       logger,
		publishedCnt: metrics.NewCounter("kafka_published"),
		failCnt:      metrics.NewCounter("kafka_publish_failures"),
		promMetrics:  metrics.GlobalMetrics,
	}
}

func (p *KafkaPublisher) Connect() error {
	if len(p.opts.Brokers) == 0 {
		return fmt.Errorf("no Kafka brokers provided")
	}
	if p.opts.Topic == "" {
		return fmt.Errorf("missing Kafka topic")
	}
	batchSize := p.opts.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	batchBytes := p.opts.BatchBytes
	if batchBytes == 0 {
		batchBytes = 1 << 20
	}
	batchTimeout := p.opts.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 50 * time.Millisecond
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(p.opts.Brokers...),
		Topic:                  p.opts.Topic,
		Balancer:               &kafka.Hash{}, // key routing keeps per-table order
		BatchSize:              batchSize,
		BatchBytes:             batchBytes,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		Async:                  false, // sync writes for durability
		AllowAutoTopicCreation: true,
	}
	p.logger.Info("kafka writer configured", zap.Strings("brokers", p.opts.Brokers), zap.String("topic", p.opts.Topic))
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.writer == nil {
		return fmt.Errorf("kafka writer not connected")
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: data,
	})
	if err != nil {
		p.failCnt.Inc()
		p.promMetrics.PublishFailures.Inc()
		return fmt.Errorf("kafka write: %w", err)
	}
	p.publishedCnt.Inc()
	p.promMetrics.PublishedTotal.Inc()
	return nil
}

func (p *KafkaPublisher) PublishWithRetries(ctx context.Context, subject string, data []byte, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := p.Publish(ctx, subject, data); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(i)):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("publish failed after retries: %w", lastErr)
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	p.logger.Info("closing kafka writer")
	return p.writer.Close()
}
