package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/config"
	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces one message per forecast product to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer  messageWriter
	brokers []string
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic. Every message
// goes to the first partition so consumers see products in issuance order,
// and a write returns only after all in-sync replicas have it.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               kafkago.BalancerFunc(firstPartition),
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
	}
	return &Writer{
		writer:  w,
		brokers: cfg.KafkaBrokers,
		topic:   cfg.KafkaTopic,
		timeout: cfg.PublishTimeout,
		logger:  logger,
	}
}

// Check connects to the first reachable broker and confirms the topic has
// partitions. An unreachable cluster is domain.ErrConnectionLost and a missing
// topic is domain.ErrUnroutable.
func (w *Writer) Check(ctx context.Context) error {
	if len(w.brokers) == 0 {
		return fmt.Errorf("%w: no kafka brokers configured", domain.ErrConnectionLost)
	}

	var lastErr error
	for _, addr := range w.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		partitions, err := conn.ReadPartitions(w.topic)
		_ = conn.Close()

		switch {
		case errors.Is(err, kafkago.UnknownTopicOrPartition):
			return fmt.Errorf("%w: topic %s: %w", domain.ErrUnroutable, w.topic, err)
		case err != nil:
			lastErr = err
			continue
		case len(partitions) == 0:
			return fmt.Errorf("%w: topic %s has no partitions", domain.ErrUnroutable, w.topic)
		}
		w.logger.Info("connected to kafka", "broker", addr, "topic", w.topic, "partitions", len(partitions))
		return nil
	}
	return fmt.Errorf("%w: kafka brokers %v: %w", domain.ErrConnectionLost, w.brokers, lastErr)
}

func firstPartition(_ kafkago.Message, partitions ...int) int {
	return partitions[0]
}

// Publish writes a product and waits for the broker acknowledgement. A missing
// topic is domain.ErrUnroutable; other failures are domain.ErrConnectionLost.
func (w *Writer) Publish(ctx context.Context, product domain.ForecastProduct) error {
	msg, err := serializeToMessage(product)
	if err != nil {
		return err
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		err = classifyWriteError(product.ID, w.topic, err)
		w.logger.Warn("kafka write failed", "id", product.ID, "topic", w.topic, "error", err)
		return err
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func classifyWriteError(id, topic string, err error) error {
	var werrs kafkago.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil {
				err = e
				break
			}
		}
	}
	if errors.Is(err, kafkago.UnknownTopicOrPartition) {
		return fmt.Errorf("%s: %w: topic %s: %w", id, domain.ErrUnroutable, topic, err)
	}
	var kerr kafkago.Error
	if errors.As(err, &kerr) && kerr == kafkago.InvalidMessage {
		return fmt.Errorf("%s: %w: %w", id, domain.ErrRejected, err)
	}
	return fmt.Errorf("%s: %w: %w", id, domain.ErrConnectionLost, err)
}

// serializeToMessage encodes a ForecastProduct as a Kafka message keyed by
// product id.
func serializeToMessage(product domain.ForecastProduct) (kafkago.Message, error) {
	data, err := domain.Serialize(product)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(product.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "content_type", Value: []byte("application/json")},
			{Key: "product_code", Value: []byte(product.ProductCode)},
			{Key: "issuance_time", Value: []byte(product.IssuanceTime.Format(time.RFC3339))},
		},
	}, nil
}
