package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one payload. An error that survives the retries stops Consume
// without committing, so the message is redelivered after a restart.
type Handler func(ctx context.Context, payload []byte) error

type Consumer struct {
	reader  messageReader
	topic   string
	groupID string

	// retries is the number of extra attempts per message; backoff doubles after each.
	retries int
	backoff time.Duration
}

type consumerConfig struct {
	reader  kafka.ReaderConfig
	retries int
	backoff time.Duration
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

func WithRetries(retries int, backoff time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.retries = retries
		cfg.backoff = backoff
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
		retries: 3,
		backoff: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		reader:  kafka.NewReader(cfg.reader),
		topic:   topic,
		groupID: groupID,
		retries: cfg.retries,
		backoff: cfg.backoff,
	}
}

// Consume handles messages one at a time and commits each after it is handled or skipped.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			return fmt.Errorf("message %d/%d on %s: %w", msg.Partition, msg.Offset, c.topic, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler Handler) error {
	carrier := NewMessageCarrier(&msg)
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	// Messages of another type on the same topic are acknowledged and skipped.
	if eventType := carrier.Get(HeaderEventType); eventType != "" && eventType != c.topic {
		span.SetAttributes(attribute.String("messaging.skipped_event_type", eventType))
		return nil
	}

	err := c.handleWithRetry(spanCtx, span, msg.Value, handler)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Consumer) handleWithRetry(ctx context.Context, span trace.Span, payload []byte, handler Handler) error {
	wait := c.backoff
	for attempt := 0; ; attempt++ {
		err := handler(ctx, payload)
		if err == nil || attempt >= c.retries {
			return err
		}

		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.String("error", err.Error()),
		))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
