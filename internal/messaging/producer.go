package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TopicOrderPlaced carries domain.OrderPlacedEvent payloads keyed by order id.
const TopicOrderPlaced = "order.placed"

const (
	// HeaderEventType names the payload schema so consumers can skip what they do not know.
	HeaderEventType   = "event-type"
	HeaderContentType = "content-type"
)

var producerTracer = otel.Tracer("messaging/producer")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON events to one topic. Messages with the same key land on the
// same partition, so events for one order stay ordered.
type Producer struct {
	writer    messageWriter
	topic     string
	published metric.Int64Counter
}

type ProducerOption func(*kafka.Writer)

func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(w *kafka.Writer) {
		w.BatchTimeout = d
	}
}

func NewProducer(brokers []string, topic string, opts ...ProducerOption) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
	}
	for _, opt := range opts {
		opt(w)
	}

	published, err := otel.Meter("messaging/producer").Int64Counter("messaging.published",
		metric.WithDescription("Messages handed to the broker, by outcome"))
	if err != nil {
		published = noop.Int64Counter{}
	}

	return &Producer{writer: w, topic: topic, published: published}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := p.encode(key, event)
	if err != nil {
		p.count(ctx, "encode_failed")
		return err
	}

	ctx, span := producerTracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(key),
			semconv.MessagingMessageBodySize(len(msg.Value)),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, NewMessageCarrier(&msg))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.count(ctx, "failed")
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	p.count(ctx, "ok")
	return nil
}

func (p *Producer) encode(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", p.topic, err)
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(p.topic)},
			{Key: HeaderContentType, Value: []byte("application/json")},
		},
	}, nil
}

func (p *Producer) count(ctx context.Context, outcome string) {
	if p.published == nil {
		return
	}
	p.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", p.topic),
		attribute.String("outcome", outcome),
	))
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
