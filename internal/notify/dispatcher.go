// Package notify publishes order events off the checkout path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/perfumeshop/internal/domain"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

const (
	DefaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// DeliveryError is sent on Errors() for every event that was not published.
type DeliveryError struct {
	OrderID int64
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify order %d: %v", e.OrderID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type envelope struct {
	span  trace.SpanContext
	event domain.OrderPlacedEvent
}

// Dispatcher queues events in a bounded buffer and publishes them from one goroutine.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	errs   chan error
	done   chan struct{}
}

func NewDispatcher(publisher Publisher, bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	d := &Dispatcher{
		publisher: publisher,
		logger:    logger,
		timeout:   defaultPublishTimeout,
		queue:     make(chan envelope, bufferSize),
		errs:      make(chan error, bufferSize),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify never blocks. The caller's span is linked to the publish but its cancellation
// is not inherited.
func (d *Dispatcher) Notify(ctx context.Context, event domain.OrderPlacedEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Error("failed to publish order placed event", "error", ErrClosed, "order_id", event.OrderID, "user_id", event.UserID)
		return
	}

	select {
	case d.queue <- envelope{span: trace.SpanContextFromContext(ctx), event: event}:
	default:
		d.fail(event, ErrQueueFull)
	}
}

// Errors reports delivery failures. It is closed once Close has drained the queue.
// Failures are dropped when nobody reads and the channel is full.
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// Close stops accepting events and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer close(d.errs)

	for env := range d.queue {
		ctx := trace.ContextWithSpanContext(context.Background(), env.span)
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.publisher.Publish(ctx, strconv.FormatInt(env.event.OrderID, 10), env.event)
		cancel()

		if err != nil {
			d.fail(env.event, err)
			continue
		}
		d.logger.Info("order placed event published", "order_id", env.event.OrderID, "event_id", env.event.EventID)
	}
}

func (d *Dispatcher) fail(event domain.OrderPlacedEvent, err error) {
	d.logger.Error("failed to publish order placed event", "error", err, "order_id", event.OrderID, "user_id", event.UserID)
	select {
	case d.errs <- &DeliveryError{OrderID: event.OrderID, Err: err}:
	default:
	}
}

// LogPublisher stands in for a broker when none is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, key string, event any) error {
	p.Logger.InfoContext(ctx, "order event not published, no broker configured", "key", key)
	return nil
}
