package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/marketplace/internal/domain/order"
)

// ErrNotConfirmed is returned when the broker nacks a handoff.
var ErrNotConfirmed = errors.New("handoff not confirmed by broker")

// publisher is the part of *amqp.Channel used for publishing.
type publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	IsClosed() bool
	Close() error
}

// AMQP publishes handoffs to a RabbitMQ exchange with publisher confirms.
type AMQP struct {
	exchange   string
	routingKey string

	// mu serializes publishing and Close. Confirms are awaited outside it.
	mu   sync.Mutex
	conn *amqp.Connection
	ch   publisher
	now  func() time.Time
}

var _ order.Notifier = (*AMQP)(nil)

// DialAMQP connects to url, declares a durable topic exchange and puts the
// channel into confirm mode.
func DialAMQP(url, exchange, routingKey string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable confirms")
	}

	return &AMQP{
		exchange:   exchange,
		routingKey: routingKey,
		conn:       conn,
		ch:         ch,
		now:        time.Now,
	}, nil
}

// Notify publishes h as a persistent JSON message and waits for the broker
// confirm or ctx expiry.
func (a *AMQP) Notify(ctx context.Context, h order.Handoff) error {
	conf, err := a.publish(ctx, h)
	if err != nil {
		return fmt.Errorf("publishing handoff of order %q: %w", h.OrderID, err)
	}
	if conf == nil {
		return nil
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting confirm of order %q: %w", h.OrderID, err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

func (a *AMQP) publish(ctx context.Context, h order.Handoff) (*amqp.DeferredConfirmation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch.IsClosed() {
		return nil, errors.New("amqp channel closed")
	}
	return a.ch.PublishWithDeferredConfirmWithContext(ctx, a.exchange, a.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    h.OrderID,
		Timestamp:    a.now(),
		Type:         "order.handoff",
		Body:         EncodeHandoff(h),
	})
}

// Check reports whether the connection and channel are usable. It matches
// the readiness checker signature and never waits on publishers.
func (a *AMQP) Check(context.Context) error {
	if a.conn != nil && a.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	if a.ch.IsClosed() {
		return errors.New("amqp channel closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return errors.Wrap(err, "close channel")
	}
	if a.conn == nil {
		return nil
	}
	if err := a.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return errors.Wrap(err, "close connection")
	}
	return nil
}
