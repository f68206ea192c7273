// Package amqpsink publishes escrow notifications to a RabbitMQ topic
// exchange. Routing keys follow notify.Event.Key, e.g.
// "escrow.order.approved", so consumers can bind with patterns such as
// "escrow.order.*".
package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/escrow/notify"
)

var _ notify.Sink = (*Sink)(nil)

// DefaultExchange is used when Config.Exchange is empty.
const DefaultExchange = "escrow.events"

// Config describes the broker connection.
type Config struct {
	URL      string `json:"url" yaml:"url" mapstructure:"url"`
	Exchange string `json:"exchange" yaml:"exchange" mapstructure:"exchange"`
}

// Channel is the subset of *amqp.Channel the sink publishes through.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Sink publishes each event as a persistent JSON message.
type Sink struct {
	exchange string

	mu   sync.Mutex // amqp channels are not safe for concurrent publishing
	conn *amqp.Connection
	ch   Channel
}

// Dial connects to the broker and declares the exchange.
func Dial(cfg Config) (*Sink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqpsink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpsink: open channel: %w", err)
	}
	s, err := New(ch, cfg.Exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// New wraps an open channel and declares a durable topic exchange on it.
func New(ch Channel, exchange string) (*Sink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqpsink: declare exchange %s: %w", exchange, err)
	}
	return &Sink{exchange: exchange, ch: ch}, nil
}

// Deliver implements notify.Sink.
func (s *Sink) Deliver(ctx context.Context, evt notify.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("amqpsink: encode event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         string(evt.Type),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.PublishWithContext(ctx, s.exchange, evt.Key(), false, false, msg); err != nil {
		return fmt.Errorf("amqpsink: publish %s: %w", evt.ID, err)
	}
	return nil
}

// Close closes the channel and, for sinks created by Dial, the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
