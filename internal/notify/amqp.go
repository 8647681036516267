package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DefaultExchange is the topic exchange events are published to. The routing
// key is "<event type>.<outlet id>".
const DefaultExchange = "orderdesk_events"

const publishTimeout = 5 * time.Second

// Publisher is the part of *amqp091.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPSink publishes events to a RabbitMQ topic exchange.
type AMQPSink struct {
	pub      Publisher
	exchange string
	closers  []func() error
}

// NewAMQPSink wraps an already declared exchange.
func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPSink{pub: pub, exchange: exchange}
}

// DialAMQP connects, opens a channel and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	s := NewAMQPSink(ch, exchange)
	s.closers = []func() error{ch.Close, conn.Close}
	return s, nil
}

// RoutingKey is the key an event is published under.
func RoutingKey(e Event) string {
	return e.Type + "." + e.OutletID.String()
}

func (s *AMQPSink) Notify(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type).Msg("amqp: marshal event")
		return
	}

	// Publishing outlives request cancellation but not the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	key := RoutingKey(e)
	err = s.pub.PublishWithContext(ctx,
		s.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    e.At,
		})
	if err != nil {
		log.Error().Err(err).Str("routing_key", key).Msg("amqp: publish event")
		return
	}
	log.Debug().Str("routing_key", key).Msg("amqp: event published")
}

// Close closes the channel and connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
