package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes messages as JSON to a durable queue.
type AMQPNotifier struct {
	channel  publisher
	closer   func() error
	exchange string
	queue    string
	logger   zerolog.Logger
}

// NewAMQPNotifier dials the broker and declares a direct exchange bound to the queue.
func NewAMQPNotifier(url, exchange, queue string, logger zerolog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setupTopology(channel, exchange, queue); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	n := newAMQPNotifier(channel, exchange, queue, logger)
	n.closer = func() error {
		channel.Close()
		return conn.Close()
	}
	return n, nil
}

func newAMQPNotifier(p publisher, exchange, queue string, logger zerolog.Logger) *AMQPNotifier {
	return &AMQPNotifier{
		channel:  p,
		exchange: exchange,
		queue:    queue,
		logger:   logger.With().Str("component", "alert_amqp").Logger(),
	}
}

func setupTopology(ch *amqp091.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// Routing key equals the queue name on the direct exchange.
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Notify publishes one persistent message.
func (n *AMQPNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(ctx, n.exchange, n.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    msg.CreatedAt,
		Type:         msg.Kind,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	n.logger.Info().Str("recipient", msg.Recipient).
		Str("kind", msg.Kind).
		Str("queue", n.queue).
		Msg("message published (amqp)")
	return nil
}

// Close shuts the channel and connection.
func (n *AMQPNotifier) Close() error {
	if n.closer == nil {
		return nil
	}
	return n.closer()
}

var _ Notifier = (*AMQPNotifier)(nil)
