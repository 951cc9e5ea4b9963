package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPBus is a Bus backed by a single streadway/amqp connection, using a
// topic exchange so Subscribe callers can each get their own exclusive
// queue bound to the topic they care about. Grounded on queue/rabbit.go's
// RabbitMQService connection/channel/declare lifecycle, generalized from a
// single fixed queue to per-topic fanout.
type AMQPBus struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	exchange string
	log      *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// NewAMQPBus dials url and declares a topic exchange named exchange.
func NewAMQPBus(url, exchange string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPBus{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      logrus.WithField("component", "bus.amqp"),
	}, nil
}

// Publish sends body routed by topic to every bound subscriber queue.
func (b *AMQPBus) Publish(ctx context.Context, topic string, body []byte) error {
	return b.ch.Publish(b.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Subscribe declares an exclusive, auto-deleting queue bound to topic and
// streams deliveries into a Message channel until ctx is done.
func (b *AMQPBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	q, err := b.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := b.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: d.RoutingKey, Body: d.Body}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts down the channel and connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.ch.Close(); err != nil {
		b.log.WithError(err).Warn("error closing amqp channel")
	}
	return b.conn.Close()
}
