// Package bus provides the pub/sub transport the DVU coordinator and its
// workers exchange protocol messages over, per spec.md §4.4: "messages from
// workers over a pub/sub bus."
//
// Grounded on queue/amqp_interface.go's AMQPConnection/AMQPChannel
// dependency-injection split (a thin interface in front of the real
// streadway/amqp library, so tests can substitute an in-memory bus without
// touching the wire protocol).
package bus

import "context"

// Message is one published payload plus the routing key it arrived on.
type Message struct {
	Topic string
	Body  []byte
}

// Bus is the transport abstraction the coordinator and workers depend on.
// A Bus implementation owns delivery guarantees (AMQPBus consumes with
// auto-ack, so delivery is at-most-once: a message is not redelivered if
// its consumer stops before handling it); callers are responsible for
// idempotent handling.
type Bus interface {
	// Publish sends body to every subscriber of topic.
	Publish(ctx context.Context, topic string, body []byte) error

	// Subscribe returns a channel of messages published to topic. The
	// channel is closed when ctx is done or the Bus is closed.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)

	// Close releases the underlying connection.
	Close() error
}
