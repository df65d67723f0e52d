// Package transport is the seam between the session engine and the message
// bus: declare consumer/publisher topology, iterate deliveries with a
// bounded wait, ack/reject by delivery tag, and publish a manifest with
// headers. The engine only ever talks to the Transport interface; nothing
// about AMQP leaks past this package.
package transport

import "context"

// Message is one inbound delivery handed to the engine's callback.
type Message struct {
	RoutingKey  string
	DeliveryTag uint64
	Headers     map[string]any
	Body        []byte
}

// Bindings describes the consumer-side exchange/queue/keys/capacity, the
// same shape as config.ConsumerBindings but kept free of a config import so
// this package has no dependency on how configuration is loaded.
type Bindings struct {
	Exchange   string
	InputQueue string
	Keys       []string
	QueueSize  int
}

// Handler processes one inbound message. An error here is treated as fatal
// by Consume's caller; message-level recoverable failures are handled by
// the caller rejecting the delivery itself, not by returning an error.
type Handler func(ctx context.Context, msg Message) error

// IdleFunc runs once per bounded-wait timeout with no delivery. The engine
// uses this solely to drive its timer set forward (timerset.Set.Tick);
// nothing else may advance time-based work.
type IdleFunc func(ctx context.Context) error

// Transport is the capability set spec.md §4.4 names.
type Transport interface {
	// InitConsumer declares the inbound exchange (direct, durable,
	// alternate-exchange "dead-letter"), the input queue (durable,
	// x-message-ttl=60000, x-dead-letter-exchange="dead-letter",
	// x-max-length=queue_size), and binds each routing key.
	InitConsumer(ctx context.Context, bindings Bindings) error

	// InitPublisher declares the outbound exchange with the same
	// alternate-exchange dead-letter property.
	InitPublisher(ctx context.Context, exchange string) error

	// Consume runs until ctx is canceled or an unrecoverable transport
	// error occurs. Each loop iteration waits up to timeout for one
	// delivery: on arrival it invokes handler; on timeout it invokes idle.
	// This bounded wait is the only mechanism that advances idle.
	Consume(ctx context.Context, queue string, handler Handler, idle IdleFunc) error

	// Publish sends body with headers to (exchange, routingKey).
	Publish(ctx context.Context, exchange, routingKey string, headers map[string]any, body []byte) error

	// Reject dead-letters a delivery (requeue=false) and logs errLog.
	Reject(ctx context.Context, deliveryTag uint64, errLog string) error

	// Ack acknowledges a delivery.
	Ack(ctx context.Context, deliveryTag uint64) error

	// Stop closes the channel then the connection. Idempotent.
	Stop() error

	// Connected reports whether the underlying connection is currently up,
	// for the ops health check.
	Connected() bool
}
