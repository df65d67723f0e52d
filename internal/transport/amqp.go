package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// deadLetterExchange is the fixed exchange name spec.md §6 pins as the
// alternate-exchange for both the inbound and outbound exchanges.
const deadLetterExchange = "dead-letter"

// AMQPOptions configures a new AMQP-backed Transport.
type AMQPOptions struct {
	Host     string
	User     string
	Password string
	Log      zerolog.Logger
}

// AMQPTransport is the production Transport, backed by
// github.com/rabbitmq/amqp091-go — the maintained AMQP 0-9-1 client this
// lineage's sibling services already depend on.
type AMQPTransport struct {
	opts AMQPOptions
	log  zerolog.Logger

	conn    *amqp.Connection
	channel *amqp.Channel

	deliveries <-chan amqp.Delivery

	stopOnce sync.Once
}

// DialAMQP opens the connection and channel used by both consumer and
// publisher sides; InitConsumer/InitPublisher declare topology on it.
func DialAMQP(opts AMQPOptions) (*AMQPTransport, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s/", opts.User, opts.Password, opts.Host)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPTransport{
		opts:    opts,
		log:     opts.Log.With().Str("component", "transport").Logger(),
		conn:    conn,
		channel: channel,
	}, nil
}

func (t *AMQPTransport) InitConsumer(ctx context.Context, bindings Bindings) error {
	if err := t.channel.ExchangeDeclare(
		bindings.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		amqp.Table{"alternate-exchange": deadLetterExchange},
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", bindings.Exchange, err)
	}

	if _, err := t.channel.QueueDeclare(
		bindings.InputQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl":          int32(60_000),
			"x-dead-letter-exchange": deadLetterExchange,
			"x-max-length":           int32(bindings.QueueSize),
		},
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", bindings.InputQueue, err)
	}

	for _, key := range bindings.Keys {
		if err := t.channel.QueueBind(bindings.InputQueue, key, bindings.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to key %s: %w", bindings.InputQueue, key, err)
		}
	}

	deliveries, err := t.channel.Consume(
		bindings.InputQueue,
		"",    // consumer tag (server-generated)
		false, // auto-ack: we ack/reject explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", bindings.InputQueue, err)
	}
	t.deliveries = deliveries
	return nil
}

func (t *AMQPTransport) InitPublisher(ctx context.Context, exchange string) error {
	if err := t.channel.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		amqp.Table{"alternate-exchange": deadLetterExchange},
	); err != nil {
		return fmt.Errorf("declare publish exchange %s: %w", exchange, err)
	}
	return nil
}

// Consume waits up to 1 second (spec.md §4.4's default TIMEOUT) for one
// delivery; on arrival it runs handler, on timeout it runs idle. This is
// the single suspension point that advances the caller's timer set.
func (t *AMQPTransport) Consume(ctx context.Context, queue string, handler Handler, idle IdleFunc) error {
	const timeout = 1 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case delivery, ok := <-t.deliveries:
			if !ok {
				return fmt.Errorf("consume %s: delivery channel closed", queue)
			}
			msg := Message{
				RoutingKey:  delivery.RoutingKey,
				DeliveryTag: delivery.DeliveryTag,
				Headers:     map[string]any(delivery.Headers),
				Body:        delivery.Body,
			}
			if err := handler(ctx, msg); err != nil {
				return fmt.Errorf("handle message: %w", err)
			}

		case <-time.After(timeout):
			if err := idle(ctx); err != nil {
				return fmt.Errorf("idle callback: %w", err)
			}
		}
	}
}

func (t *AMQPTransport) Publish(ctx context.Context, exchange, routingKey string, headers map[string]any, body []byte) error {
	err := t.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:     amqp.Table(headers),
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

func (t *AMQPTransport) Reject(ctx context.Context, deliveryTag uint64, errLog string) error {
	if err := t.channel.Reject(deliveryTag, false); err != nil {
		return fmt.Errorf("reject delivery %d: %w", deliveryTag, err)
	}
	t.log.Error().Uint64("delivery_tag", deliveryTag).Msg(errLog)
	return nil
}

func (t *AMQPTransport) Ack(ctx context.Context, deliveryTag uint64) error {
	if err := t.channel.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("ack delivery %d: %w", deliveryTag, err)
	}
	return nil
}

// Stop closes the channel then the connection. Safe to call more than once:
// both Run and main defer a Stop on normal shutdown, so only the first call
// may touch the connection.
func (t *AMQPTransport) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		if t.channel != nil {
			t.channel.Close()
		}
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

// Connected reports whether the underlying AMQP connection is still up.
func (t *AMQPTransport) Connected() bool {
	return t.conn != nil && !t.conn.IsClosed()
}
