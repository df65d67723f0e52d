package transport

import "context"

// PublishedMessage records one call to FakeTransport.Publish.
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Headers    map[string]any
	Body       []byte
}

// FakeTransport is an in-memory Transport double for engine tests: no
// network, no goroutines, just recorded calls the test can assert against.
type FakeTransport struct {
	ConsumerBindings  Bindings
	PublisherExchange string

	Published []PublishedMessage
	Acked     []uint64
	Rejected  []uint64
}

// NewFakeTransport returns an empty FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) InitConsumer(_ context.Context, bindings Bindings) error {
	f.ConsumerBindings = bindings
	return nil
}

func (f *FakeTransport) InitPublisher(_ context.Context, exchange string) error {
	f.PublisherExchange = exchange
	return nil
}

// Consume is not exercised by engine unit tests, which call Handle and
// PublishManifest directly; it blocks until ctx is canceled so it is still
// safe to wire into a real Run call in integration-style tests.
func (f *FakeTransport) Consume(ctx context.Context, _ string, _ Handler, _ IdleFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *FakeTransport) Publish(_ context.Context, exchange, routingKey string, headers map[string]any, body []byte) error {
	f.Published = append(f.Published, PublishedMessage{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Headers:    headers,
		Body:       body,
	})
	return nil
}

func (f *FakeTransport) Reject(_ context.Context, deliveryTag uint64, _ string) error {
	f.Rejected = append(f.Rejected, deliveryTag)
	return nil
}

func (f *FakeTransport) Ack(_ context.Context, deliveryTag uint64) error {
	f.Acked = append(f.Acked, deliveryTag)
	return nil
}

func (f *FakeTransport) Stop() error {
	return nil
}

func (f *FakeTransport) Connected() bool {
	return true
}
