package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/protorelay/internal/runtime/config"
	"github.com/drblury/protorelay/internal/runtime/logging/logtest"
	transportpkg "github.com/drblury/protorelay/internal/runtime/transport"
	"github.com/drblury/protorelay/transport/channel"
)

// testBus is an in-memory bus shared by every transport a test service
// builds, so messages survive reconnects.
type testBus struct {
	pubSub *channel.Bus
	builds atomic.Int32

	mu      sync.Mutex
	cancels []context.CancelFunc
	failing atomic.Bool
}

func newTestBus(t *testing.T) *testBus {
	t.Helper()
	ps := channel.NewBus(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return &testBus{pubSub: ps}
}

func (b *testBus) factory() transportpkg.Factory {
	return transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
		b.builds.Add(1)
		if b.failing.Load() {
			return transportpkg.Transport{}, errors.New("bus unreachable")
		}
		return transportpkg.Transport{
			Publisher:  &busPublisher{ps: b.pubSub},
			Subscriber: &busSubscriber{bus: b},
		}, nil
	})
}

// drop closes every open subscription as a lost connection would.
func (b *testBus) drop() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (b *testBus) publish(t *testing.T, channel, body string) {
	t.Helper()
	require.NoError(t, b.pubSub.Publish(channel, message.NewMessage(watermill.NewUUID(), []byte(body))))
}

// listen subscribes to channel and returns the bodies it receives.
func (b *testBus) listen(t *testing.T, channel string) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	messages, err := b.pubSub.Subscribe(ctx, channel)
	require.NoError(t, err)

	out := make(chan string, 16)
	go func() {
		for msg := range messages {
			msg.Ack()
			out <- string(msg.Payload)
		}
	}()
	return out
}

// busPublisher refuses to publish once its transport is closed, as a real
// broker client does.
type busPublisher struct {
	ps     *channel.Bus
	closed atomic.Bool
}

func (p *busPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return errors.New("publisher closed")
	}
	return p.ps.Publish(topic, messages...)
}

func (p *busPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

type busSubscriber struct {
	bus *testBus
}

func (s *busSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.bus.pubSub.Subscribe(s.track(ctx), topic)
}

func (s *busSubscriber) SubscribePrefix(ctx context.Context, prefix string) (<-chan *message.Message, error) {
	return s.bus.pubSub.SubscribePrefix(s.track(ctx), prefix)
}

func (s *busSubscriber) track(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	s.bus.mu.Lock()
	s.bus.cancels = append(s.bus.cancels, cancel)
	s.bus.mu.Unlock()
	return ctx
}

// exactSubscriber hides SubscribePrefix, like the nats and rabbitmq
// transports.
type exactSubscriber struct {
	inner message.Subscriber
}

func (s exactSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.inner.Subscribe(ctx, topic)
}

func (s exactSubscriber) Close() error { return s.inner.Close() }

func exactOnly(inner transportpkg.Factory) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
		tr, err := inner.Build(ctx, conf, logger)
		if err != nil {
			return tr, err
		}
		tr.Subscriber = exactSubscriber{inner: tr.Subscriber}
		return tr, nil
	})
}

func (*busSubscriber) Close() error { return nil }

type funcEndpoint struct {
	topic Topic
	fn    func(ctx context.Context, req *Request) (any, error)
}

func (e funcEndpoint) Topic() Topic { return e.topic }

func (e funcEndpoint) Handle(ctx context.Context, req *Request) (any, error) {
	return e.fn(ctx, req)
}

func endpoint(topic string, fn func(ctx context.Context, req *Request) (any, error)) Endpoint {
	return &funcEndpoint{topic: MustTopic(topic), fn: fn}
}

func echoEndpoint(topic string) Endpoint {
	return endpoint(topic, func(_ context.Context, req *Request) (any, error) {
		return req.Payload.Value, nil
	})
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:      "channel",
		ClusterID:         "node-1",
		HandlerTimeout:    200 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		PingTimeout:       20 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		ShutdownTimeout:   time.Second,
	}
}

func newTestService(t *testing.T, conf *configpkg.Config, bus *testBus) (*Service, *logtest.Recorder) {
	t.Helper()
	rec := logtest.New()
	svc := NewService(conf, rec, ServiceDependencies{
		TransportFactory:  bus.factory(),
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	return svc, rec
}

// startService runs svc until the test ends and waits for it to listen.
func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})
	require.Eventually(t, func() bool { return svc.State() == StateListening }, 2*time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case body := <-ch:
		return body
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func expectSilence(t *testing.T, ch <-chan string, wait time.Duration) {
	t.Helper()
	select {
	case body := <-ch:
		t.Fatalf("unexpected message: %s", body)
	case <-time.After(wait):
	}
}

func newMessage(body string) *message.Message {
	return message.NewMessage(watermill.NewUUID(), []byte(body))
}

type typedPayload struct {
	Count int `json:"count"`
}

type typedEndpoint struct{}

func (typedEndpoint) Topic() Topic { return MustTopic("typed") }

func (typedEndpoint) NewPayload() any { return &typedPayload{} }

func (typedEndpoint) Handle(_ context.Context, req *Request) (any, error) {
	p := req.Payload.Value.(*typedPayload)
	return map[string]int{"doubled": p.Count * 2}, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func factoryWithPinger(inner transportpkg.Factory, pinger pingerFunc) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
		tr, err := inner.Build(ctx, conf, logger)
		if err != nil {
			return tr, err
		}
		tr.Pinger = pinger
		return tr, nil
	})
}

type atomicCounter struct {
	n atomic.Int32
}

func (c *atomicCounter) inc() int32 { return c.n.Add(1) }
