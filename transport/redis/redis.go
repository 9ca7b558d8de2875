// Package redis provides a Redis PUBLISH/SUBSCRIBE transport for the relay.
// Message payloads travel as the raw channel payload so that nodes written
// against plain Redis clients can share the bus.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"

	"github.com/drblury/protorelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "redis"

// OutputBuffer is the per-subscription buffer size.
const OutputBuffer = 128

// ChannelMetadataKey carries the Redis channel a message arrived on.
const ChannelMetadataKey = transport.ChannelMetadataKey

// ErrClosed is returned when publishing or subscribing after Close.
var ErrClosed = errors.New("redis: pubsub closed")

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *goredis.Options) *goredis.Client {
	return goredis.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the Redis transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build creates a new Redis transport. The server is pinged once so that an
// unreachable broker fails the build instead of the first heartbeat.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	opts, err := Options(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	client := ClientFactory(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetDialTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return transport.Transport{}, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}

	ps := NewPubSub(client, logger)
	return transport.Transport{
		Publisher:  ps,
		Subscriber: ps,
		Pinger:     ps,
	}, nil
}

// Options derives client options from config. A URL wins over an address.
func Options(cfg transport.Config) (*goredis.Options, error) {
	var opts *goredis.Options
	switch {
	case cfg.GetRedisURL() != "":
		parsed, err := goredis.ParseURL(cfg.GetRedisURL())
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts = parsed
	case cfg.GetRedisAddr() != "":
		opts = &goredis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		}
	default:
		return nil, errors.New("redis: URL or address is required")
	}
	opts.DialTimeout = cfg.GetDialTimeout()
	return opts, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// PubSub implements message.Publisher, message.Subscriber,
// transport.PrefixSubscriber and transport.Pinger over one Redis client.
// Every subscription shares a single pub/sub connection; messages are
// demultiplexed by channel or pattern.
type PubSub struct {
	client *goredis.Client
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	conn    *goredis.PubSub
	subs    map[key]map[*subscriber]struct{}
	active  map[key]bool
	waiting map[key][]chan error
	wg      sync.WaitGroup
}

// NewPubSub wraps an existing client. Close closes the client.
func NewPubSub(client *goredis.Client, logger watermill.LoggerAdapter) *PubSub {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &PubSub{
		client:  client,
		logger:  logger,
		closing: make(chan struct{}),
		subs:    make(map[key]map[*subscriber]struct{}),
		active:  make(map[key]bool),
		waiting: make(map[key][]chan error),
	}
}

// Publish sends each message payload to the channel named by topic, under
// the message context.
func (p *PubSub) Publish(topic string, messages ...*message.Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	for _, msg := range messages {
		if err := p.client.Publish(msg.Context(), topic, []byte(msg.Payload)).Err(); err != nil {
			return fmt.Errorf("redis: publish to %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe listens on topic until ctx is cancelled, the PubSub is closed,
// or the connection fails. The returned channel is closed in all three cases.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.subscribe(ctx, key{name: topic})
}

// SubscribePrefix listens on every channel starting with prefix through
// PSUBSCRIBE. It ends like Subscribe.
func (p *PubSub) SubscribePrefix(ctx context.Context, prefix string) (<-chan *message.Message, error) {
	return p.subscribe(ctx, key{name: globEscaper.Replace(prefix) + "*", pattern: true})
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// key is one Redis subscription on the shared connection.
type key struct {
	name    string
	pattern bool
}

func (k key) String() string { return k.name }

func (k key) subscribe(ctx context.Context, conn *goredis.PubSub) error {
	if k.pattern {
		return conn.PSubscribe(ctx, k.name)
	}
	return conn.Subscribe(ctx, k.name)
}

func (k key) unsubscribe(ctx context.Context, conn *goredis.PubSub) error {
	if k.pattern {
		return conn.PUnsubscribe(ctx, k.name)
	}
	return conn.Unsubscribe(ctx, k.name)
}

// subscriber is one caller of Subscribe. out is closed exactly once, after
// done, so a blocked send always returns first.
type subscriber struct {
	key  key
	out  chan *message.Message
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	ended bool
}

func (s *subscriber) send(msg *message.Message, closing <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.out <- msg:
	case <-s.done:
	case <-closing:
	}
}

func (s *subscriber) end() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.out)
	}
}

func (p *PubSub) subscribe(ctx context.Context, k key) (<-chan *message.Message, error) {
	sub := &subscriber{
		key:  k,
		out:  make(chan *message.Message, OutputBuffer),
		done: make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	conn := p.connLocked()
	set, known := p.subs[k]
	if !known {
		// The command is written under the lock so it cannot overtake an
		// UNSUBSCRIBE for the same key.
		if err := k.subscribe(ctx, conn); err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("redis: subscribe to %s: %w", k, err)
		}
		set = make(map[*subscriber]struct{})
		p.subs[k] = set
	}
	set[sub] = struct{}{}
	var ready chan error
	if !p.active[k] {
		ready = make(chan error, 1)
		p.waiting[k] = append(p.waiting[k], ready)
	}
	p.mu.Unlock()

	if ready != nil {
		var err error
		select {
		case err = <-ready:
		case <-ctx.Done():
			err = ctx.Err()
		case <-p.closing:
			err = ErrClosed
		}
		if err != nil {
			p.remove(sub)
			if errors.Is(err, ErrClosed) {
				return nil, err
			}
			return nil, fmt.Errorf("redis: subscribe to %s: %w", k, err)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.remove(sub)
		return nil, ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.watch(ctx, sub)
	return sub.out, nil
}

// connLocked returns the shared connection, opening it and its router on
// first use.
func (p *PubSub) connLocked() *goredis.PubSub {
	if p.conn == nil {
		p.conn = p.client.Subscribe(context.Background())
		p.wg.Add(1)
		go p.route(p.conn)
	}
	return p.conn
}

func (p *PubSub) watch(ctx context.Context, sub *subscriber) {
	defer p.wg.Done()
	select {
	case <-ctx.Done():
	case <-p.closing:
	case <-sub.done:
	}
	p.remove(sub)
}

// remove ends sub and unsubscribes its key when no subscriber is left.
func (p *PubSub) remove(sub *subscriber) {
	p.mu.Lock()
	if set, ok := p.subs[sub.key]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(p.subs, sub.key)
				delete(p.active, sub.key)
				delete(p.waiting, sub.key)
				if p.conn != nil && !p.closed {
					ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
					if err := sub.key.unsubscribe(ctx, p.conn); err != nil {
						p.logger.Debug("Redis unsubscribe failed", watermill.LogFields{"channel": sub.key.String(), "error": err.Error()})
					}
					cancel()
				}
			}
		}
	}
	p.mu.Unlock()
	sub.end()
}

const unsubscribeTimeout = time.Second

// route reads the shared connection until it fails or is closed.
func (p *PubSub) route(conn *goredis.PubSub) {
	defer p.wg.Done()
	for {
		received, err := conn.Receive(context.Background())
		if err != nil {
			p.fail(conn, err)
			return
		}
		switch m := received.(type) {
		case *goredis.Subscription:
			switch m.Kind {
			case "subscribe":
				p.confirm(key{name: m.Channel})
			case "psubscribe":
				p.confirm(key{name: m.Channel, pattern: true})
			}
		case *goredis.Message:
			p.deliver(m)
		}
	}
}

func (p *PubSub) confirm(k key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[k]; !ok {
		return
	}
	p.active[k] = true
	for _, ready := range p.waiting[k] {
		ready <- nil
	}
	delete(p.waiting, k)
}

func (p *PubSub) deliver(m *goredis.Message) {
	k := key{name: m.Channel}
	if m.Pattern != "" {
		k = key{name: m.Pattern, pattern: true}
	}

	p.mu.Lock()
	targets := make([]*subscriber, 0, len(p.subs[k]))
	for sub := range p.subs[k] {
		targets = append(targets, sub)
	}
	p.mu.Unlock()

	for _, sub := range targets {
		msg := message.NewMessage(watermill.NewUUID(), []byte(m.Payload))
		msg.Metadata.Set(ChannelMetadataKey, m.Channel)
		sub.send(msg, p.closing)
	}
}

// fail ends every subscription of a lost connection. The next Subscribe
// opens a fresh one.
func (p *PubSub) fail(conn *goredis.PubSub, err error) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	closed := p.closed
	p.conn = nil
	subs := p.subs
	waiting := p.waiting
	p.subs = make(map[key]map[*subscriber]struct{})
	p.active = make(map[key]bool)
	p.waiting = make(map[key][]chan error)
	p.mu.Unlock()

	if !closed {
		p.logger.Error("Redis subscription failed", err, watermill.LogFields{"subscriptions": len(subs)})
	}
	for _, readies := range waiting {
		for _, ready := range readies {
			ready <- err
		}
	}
	for _, set := range subs {
		for sub := range set {
			sub.end()
		}
	}
	_ = conn.Close()
}

// Ping sends PING to the server.
func (p *PubSub) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close ends every subscription and closes the client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	p.wg.Wait()
	return p.client.Close()
}

func (p *PubSub) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
