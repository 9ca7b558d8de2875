// Package transport defines the bus abstraction the relay runs on. Each
// broker (redis, nats, rabbitmq, in-memory channel) lives in its own
// sub-package and registers a Builder with the transport registry.
package transport

import (
	"context"
	"errors"
	"io"
	"reflect"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Pinger is implemented by transports that can check broker liveness.
// The relay heartbeat treats a failed ping as connection loss.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Separator joins the segments of a channel name.
const Separator = ":"

// ChannelMetadataKey names the metadata entry holding the concrete channel a
// message was published on. Prefix subscriptions always set it.
const ChannelMetadataKey = "relay_channel"

// PrefixSubscriber is implemented by subscribers that can listen on every
// channel starting with prefix. Prefixes end with Separator, so "VERIFYALL:"
// matches "VERIFYALL:123" but neither "VERIFYALL" nor "VERIFYALLX:1".
type PrefixSubscriber interface {
	SubscribePrefix(ctx context.Context, prefix string) (<-chan *message.Message, error)
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Transport is one live bus connection: a publisher and subscriber pair
// produced by a Builder, plus an optional Pinger.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Pinger     Pinger
}

// Close releases every distinct component of the transport. Components that
// are the same object (a shared pub/sub) are closed once.
func (t Transport) Close() error {
	var errs []error
	closed := make([]any, 0, 3)
	closeOnce := func(v any) {
		if v == nil {
			return
		}
		c, ok := v.(io.Closer)
		if !ok {
			return
		}
		for _, prev := range closed {
			if sameObject(prev, v) {
				return
			}
		}
		closed = append(closed, v)
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if t.Subscriber != nil {
		closeOnce(t.Subscriber)
	}
	if t.Publisher != nil {
		closeOnce(t.Publisher)
	}
	if t.Pinger != nil {
		closeOnce(t.Pinger)
	}
	return errors.Join(errs...)
}

func sameObject(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// GetClusterID identifies this node; transports may use it to name
	// per-node resources such as AMQP queues.
	GetClusterID() string

	// Redis
	GetRedisURL() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int

	// NATS
	GetNATSURL() string

	// RabbitMQ
	GetRabbitMQURL() string

	// GetDialTimeout bounds establishing the broker connection.
	GetDialTimeout() time.Duration
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
