package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsPing indicates the transport provides a Pinger for heartbeats.
	// When false, connection loss is only detected by a closed subscription.
	SupportsPing bool

	// Fanout indicates every subscriber of a channel receives each message,
	// which multi-node requests such as IDENTIFY depend on.
	Fanout bool

	// SupportsOrdering indicates the transport preserves publish order per channel.
	SupportsOrdering bool

	// PrefixSubscribe indicates the subscriber implements PrefixSubscriber.
	PrefixSubscribe bool

	// Persistent indicates messages survive without a live subscriber.
	Persistent bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// RequiresSubscriptionWatch returns true if connection loss can only be
// observed through a closed subscription channel.
func (c Capabilities) RequiresSubscriptionWatch() bool {
	return !c.SupportsPing
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsPing:     false,
		Fanout:           true,
		SupportsOrdering: true,
		PrefixSubscribe:  true,
	}

	// RedisCapabilities for Redis PUBLISH/SUBSCRIBE.
	RedisCapabilities = Capabilities{
		Name:             "redis",
		SupportsPing:     true,
		Fanout:           true,
		SupportsOrdering: true,
		PrefixSubscribe:  true,
		MaxMessageSize:   536870912, // proto-max-bulk-len default
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		SupportsPing:   true,
		Fanout:         true,
		MaxMessageSize: 1048576, // Default 1MB
	}

	// RabbitMQCapabilities for non-durable AMQP fanout exchanges.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsPing:     true,
		Fanout:           true,
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities with only Name set if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
