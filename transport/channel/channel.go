// Package channel provides an in-memory Go channel bus for the relay.
// Every subscriber of a channel receives each message, mirroring the fanout
// of a real broker, which makes this transport useful for tests and local
// development within one process.
package channel

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/protorelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputBuffer is the per-subscription buffer size.
const OutputBuffer = 128

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	b := NewBus(cfg, logger)
	return b, b
}

// prefixTopic names the internal gochannel topic carrying copies of every
// message published below prefix. The NUL byte keeps it apart from real
// channel names.
func prefixTopic(prefix string) string {
	return "\x00prefix" + transport.Separator + prefix
}

// Bus is a gochannel pub/sub that also serves prefix subscriptions. Every
// publish on "A:B:C" is copied to the prefix topics of "A:" and "A:B:", each
// copy carrying the concrete channel in its metadata.
type Bus struct {
	*gochannel.GoChannel
}

// NewBus returns an in-memory bus.
func NewBus(cfg gochannel.Config, logger watermill.LoggerAdapter) *Bus {
	return &Bus{GoChannel: gochannel.NewGoChannel(cfg, logger)}
}

// Publish delivers messages to the subscribers of topic and of every prefix
// of it.
func (b *Bus) Publish(topic string, messages ...*message.Message) error {
	if err := b.GoChannel.Publish(topic, messages...); err != nil {
		return err
	}
	for i := range len(topic) {
		if !strings.HasPrefix(topic[i:], transport.Separator) {
			continue
		}
		prefix := topic[:i+len(transport.Separator)]
		copies := make([]*message.Message, len(messages))
		for j, msg := range messages {
			c := msg.Copy()
			c.Metadata.Set(transport.ChannelMetadataKey, topic)
			copies[j] = c
		}
		if err := b.GoChannel.Publish(prefixTopic(prefix), copies...); err != nil {
			return err
		}
	}
	return nil
}

// SubscribePrefix delivers every message published on a channel that starts
// with prefix.
func (b *Bus) SubscribePrefix(ctx context.Context, prefix string) (<-chan *message.Message, error) {
	return b.GoChannel.Subscribe(ctx, prefixTopic(prefix))
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. It has no broker to ping, so
// the relay relies on the subscription channels to detect closure.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer: OutputBuffer,
		Persistent:          false,
	}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
