// Package nats provides a NATS Core transport for the relay. JetStream is
// disabled: the relay wants plain fire-and-forget subjects where every
// subscribing node receives each message.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/protorelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Conn is the subset of *nats.Conn used for heartbeats.
type Conn interface {
	FlushWithContext(ctx context.Context) error
	Close()
}

// ConnFactory allows overriding the heartbeat connection for testing.
var ConnFactory = func(url string, opts ...nc.Option) (Conn, error) {
	return nc.Connect(url, opts...)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}
	options := []nc.Option{
		nc.Name(connectionName(cfg.GetClusterID())),
		nc.Timeout(cfg.GetDialTimeout()),
	}
	marshaler := &nats.NATSMarshaler{}
	jetStream := nats.JetStreamConfig{Disabled: true}

	conn, err := ConnFactory(url, options...)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		conn.Close()
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			NatsOptions:      options,
			Unmarshaler:      marshaler,
			SubscribersCount: 1,
			CloseTimeout:     cfg.GetDialTimeout(),
			SubscribeTimeout: cfg.GetDialTimeout(),
			JetStream:        jetStream,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		conn.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Pinger:     &connPinger{conn: conn},
	}, nil
}

func connectionName(clusterID string) string {
	if clusterID == "" {
		return "protorelay"
	}
	return "protorelay-" + clusterID
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// connPinger round-trips a PING to the server.
type connPinger struct {
	conn Conn
}

func (p *connPinger) Ping(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *connPinger) Close() error {
	p.conn.Close()
	return nil
}
