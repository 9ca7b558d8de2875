// Package rabbitmq provides a RabbitMQ/AMQP transport for the relay. Every
// channel maps to a non-durable fanout exchange and each node binds its own
// auto-deleted queue, so all nodes see every request.
package rabbitmq

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/protorelay/internal/runtime/ids"
	"github.com/drblury/protorelay/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ErrNotConnected is returned by the heartbeat when the AMQP connection is down.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("rabbitmq: URL is required")
	}

	amqpConfig := amqp.NewNonDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicNameWithSuffix(queueSuffix(cfg.GetClusterID())),
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Pinger:     &connPinger{conn: conn},
	}, nil
}

// queueSuffix names this node's queues. Without a cluster id a random suffix
// keeps nodes from sharing a queue and competing for messages.
func queueSuffix(clusterID string) string {
	if clusterID != "" {
		return "node-" + clusterID
	}
	return "node-" + ids.CreateULID()
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

type connection interface {
	IsConnected() bool
	Close() error
}

// connPinger reports the state tracked by the AMQP connection wrapper,
// which reconnects on its own and flips back once a channel is usable.
type connPinger struct {
	conn connection
}

func (p *connPinger) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (p *connPinger) Close() error {
	return p.conn.Close()
}
