package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/protorelay/internal/runtime/config"
	bus "github.com/drblury/protorelay/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/protorelay/transport/transports"
)

// Transport is one live bus connection.
type Transport = bus.Transport

// Factory abstracts how the relay initialises its bus connection. The
// lifecycle manager calls Build at startup and again after every
// connection loss.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in transport factory that uses the
// transport registry.
func DefaultFactory() Factory {
	return defaultFactory{registry: bus.DefaultRegistry}
}

// RegistryFactory builds transports from a specific registry.
func RegistryFactory(registry *bus.Registry) Factory {
	return defaultFactory{registry: registry}
}

type defaultFactory struct {
	registry *bus.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}
	if t.Publisher == nil || t.Subscriber == nil {
		_ = t.Close()
		return Transport{}, fmt.Errorf("%s: publisher and subscriber are required", conf.PubSubSystem)
	}
	return t, nil
}
