package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protorelay/internal/runtime/config"
	"github.com/drblury/protorelay/internal/runtime/logging"
	bus "github.com/drblury/protorelay/transport"
)

func testLogger() watermill.LoggerAdapter {
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	serviceLogger := logging.NewSlogServiceLogger(slogger)
	return logging.NewWatermillAdapter(serviceLogger)
}

func TestDefaultFactory_BuildChannel(t *testing.T) {
	tr, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "channel"}, testLogger())

	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.NoError(t, tr.Close())
}

func TestDefaultFactory_BuiltinsRegistered(t *testing.T) {
	for _, name := range []string{"channel", "redis", "nats", "rabbitmq"} {
		assert.True(t, bus.DefaultRegistry.Has(name), "expected %s to be registered", name)
	}
}

func TestDefaultFactory_NilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestDefaultFactory_InvalidTransport(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "invalid-transport"}, testLogger())
	require.ErrorIs(t, err, bus.ErrUnknownTransport)
	assert.Contains(t, err.Error(), "invalid-transport")
}

func TestRegistryFactory_RejectsIncompleteTransport(t *testing.T) {
	reg := bus.NewRegistry()
	reg.Register("half", func(ctx context.Context, cfg bus.Config, logger watermill.LoggerAdapter) (bus.Transport, error) {
		return bus.Transport{}, nil
	})

	_, err := RegistryFactory(reg).Build(context.Background(), &config.Config{PubSubSystem: "half"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher and subscriber are required")
}

func TestRegistryFactory_WrapsBuilderError(t *testing.T) {
	reg := bus.NewRegistry()
	cause := errors.New("dial tcp: refused")
	reg.Register("broken", func(ctx context.Context, cfg bus.Config, logger watermill.LoggerAdapter) (bus.Transport, error) {
		return bus.Transport{}, cause
	})

	_, err := RegistryFactory(reg).Build(context.Background(), &config.Config{PubSubSystem: "broken"}, testLogger())
	assert.ErrorIs(t, err, cause)
}

func TestFactoryFunc(t *testing.T) {
	called := false
	f := FactoryFunc(func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
		called = true
		return Transport{}, nil
	})

	_, err := f.Build(context.Background(), &config.Config{}, nil)
	require.NoError(t, err)
	assert.True(t, called)
}
