package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.entries)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	assert.True(t, reg.Has("test-transport"))
	assert.True(t, reg.Has("TEST-Transport"))
	assert.Contains(t, reg.Names(), "test-transport")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("test-transport", okBuilder, Capabilities{
		Name:         "test-transport",
		SupportsPing: true,
		Fanout:       true,
	})

	caps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", caps.Name)
	assert.True(t, caps.SupportsPing)
	assert.True(t, caps.Fanout)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsPing)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	var gotLogger watermill.LoggerAdapter
	reg.Register("test-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		gotLogger = logger
		return okBuilder(ctx, cfg, logger)
	})

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "Test-Transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.NotNil(t, gotLogger, "nil logger should be replaced with a no-op logger")
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("redis", okBuilder)

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "kafka"}, nil)
	require.ErrorIs(t, err, ErrUnknownTransport)
	assert.Contains(t, err.Error(), "redis")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("builder error")
	reg.Register("failing-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, expectedErr
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing-transport"}, nil)
	require.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "failing-transport")
}

func TestRegistry_NamesAreNormalized(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities(" Redis ", okBuilder, Capabilities{SupportsPing: true})

	assert.True(t, reg.Has("REDIS"))
	caps := reg.GetCapabilities("redis")
	assert.Equal(t, "redis", caps.Name)
	assert.True(t, caps.SupportsPing)

	reg.Register("redis", okBuilder)
	assert.True(t, reg.GetCapabilities("redis").SupportsPing, "re-registering a builder keeps capabilities")
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("nats", okBuilder)

	assert.True(t, reg.Unregister("NATS"))
	assert.False(t, reg.Unregister("nats"))
	assert.False(t, reg.Has("nats"))
	assert.Empty(t, reg.Names())
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("redis", okBuilder)
	reg.Register("channel", okBuilder)
	reg.Register("nats", okBuilder)

	assert.Equal(t, []string{"channel", "nats", "redis"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{
		Name:         "test-pkg-caps-transport",
		SupportsPing: true,
	})

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").SupportsPing)

	Register("test-pkg-transport", okBuilder)
	tr, err := Build(context.Background(), &mockConfig{pubSubSystem: "test-pkg-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
}
