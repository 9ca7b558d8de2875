package protorelay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protorelay/internal/runtime/logging/logtest"
)

type greeting struct {
	Name string `json:"name"`
}

func TestFacadeRoundTrip(t *testing.T) {
	svc := NewService(&Config{PubSubSystem: "channel", ClusterID: "facade"}, logtest.New(), ServiceDependencies{})
	n := svc.Discover(
		JSON("greet", func(_ context.Context, req JSONRequest[*greeting]) (any, error) {
			return map[string]string{"hello": req.Payload.Name}, nil
		}),
		Echo("echo"),
	)
	n += svc.Discover(BuiltinEndpoints()...)
	require.Equal(t, 4, n)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()
	require.Eventually(t, func() bool { return svc.State() == StateListening }, 2*time.Second, 5*time.Millisecond)

	reply, err := svc.NewClient().Request(context.Background(), "GREET", greeting{Name: "ada"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"ada"}`, string(reply.Data))
	assert.Equal(t, "facade", reply.ClusterID)
}

func TestFacadeClientOnBus(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	client, err := NewClient(ps, ps, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.Request(ctx, "NOBODY", nil)
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestTopicExports(t *testing.T) {
	topic, err := NewTopic("verifyall:123")
	require.NoError(t, err)
	assert.Equal(t, "VERIFYALL:123", topic.String())
	assert.True(t, MustTopic("VERIFYALL").Equal(topic.Head()))

	_, err = ParseTopic(7)
	var invalid *InvalidTopicError
	assert.ErrorAs(t, err, &invalid)

	assert.Equal(t, "REPLY:abc", ReplyChannel("abc"))
	assert.Equal(t, "CLUSTER_A", InformationTopic("a"))
}

func TestHandlerExportsPropagateErrors(t *testing.T) {
	_, err := NewJSONEndpoint[*greeting]("x", nil, logtest.New())
	assert.ErrorIs(t, err, ErrHandlerRequired)

	_, err = NewFuncEndpoint("x", nil)
	assert.ErrorIs(t, err, ErrHandlerRequired)
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	_, err := Marshal(payload)
	require.NoError(t, err)
	_, err = MarshalIndent(payload, "", "  ")
	require.NoError(t, err)
	require.NoError(t, Unmarshal([]byte(`{"hello":"world"}`), &payload))
}

func TestLoggerExports(t *testing.T) {
	logger := NewWatermillServiceLogger(watermill.NopLogger{})
	logger.Info("boot", LogFields{"component": "test"})
}

func TestErrorExports(t *testing.T) {
	err := &ConnectError{Transport: "redis", Err: errors.New("refused")}
	var target *ConnectError
	assert.ErrorAs(t, error(err), &target)
	assert.NotEmpty(t, NewNonce())
	assert.Len(t, CreateULID(), 26)
}
