package endpoints

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runtimepkg "github.com/drblury/protorelay/internal/runtime"
	configpkg "github.com/drblury/protorelay/internal/runtime/config"
	"github.com/drblury/protorelay/internal/runtime/logging/logtest"
)

func newNode(t *testing.T, clusterID string) (*runtimepkg.Service, *logtest.Recorder) {
	t.Helper()
	rec := logtest.New()
	svc := runtimepkg.NewService(&configpkg.Config{
		PubSubSystem:    "channel",
		ClusterID:       clusterID,
		HandlerTimeout:  time.Second,
		ShutdownTimeout: time.Second,
	}, rec, runtimepkg.ServiceDependencies{})
	return svc, rec
}

func run(t *testing.T, svc *runtimepkg.Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("node did not stop")
		}
	})
	require.Eventually(t, func() bool { return svc.State() == runtimepkg.StateListening }, 2*time.Second, 5*time.Millisecond)
}

func TestIdentify(t *testing.T) {
	svc, _ := newNode(t, "alpha")
	require.Equal(t, 3, svc.Discover(Identify(), Information(), Echo("echo")))
	run(t, svc)
	client := svc.NewClient()

	reply, err := client.Request(context.Background(), IdentifyTopic, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cluster_id":"alpha"}`, string(reply.Data))
	assert.Equal(t, "alpha", reply.ClusterID)

	reply, err = client.Request(context.Background(), IdentifyTopic, map[string]string{"target_cluster_id": "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", reply.ClusterID)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	replies, err := client.Gather(ctx, IdentifyTopic, map[string]string{"target_cluster_id": "beta"}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestInformation(t *testing.T) {
	svc, _ := newNode(t, "alpha")
	svc.Discover(Builtins()...)
	run(t, svc)

	reply, err := svc.NewClient().Request(context.Background(), "cluster_alpha", nil)
	require.NoError(t, err)

	var info runtimepkg.NodeInfo
	require.NoError(t, reply.Decode(&info))
	assert.Equal(t, "alpha", info.ClusterID)
	assert.Equal(t, "listening", info.State)
	assert.ElementsMatch(t, []string{"IDENTIFY", "CLUSTER_ALPHA"}, info.Endpoints)
	assert.Equal(t, svc.StartedAt().Unix(), info.StartedAt.Unix())
}

func TestInformationNeedsClusterID(t *testing.T) {
	svc, rec := newNode(t, "")
	assert.Equal(t, 1, svc.Discover(Builtins()...))
	skipped := rec.Find("error", "Skipped endpoint")
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0].Err, ErrClusterIDRequired)
}

func TestEcho(t *testing.T) {
	svc, _ := newNode(t, "alpha")
	svc.Discover(Echo([]string{"test", "echo"}))
	run(t, svc)

	reply, err := svc.NewClient().Request(context.Background(), "TEST:ECHO", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(reply.Data))
}

func TestInformationTopic(t *testing.T) {
	assert.Equal(t, "CLUSTER_NODE-1", InformationTopic("node-1"))
}
