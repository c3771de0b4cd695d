//go:build integration

package natsclient

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/metric"
)

func TestIntegration_Connect(t *testing.T) {
	ts := StartTestServer(t)

	assert.True(t, ts.Client.IsHealthy())
	assert.Equal(t, StateConnected, ts.Client.State())

	rtt, err := ts.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	ts := StartTestServer(t)
	ctx := context.Background()

	received := make(chan string, 1)
	require.NoError(t, ts.Client.Subscribe(ctx, "devlink.test.rx", func(_ context.Context, data []byte) {
		received <- string(data)
	}))

	require.NoError(t, ts.Client.Publish(ctx, "devlink.test.rx", []byte("PWR ON")))

	select {
	case msg := <-received:
		assert.Equal(t, "PWR ON", msg)
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_SubscriptionEndsWithContext(t *testing.T) {
	ts := StartTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan string, 4)
	require.NoError(t, ts.Client.Subscribe(ctx, "devlink.test.tx", func(_ context.Context, data []byte) {
		received <- string(data)
	}))
	cancel()

	// the unsubscribe runs asynchronously
	require.Eventually(t, func() bool {
		_ = ts.Client.Publish(context.Background(), "devlink.test.tx", []byte("late"))
		select {
		case <-received:
			return false
		case <-time.After(50 * time.Millisecond):
			return true
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegration_RequestReply(t *testing.T) {
	ts := StartTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.Client.SubscribeRequest(ctx, "devlink.test.req",
		func(_ context.Context, data []byte) ([]byte, error) {
			if string(data) == "fail" {
				return nil, stderrors.New("no response")
			}
			return []byte(strings.ToUpper(string(data))), nil
		}))

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	reply, err := ts.Client.Request(reqCtx, "devlink.test.req", []byte("status?"))
	require.NoError(t, err)
	assert.Equal(t, "STATUS?", string(reply))

	reply, err = ts.Client.Request(reqCtx, "devlink.test.req", []byte("fail"))
	require.NoError(t, err)
	assert.Equal(t, ErrorReplyPrefix+"no response", string(reply))
}

func TestIntegration_HealthWatchRecordsRTT(t *testing.T) {
	ts := StartTestServer(t)
	registry := metric.NewMetricsRegistry()

	client, err := NewClient(ts.URL, WithMetrics(registry), WithHealthInterval(50*time.Millisecond))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(core.NATSRTT) > 0 && client.IsHealthy()
	}, time.Second, 20*time.Millisecond)
}

func TestIntegration_CloseDrains(t *testing.T) {
	ts := StartTestServer(t)

	client, err := NewClient(ts.URL, WithHealthInterval(0))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Subscribe(ctx, "devlink.test.rx", func(context.Context, []byte) {}))

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, client.Close(closeCtx))
	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, ErrNotConnected, client.Publish(ctx, "devlink.test.rx", nil))
}
