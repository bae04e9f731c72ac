package zyre_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/zyre-go/network"
	"github.com/VanDung-dev/zyre-go/network/inproc"
	"github.com/VanDung-dev/zyre-go/telemetry"
	"github.com/VanDung-dev/zyre-go/zyre"
)

func startNode(t *testing.T, backend zyre.Backend, name string, opts ...zyre.Option) *zyre.Node {
	t.Helper()
	n, err := zyre.NewNode(backend, name, opts...)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// await returns the first event of type want, closing the ones skipped.
func await(t *testing.T, n *zyre.Node, want zyre.EventType) *zyre.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, err := n.NextEvent(ctx)
		require.NoError(t, err, "waiting for %s", want)
		if ev.Type() == want {
			return ev
		}
		ev.Close()
	}
}

func TestScenarioNamedNode(t *testing.T) {
	n, err := zyre.NewNode(inproc.NewHub(), "alpha")
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, "alpha", n.Name())
	assert.Len(t, n.UUID(), 32)
}

func TestScenarioShout(t *testing.T) {
	hub := inproc.NewHub()
	a := startNode(t, hub, "alpha")
	b := startNode(t, hub, "beta")

	require.NoError(t, b.Join("room"))
	await(t, a, zyre.EventJoin).Close()

	msg := zyre.NewMsgString("hello")
	require.NoError(t, a.Shout("room", msg))
	assert.True(t, msg.IsEmpty())

	ev := await(t, b, zyre.EventShout)
	defer ev.Close()

	group, err := ev.Group()
	require.NoError(t, err)
	assert.Equal(t, "room", group)

	sender, err := ev.Sender()
	require.NoError(t, err)
	assert.Equal(t, a.UUID(), sender)

	name, err := ev.Name()
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)

	body, err := ev.TakeMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", body.String())
}

func TestScenarioWhisperWithoutGroup(t *testing.T) {
	hub := inproc.NewHub()
	a := startNode(t, hub, "alpha")
	b := startNode(t, hub, "beta")

	require.NoError(t, a.WhisperString(b.UUID(), "psst"))

	ev := await(t, b, zyre.EventWhisper)
	defer ev.Close()

	_, err := ev.Group()
	assert.ErrorIs(t, err, zyre.ErrInvalidEventAccess)

	addr, err := ev.Address()
	require.NoError(t, err)
	assert.Equal(t, "inproc://"+a.UUID(), addr)

	body, err := ev.TakeMessage()
	require.NoError(t, err)
	assert.Equal(t, "psst", body.String())
}

func TestScenarioEnterHeaders(t *testing.T) {
	hub := inproc.NewHub()
	a, err := zyre.NewNode(hub, "alpha")
	require.NoError(t, err)
	require.NoError(t, a.SetHeader("X-ROLE", "worker"))
	require.NoError(t, a.Start())
	defer a.Close()

	b := startNode(t, hub, "beta")

	ev := await(t, b, zyre.EventEnter)
	defer ev.Close()

	role, err := ev.HeaderValue("X-ROLE")
	require.NoError(t, err)
	assert.Equal(t, "worker", role)

	_, err = ev.HeaderValue("X-MISSING")
	assert.ErrorIs(t, err, zyre.ErrHeaderNotFound)

	role, err = b.PeerHeaderValue(a.UUID(), "X-ROLE")
	require.NoError(t, err)
	assert.Equal(t, "worker", role)
}

func TestScenarioStopWakesReceiver(t *testing.T) {
	n := startNode(t, inproc.NewHub(), "alpha")

	got := make(chan zyre.EventType, 1)
	go func() {
		ev, err := n.NextEvent(context.Background())
		if err != nil {
			got <- zyre.EventUnknown
			return
		}
		got <- ev.Type()
		ev.Close()
	}()

	time.Sleep(20 * time.Millisecond)
	n.Stop()

	select {
	case typ := <-got:
		assert.Equal(t, zyre.EventStop, typ)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver was not woken by Stop")
	}
}

func TestScenarioReceiveRaw(t *testing.T) {
	hub := inproc.NewHub()
	a := startNode(t, hub, "alpha")
	b := startNode(t, hub, "beta")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// ENTER carries no message.
	raw, err := b.ReceiveRaw(ctx)
	require.NoError(t, err)
	assert.True(t, raw.IsEmpty())

	require.NoError(t, a.Whisper(b.UUID(), zyre.NewMsgString("one", "two")))
	raw, err = b.ReceiveRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, raw.Len())
	assert.Equal(t, "onetwo", raw.String())
}

func TestScenarioMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics("zyre_test", reg)

	hub := inproc.NewHub()
	a := startNode(t, hub, "alpha", zyre.WithMetrics(m))
	b := startNode(t, hub, "beta")

	await(t, a, zyre.EventEnter).Close()
	require.NoError(t, a.WhisperString(b.UUID(), "hi"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Peers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("whisper", "ok")))
}

func TestScenarioNetworkSeed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket test in short mode")
	}

	cfg := network.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.DisableBeacon = true
	cfg.Interval = 100 * time.Millisecond

	port := freePort(t)
	fixed := cfg
	fixed.Port = port
	a := startNode(t, network.NewBackend(fixed), "alpha")
	require.NoError(t, a.Join("room"))

	seeded := cfg
	seeded.Seeds = []string{fmt.Sprintf("tcp://127.0.0.1:%d", port)}
	b := startNode(t, network.NewBackend(seeded), "beta")

	join := await(t, b, zyre.EventJoin)
	group, err := join.Group()
	require.NoError(t, err)
	assert.Equal(t, "room", group)
	join.Close()

	require.NoError(t, b.ShoutString("room", "hello"))
	ev := await(t, a, zyre.EventShout)
	defer ev.Close()
	body, err := ev.TakeMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", body.String())
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
