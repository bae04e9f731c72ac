package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/zyre-go/zyre"
)

func newStarted(t *testing.T, h *Hub, name string) *Transport {
	t.Helper()
	tr, err := h.NewTransport(name)
	require.NoError(t, err)
	require.NoError(t, tr.Start())
	t.Cleanup(tr.Destroy)
	return tr.(*Transport)
}

func next(t *testing.T, tr *Transport) zyre.Occurrence {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	occ, err := tr.Recv(ctx)
	require.NoError(t, err)
	return occ
}

func TestHubAnonymousName(t *testing.T) {
	tr, err := NewHub().NewTransport("")
	require.NoError(t, err)
	assert.Equal(t, tr.UUID()[:6], tr.Name())
	assert.Len(t, tr.UUID(), 32)
}

func TestHubEnterAndJoinReplay(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")
	a.SetHeader("X-ROLE", "worker")
	require.NoError(t, a.Join("room"))

	b := newStarted(t, h, "beta")

	enter := next(t, b)
	assert.Equal(t, zyre.EventEnter, enter.Type())
	assert.Equal(t, a.UUID(), enter.PeerUUID())
	assert.Equal(t, "alpha", enter.PeerName())
	role, ok := enter.Header("X-ROLE")
	assert.True(t, ok)
	assert.Equal(t, "worker", role)

	join := next(t, b)
	assert.Equal(t, zyre.EventJoin, join.Type())
	assert.Equal(t, "room", join.Group())

	enter = next(t, a)
	assert.Equal(t, zyre.EventEnter, enter.Type())
	assert.Equal(t, b.UUID(), enter.PeerUUID())

	assert.Equal(t, []string{a.UUID()}, b.PeersByGroup("room"))
	assert.Equal(t, []string{"room"}, b.PeerGroups())
}

func TestHubShoutReachesGroupOnly(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")
	b := newStarted(t, h, "beta")
	c := newStarted(t, h, "gamma")
	require.NoError(t, b.Join("room"))

	require.NoError(t, a.Shout("room", [][]byte{[]byte("hello")}))

	var shout zyre.Occurrence
	for shout == nil {
		if occ := next(t, b); occ.Type() == zyre.EventShout {
			shout = occ
		}
	}
	assert.Equal(t, "room", shout.Group())
	assert.Equal(t, a.UUID(), shout.PeerUUID())
	assert.Equal(t, [][]byte{[]byte("hello")}, shout.Content())

	for len(c.inbox) > 0 {
		assert.NotEqual(t, zyre.EventShout, next(t, c).Type())
	}
}

func TestHubWhisper(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")
	b := newStarted(t, h, "beta")

	require.NoError(t, a.Whisper(b.UUID(), [][]byte{[]byte("psst")}))
	assert.ErrorIs(t, a.Whisper("nobody", [][]byte{[]byte("x")}), zyre.ErrUnknownPeer)

	next(t, b) // ENTER
	whisper := next(t, b)
	assert.Equal(t, zyre.EventWhisper, whisper.Type())
	assert.Equal(t, "inproc://"+a.UUID(), whisper.PeerAddr())

	addr, err := b.PeerAddress(a.UUID())
	require.NoError(t, err)
	assert.Equal(t, whisper.PeerAddr(), addr)
}

func TestHubStopNotifiesPeers(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")
	b := newStarted(t, h, "beta")
	next(t, a) // ENTER

	b.Stop()

	exit := next(t, a)
	assert.Equal(t, zyre.EventExit, exit.Type())
	assert.Equal(t, b.UUID(), exit.PeerUUID())
	assert.Empty(t, a.Peers())

	assert.Equal(t, zyre.EventEnter, next(t, b).Type())
	assert.Equal(t, zyre.EventStop, next(t, b).Type())
	assert.ErrorIs(t, b.Join("room"), zyre.ErrNodeNotRunning)
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")

	h.Close()

	assert.Equal(t, zyre.EventStop, next(t, a).Type())
	tr, err := h.NewTransport("late")
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Start(), ErrHubClosed)
}

func TestHubRecvAfterDestroy(t *testing.T) {
	tr, err := NewHub().NewTransport("alpha")
	require.NoError(t, err)
	tr.Destroy()

	_, err = tr.Recv(context.Background())
	assert.ErrorIs(t, err, zyre.ErrNodeClosed)
}

func TestHubHeaderLookup(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")
	b, err := h.NewTransport("beta")
	require.NoError(t, err)
	b.SetHeader("X-ROLE", "leader")
	require.NoError(t, b.Start())
	t.Cleanup(b.Destroy)

	v, err := a.PeerHeaderValue(b.UUID(), "X-ROLE")
	require.NoError(t, err)
	assert.Equal(t, "leader", v)

	_, err = a.PeerHeaderValue(b.UUID(), "X-NONE")
	assert.ErrorIs(t, err, zyre.ErrHeaderNotFound)
}

func TestHubStopLeavesGroups(t *testing.T) {
	h := NewHub()
	a := newStarted(t, h, "alpha")
	b := newStarted(t, h, "beta")
	require.NoError(t, a.Join("room"))

	a.Stop()

	assert.Empty(t, a.OwnGroups())
	assert.Empty(t, b.PeerGroups())

	assert.Equal(t, zyre.EventEnter, next(t, b).Type())
	assert.Equal(t, zyre.EventJoin, next(t, b).Type())
	leave := next(t, b)
	assert.Equal(t, zyre.EventLeave, leave.Type())
	assert.Equal(t, "room", leave.Group())
	assert.Equal(t, zyre.EventExit, next(t, b).Type())
}
