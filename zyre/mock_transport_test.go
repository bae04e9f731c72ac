package zyre

import (
	"context"
	"sync"
	"time"
)

// handleTracker counts live transport and occurrence handles.
type handleTracker struct {
	mu        sync.Mutex
	created   int
	destroyed int
}

func (h *handleTracker) acquire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created++
}

func (h *handleTracker) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed++
}

func (h *handleTracker) live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created - h.destroyed
}

func (h *handleTracker) releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

type mockBackend struct {
	tracker  *handleTracker
	startErr error
	names    []string
	last     *mockTransport
}

func newMockBackend() *mockBackend {
	return &mockBackend{tracker: &handleTracker{}}
}

func (b *mockBackend) NewTransport(name string) (Transport, error) {
	b.names = append(b.names, name)
	b.tracker.acquire()
	t := &mockTransport{
		tracker:  b.tracker,
		uuid:     "0123456789ABCDEF0123456789ABCDEF",
		name:     name,
		headers:  make(map[string]string),
		peers:    make(map[string]mockPeer),
		startErr: b.startErr,
		inbox:    make(chan Occurrence, 16),
		ready:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	if name == "" {
		t.name = t.uuid[:6]
	}
	b.last = t
	return t, nil
}

func (b *mockBackend) Version() Version {
	return Version{Major: 2, Minor: 0, Patch: 1}
}

type mockPeer struct {
	addr    string
	headers map[string]string
	groups  []string
}

type sentMsg struct {
	kind   string
	target string
	frames [][]byte
}

type mockTransport struct {
	tracker *handleTracker

	uuid     string
	name     string
	headers  map[string]string
	port     int
	interval time.Duration
	iface    string
	verbose  bool

	startErr  error
	starts    int
	stops     int
	destroyed int

	groups []string
	peers  map[string]mockPeer
	sent   []sentMsg

	inbox     chan Occurrence
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *mockTransport) UUID() string { return t.uuid }
func (t *mockTransport) Name() string { return t.name }

func (t *mockTransport) SetHeader(key, value string)        { t.headers[key] = value }
func (t *mockTransport) SetVerbose()                        { t.verbose = true }
func (t *mockTransport) SetPort(port int)                   { t.port = port }
func (t *mockTransport) SetInterval(interval time.Duration) { t.interval = interval }
func (t *mockTransport) SetInterface(iface string)          { t.iface = iface }

func (t *mockTransport) Start() error {
	if t.startErr != nil {
		return t.startErr
	}
	t.starts++
	return nil
}

func (t *mockTransport) Stop() { t.stops++ }

func (t *mockTransport) Join(group string) error {
	for _, g := range t.groups {
		if g == group {
			return nil
		}
	}
	t.groups = append(t.groups, group)
	return nil
}

func (t *mockTransport) Leave(group string) error {
	for i, g := range t.groups {
		if g == group {
			t.groups = append(t.groups[:i], t.groups[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *mockTransport) Whisper(peer string, frames [][]byte) error {
	if _, ok := t.peers[peer]; !ok {
		return ErrUnknownPeer
	}
	t.sent = append(t.sent, sentMsg{kind: "whisper", target: peer, frames: frames})
	return nil
}

func (t *mockTransport) Shout(group string, frames [][]byte) error {
	t.sent = append(t.sent, sentMsg{kind: "shout", target: group, frames: frames})
	return nil
}

func (t *mockTransport) deliver(occ Occurrence) {
	t.inbox <- occ
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

func (t *mockTransport) Recv(ctx context.Context) (Occurrence, error) {
	select {
	case occ := <-t.inbox:
		return occ, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, ErrNodeClosed
	}
}

func (t *mockTransport) Peers() []string {
	var out []string
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

func (t *mockTransport) PeersByGroup(group string) []string {
	var out []string
	for id, p := range t.peers {
		for _, g := range p.groups {
			if g == group {
				out = append(out, id)
			}
		}
	}
	return out
}

func (t *mockTransport) OwnGroups() []string { return append([]string(nil), t.groups...) }

func (t *mockTransport) PeerGroups() []string {
	var out []string
	for _, p := range t.peers {
		out = append(out, p.groups...)
	}
	return out
}

func (t *mockTransport) PeerAddress(peer string) (string, error) {
	p, ok := t.peers[peer]
	if !ok {
		return "", ErrUnknownPeer
	}
	return p.addr, nil
}

func (t *mockTransport) PeerHeaderValue(peer, key string) (string, error) {
	p, ok := t.peers[peer]
	if !ok {
		return "", ErrUnknownPeer
	}
	v, ok := p.headers[key]
	if !ok {
		return "", ErrHeaderNotFound
	}
	return v, nil
}

func (t *mockTransport) Socket() Socket { return mockSocket{ready: t.ready} }

func (t *mockTransport) Destroy() {
	t.destroyed++
	t.tracker.release()
	t.closeOnce.Do(func() { close(t.closed) })
}

type mockSocket struct {
	ready chan struct{}
}

func (s mockSocket) Ready() <-chan struct{} { return s.ready }

// trackedOccurrence counts Destroy calls.
type trackedOccurrence struct {
	*RawOccurrence
	destroyed int
}

func newOccurrence(kind EventType) *trackedOccurrence {
	return &trackedOccurrence{RawOccurrence: &RawOccurrence{
		Kind:      kind,
		Peer:      "peer-uuid",
		PeerLabel: "peer-name",
		Addr:      "tcp://192.168.1.20:49152",
		Headers:   map[string]string{"X-ROLE": "worker"},
		GroupName: "room",
		Frames:    [][]byte{[]byte("hello"), []byte("world")},
	}}
}

func (o *trackedOccurrence) Destroy() {
	o.destroyed++
	o.RawOccurrence.Destroy()
}
