package zyre

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/VanDung-dev/zyre-go/telemetry"
)

// State is the lifecycle stage of a Node.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Node at construction.
type Option func(*Node)

// WithLogger sets the entry the node logs through.
func WithLogger(entry *logrus.Entry) Option {
	return func(n *Node) {
		if entry != nil {
			n.log = entry
		}
	}
}

// WithMetrics records node activity into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// Node is an addressable participant in the peer-to-peer mesh. It is the
// sole owner of one Transport; Close releases it and Move hands it on.
//
// A Node is meant to be driven by one goroutine. The lifecycle state is
// guarded so that Close from another goroutine is safe, but the lock is not
// held while a receive blocks.
type Node struct {
	mu        sync.Mutex
	transport Transport
	state     State

	log     *logrus.Entry
	metrics *telemetry.Metrics
}

// NewNode allocates a transport from backend. A non-empty name makes the node
// present its UUID under that display name; an empty name creates an
// anonymous node.
func NewNode(backend Backend, name string, opts ...Option) (*Node, error) {
	if backend == nil {
		return nil, fmt.Errorf("zyre: nil backend")
	}
	t, err := backend.NewTransport(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	n := &Node{
		transport: t,
		state:     StateCreated,
		log:       logrus.WithField("component", "zyre"),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.log.WithFields(logrus.Fields{
		"function": "NewNode",
		"uuid":     t.UUID(),
		"name":     t.Name(),
	}).Debug("Node created")
	return n, nil
}

// State returns the current lifecycle stage.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsRunning reports whether the node has started and not stopped.
func (n *Node) IsRunning() bool {
	return n.State() == StateStarted
}

func (n *Node) UUID() string {
	if t := n.handle(); t != nil {
		return t.UUID()
	}
	return ""
}

func (n *Node) Name() string {
	if t := n.handle(); t != nil {
		return t.Name()
	}
	return ""
}

// handle returns the transport, or nil once the node is closed.
func (n *Node) handle() Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transport
}

// configure runs fn against the transport while the node is still Created.
func (n *Node) configure(fn func(Transport)) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return ErrNodeClosed
	case StateCreated:
		fn(n.transport)
		return nil
	default:
		return ErrNodeStarted
	}
}

// SetHeader sets a header advertised to peers on connection.
func (n *Node) SetHeader(key, value string) error {
	return n.configure(func(t Transport) { t.SetHeader(key, value) })
}

// SetVerbose enables transport tracing.
func (n *Node) SetVerbose() error {
	return n.configure(func(t Transport) { t.SetVerbose() })
}

// SetPort sets the discovery port.
func (n *Node) SetPort(port int) error {
	return n.configure(func(t Transport) { t.SetPort(port) })
}

// SetInterval sets the re-announce period.
func (n *Node) SetInterval(interval time.Duration) error {
	return n.configure(func(t Transport) { t.SetInterval(interval) })
}

// SetInterface restricts discovery to the named network interface.
func (n *Node) SetInterface(iface string) error {
	return n.configure(func(t Transport) { t.SetInterface(iface) })
}

// Start hands the configuration to the transport and begins discovery.
// On failure the node stays Created and Start may be retried.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return ErrNodeClosed
	case StateStarted:
		return ErrNodeStarted
	case StateStopped:
		return ErrNodeStopped
	}

	if err := n.transport.Start(); err != nil {
		n.recordStart(false)
		n.log.WithError(err).WithFields(logrus.Fields{
			"function": "Start",
			"uuid":     n.transport.UUID(),
		}).Warn("Node failed to start")
		return fmt.Errorf("%w: %v", ErrNodeStartFailure, err)
	}

	n.state = StateStarted
	n.recordStart(true)
	n.log.WithFields(logrus.Fields{
		"function": "Start",
		"uuid":     n.transport.UUID(),
		"name":     n.transport.Name(),
	}).Info("Node started")
	return nil
}

// Stop leaves all groups and halts announcement. It is safe to call at any
// time and any number of times.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != StateStarted {
		return
	}
	n.transport.Stop()
	n.state = StateStopped
	n.log.WithFields(logrus.Fields{
		"function": "Stop",
		"uuid":     n.transport.UUID(),
	}).Info("Node stopped")
}

// Close stops the node and releases its transport exactly once. Closing a
// closed or moved-from node does nothing.
func (n *Node) Close() error {
	n.mu.Lock()
	t := n.transport
	n.transport = nil
	n.state = StateClosed
	n.mu.Unlock()

	if t == nil {
		return nil
	}
	uuid := t.UUID()
	t.Destroy()
	n.log.WithFields(logrus.Fields{
		"function": "Close",
		"uuid":     uuid,
	}).Debug("Node closed")
	return nil
}

// Move transfers the transport to a new Node. n is left closed and its
// Close becomes a no-op.
func (n *Node) Move() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	moved := &Node{
		transport: n.transport,
		state:     n.state,
		log:       n.log,
		metrics:   n.metrics,
	}
	n.transport = nil
	n.state = StateClosed
	return moved
}

// running returns the transport if the node accepts traffic.
func (n *Node) running() (Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return nil, ErrNodeClosed
	case StateStarted:
		return n.transport, nil
	default:
		return nil, ErrNodeNotRunning
	}
}

// Join joins group. Joining a group twice is a no-op.
func (n *Node) Join(group string) error {
	t, err := n.running()
	if err != nil {
		return err
	}
	return t.Join(group)
}

// Leave leaves group. Leaving a group not joined is a no-op.
func (n *Node) Leave(group string) error {
	t, err := n.running()
	if err != nil {
		return err
	}
	return t.Leave(group)
}

// Whisper sends msg to a single peer. msg is emptied whether or not the send
// succeeds; the error is the transport's best-effort status.
func (n *Node) Whisper(peer string, msg *Msg) error {
	frames := msg.take()
	return n.send("whisper", frames, func(t Transport) error {
		return t.Whisper(peer, frames)
	})
}

// Shout sends msg to every peer in group. msg is emptied whether or not the
// send succeeds.
func (n *Node) Shout(group string, msg *Msg) error {
	frames := msg.take()
	return n.send("shout", frames, func(t Transport) error {
		return t.Shout(group, frames)
	})
}

// WhisperString whispers a single-frame message.
func (n *Node) WhisperString(peer, s string) error {
	return n.Whisper(peer, NewMsgString(s))
}

// ShoutString shouts a single-frame message.
func (n *Node) ShoutString(group, s string) error {
	return n.Shout(group, NewMsgString(s))
}

func (n *Node) send(kind string, frames [][]byte, fn func(Transport) error) error {
	t, err := n.running()
	if err == nil && len(frames) == 0 {
		err = ErrEmptyMessage
	}
	if err == nil {
		err = fn(t)
	}
	if n.metrics != nil {
		n.metrics.RecordSend(kind, len(frames), err == nil)
	}
	if err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"function": kind,
			"frames":   len(frames),
		}).Debug("Send failed")
	}
	return err
}

// receivable returns the transport if occurrences may be pulled. A stopped
// node can still drain what was queued before Stop.
func (n *Node) receivable() (Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return nil, ErrNodeClosed
	case StateStarted, StateStopped:
		return n.transport, nil
	default:
		return nil, ErrNodeNotRunning
	}
}

// NextEvent blocks until the next occurrence arrives or ctx is done.
func (n *Node) NextEvent(ctx context.Context) (*Event, error) {
	t, err := n.receivable()
	if err != nil {
		return nil, err
	}
	occ, err := t.Recv(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := NewEvent(occ)
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.RecordEvent(ev.Type().String())
	}
	return ev, nil
}

// ReceiveRaw blocks until the next occurrence and returns its message
// payload. Occurrences that carry no message (ENTER, JOIN, STOP, ...) yield
// an empty Msg.
func (n *Node) ReceiveRaw(ctx context.Context) (*Msg, error) {
	t, err := n.receivable()
	if err != nil {
		return nil, err
	}
	occ, err := t.Recv(ctx)
	if err != nil {
		return nil, err
	}
	defer occ.Destroy()

	if n.metrics != nil {
		n.metrics.RecordRawReceive(occ.Type().String())
	}
	if !occ.Type().hasMessage() {
		return &Msg{}, nil
	}
	return msgFromFrames(occ.Content()), nil
}

// Peers returns the UUIDs of known peers.
func (n *Node) Peers() []string {
	if t := n.handle(); t != nil {
		return t.Peers()
	}
	return nil
}

// PeersByGroup returns the UUIDs of known peers in group.
func (n *Node) PeersByGroup(group string) []string {
	if t := n.handle(); t != nil {
		return t.PeersByGroup(group)
	}
	return nil
}

// OwnGroups returns the groups this node has joined.
func (n *Node) OwnGroups() []string {
	if t := n.handle(); t != nil {
		return t.OwnGroups()
	}
	return nil
}

// PeerGroups returns the groups known peers have joined.
func (n *Node) PeerGroups() []string {
	if t := n.handle(); t != nil {
		return t.PeerGroups()
	}
	return nil
}

// PeerAddress returns the network address of peer.
func (n *Node) PeerAddress(peer string) (string, error) {
	t := n.handle()
	if t == nil {
		return "", ErrNodeClosed
	}
	return t.PeerAddress(peer)
}

// PeerHeaderValue returns the value of header key advertised by peer.
func (n *Node) PeerHeaderValue(peer, key string) (string, error) {
	t := n.handle()
	if t == nil {
		return "", ErrNodeClosed
	}
	return t.PeerHeaderValue(peer, key)
}

// Socket returns the transport inbox for external readiness loops. The node
// keeps ownership; the socket is invalid after Close.
func (n *Node) Socket() Socket {
	if t := n.handle(); t != nil {
		return t.Socket()
	}
	return nil
}

// Dump writes a diagnostic summary of the node to w.
func (n *Node) Dump(w io.Writer) error {
	n.mu.Lock()
	t, state := n.transport, n.state
	n.mu.Unlock()

	if t == nil {
		_, err := fmt.Fprintf(w, "node: state=%s\n", state)
		return err
	}
	_, err := fmt.Fprintf(w,
		"node: uuid=%s name=%s state=%s\n peers: [%s]\n own groups: [%s]\n peer groups: [%s]\n",
		t.UUID(), t.Name(), state,
		strings.Join(t.Peers(), " "),
		strings.Join(t.OwnGroups(), " "),
		strings.Join(t.PeerGroups(), " "),
	)
	return err
}

// printer is implemented by transports with their own diagnostic dump.
type printer interface {
	Print()
}

// Print dumps the node to stdout, through the transport's own dump when it
// has one.
func (n *Node) Print() {
	if p, ok := n.handle().(printer); ok {
		p.Print()
		return
	}
	_ = n.Dump(os.Stdout)
}

func (n *Node) recordStart(success bool) {
	if n.metrics != nil {
		n.metrics.RecordStart(success)
	}
}
