package zyre

import (
	"context"
	"time"
)

// Backend creates transports. It is the factory side of the transport
// boundary; a Node asks it for exactly one Transport at construction.
type Backend interface {
	// NewTransport allocates a transport. An empty name creates an anonymous
	// node whose display name the transport derives itself.
	NewTransport(name string) (Transport, error)

	// Version reports the transport library version.
	Version() Version
}

// Transport is the peer-to-peer discovery and messaging engine a Node drives.
// Implementations need not be safe for concurrent use except that Destroy
// must unblock a pending Recv.
type Transport interface {
	UUID() string
	Name() string

	SetHeader(key, value string)
	SetVerbose()
	SetPort(port int)
	SetInterval(interval time.Duration)
	SetInterface(iface string)

	Start() error
	Stop()

	Join(group string) error
	Leave(group string) error

	// Whisper and Shout take ownership of frames.
	Whisper(peer string, frames [][]byte) error
	Shout(group string, frames [][]byte) error

	// Recv blocks until the next occurrence, ctx is done, or the transport
	// is destroyed.
	Recv(ctx context.Context) (Occurrence, error)

	Peers() []string
	PeersByGroup(group string) []string
	OwnGroups() []string
	PeerGroups() []string
	PeerAddress(peer string) (string, error)
	PeerHeaderValue(peer, key string) (string, error)

	Socket() Socket

	// Destroy stops the transport and releases every resource it holds.
	// It is called exactly once by the owning Node.
	Destroy()
}

// Occurrence is one raw notification received from a transport. The Event
// wrapping it is its only owner and calls Destroy exactly once.
type Occurrence interface {
	Type() EventType
	PeerUUID() string
	PeerName() string
	PeerAddr() string
	Header(key string) (string, bool)
	Group() string
	// Content returns the attached message frames. The slice is borrowed.
	Content() [][]byte
	Destroy()
}

// Socket is a borrowed view of the transport inbox for use in external
// readiness loops. The owning Node keeps it alive.
type Socket interface {
	// Ready returns a channel that receives a value when an occurrence is
	// waiting. A value may be stale if the occurrence was consumed since.
	Ready() <-chan struct{}
}

// RawOccurrence is a plain Occurrence for transports that decode in Go.
type RawOccurrence struct {
	Kind      EventType
	Peer      string
	PeerLabel string
	Addr      string
	Headers   map[string]string
	GroupName string
	Frames    [][]byte
}

func (o *RawOccurrence) Type() EventType  { return o.Kind }
func (o *RawOccurrence) PeerUUID() string { return o.Peer }
func (o *RawOccurrence) PeerName() string { return o.PeerLabel }
func (o *RawOccurrence) PeerAddr() string { return o.Addr }
func (o *RawOccurrence) Group() string    { return o.GroupName }

func (o *RawOccurrence) Header(key string) (string, bool) {
	v, ok := o.Headers[key]
	return v, ok
}

func (o *RawOccurrence) Content() [][]byte { return o.Frames }

// Destroy drops the frames so a released occurrence holds no payload.
func (o *RawOccurrence) Destroy() {
	o.Frames = nil
	o.Headers = nil
}
