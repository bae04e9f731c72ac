// Package inproc provides an in-process zyre backend. Transports created by
// the same Hub discover each other as soon as they start, without sockets.
package inproc

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/VanDung-dev/zyre-go/zyre"
)

// Version is reported by every Hub.
var Version = zyre.Version{Major: 1, Minor: 0, Patch: 0}

// DefaultQueueSize bounds each transport inbox.
const DefaultQueueSize = 1000

// ErrHubClosed is returned when starting a transport on a closed hub.
var ErrHubClosed = errors.New("inproc: hub closed")

// Hub connects the transports it creates. It implements zyre.Backend.
type Hub struct {
	mu      sync.Mutex
	members map[string]*Transport
	closed  bool
	log     *logrus.Entry
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		members: make(map[string]*Transport),
		log:     logrus.WithField("component", "inproc"),
	}
}

// NewTransport creates a stopped transport attached to h.
func (h *Hub) NewTransport(name string) (zyre.Transport, error) {
	id := uuid.New()
	hexID := strings.ToUpper(hex.EncodeToString(id[:]))
	if name == "" {
		name = hexID[:6]
	}
	return &Transport{
		hub:     h,
		uuid:    hexID,
		name:    name,
		headers: make(map[string]string),
		groups:  make(map[string]struct{}),
		log:     h.log.WithField("uuid", hexID),
		inbox:   make(chan zyre.Occurrence, DefaultQueueSize),
		ready:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}, nil
}

func (h *Hub) Version() zyre.Version { return Version }

// Close stops every running transport. Later starts fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	running := make([]*Transport, 0, len(h.members))
	for _, t := range h.members {
		running = append(running, t)
	}
	h.mu.Unlock()

	for _, t := range running {
		t.Stop()
	}
}

// Transport is one in-process node. Its peer-visible state is guarded by the
// hub lock.
type Transport struct {
	hub  *Hub
	uuid string
	name string
	log  *logrus.Entry

	headers  map[string]string
	groups   map[string]struct{}
	running  bool
	port     int
	interval time.Duration
	iface    string

	inbox     chan zyre.Occurrence
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *Transport) UUID() string { return t.uuid }
func (t *Transport) Name() string { return t.name }

func (t *Transport) SetHeader(key, value string) {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	t.headers[key] = value
}

func (t *Transport) SetVerbose() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	t.log = logrus.NewEntry(logger).WithFields(t.log.Data)
}

// SetPort, SetInterval and SetInterface are recorded but have no effect
// in process.
func (t *Transport) SetPort(port int)                   { t.port = port }
func (t *Transport) SetInterval(interval time.Duration) { t.interval = interval }
func (t *Transport) SetInterface(iface string)          { t.iface = iface }

func (t *Transport) address() string {
	return "inproc://" + t.uuid
}

// Start registers t with the hub and introduces it to every running member.
func (t *Transport) Start() error {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if t.running {
		return errors.New("inproc: transport already running")
	}
	t.running = true

	for _, other := range h.sortedMembers() {
		other.introduce(t)
		t.introduce(other)
	}
	h.members[t.uuid] = t

	t.log.WithFields(logrus.Fields{
		"function": "Start",
		"members":  len(h.members),
	}).Info("Transport started")
	return nil
}

// Stop leaves every group and then the hub. Members see LEAVE per group and
// EXIT; t receives STOP.
func (t *Transport) Stop() {
	h := t.hub
	h.mu.Lock()
	if !t.running {
		h.mu.Unlock()
		return
	}
	t.running = false
	delete(h.members, t.uuid)
	groups := sortedKeys(t.groups)
	t.groups = make(map[string]struct{})
	for _, other := range h.sortedMembers() {
		for _, g := range groups {
			leave := t.occurrence(zyre.EventLeave)
			leave.GroupName = g
			other.emit(leave)
		}
		other.emit(t.occurrence(zyre.EventExit))
	}
	t.emit(&zyre.RawOccurrence{Kind: zyre.EventStop})
	h.mu.Unlock()

	t.log.WithField("function", "Stop").Info("Transport stopped")
}

func (t *Transport) Destroy() {
	t.Stop()
	t.closeOnce.Do(func() { close(t.closed) })
}

// introduce tells t about peer: ENTER followed by one JOIN per group. The
// caller holds the hub lock.
func (t *Transport) introduce(peer *Transport) {
	enter := peer.occurrence(zyre.EventEnter)
	enter.Headers = make(map[string]string, len(peer.headers))
	for k, v := range peer.headers {
		enter.Headers[k] = v
	}
	t.emit(enter)

	for _, g := range sortedKeys(peer.groups) {
		join := peer.occurrence(zyre.EventJoin)
		join.GroupName = g
		t.emit(join)
	}
}

// occurrence builds an occurrence sent by t.
func (t *Transport) occurrence(kind zyre.EventType) *zyre.RawOccurrence {
	return &zyre.RawOccurrence{
		Kind:      kind,
		Peer:      t.uuid,
		PeerLabel: t.name,
		Addr:      t.address(),
	}
}

func (t *Transport) Join(group string) error {
	return t.setMembership(group, true)
}

func (t *Transport) Leave(group string) error {
	return t.setMembership(group, false)
}

func (t *Transport) setMembership(group string, join bool) error {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !t.running {
		return zyre.ErrNodeNotRunning
	}
	if _, member := t.groups[group]; member == join {
		return nil
	}
	kind := zyre.EventLeave
	if join {
		kind = zyre.EventJoin
		t.groups[group] = struct{}{}
	} else {
		delete(t.groups, group)
	}
	for _, other := range h.sortedMembers() {
		if other == t {
			continue
		}
		occ := t.occurrence(kind)
		occ.GroupName = group
		other.emit(occ)
	}
	return nil
}

func (t *Transport) Whisper(peer string, frames [][]byte) error {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !t.running {
		return zyre.ErrNodeNotRunning
	}
	other, ok := h.members[peer]
	if !ok || other == t {
		return zyre.ErrUnknownPeer
	}
	occ := t.occurrence(zyre.EventWhisper)
	occ.Frames = frames
	other.emit(occ)
	return nil
}

func (t *Transport) Shout(group string, frames [][]byte) error {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !t.running {
		return zyre.ErrNodeNotRunning
	}
	for _, other := range h.sortedMembers() {
		if other == t {
			continue
		}
		if _, member := other.groups[group]; !member {
			continue
		}
		occ := t.occurrence(zyre.EventShout)
		occ.GroupName = group
		occ.Frames = copyFrames(frames)
		other.emit(occ)
	}
	return nil
}

// emit queues occ for t. The caller holds the hub lock.
func (t *Transport) emit(occ *zyre.RawOccurrence) {
	select {
	case t.inbox <- occ:
	default:
		t.log.WithField("type", occ.Kind.String()).Warn("Inbox full, dropping occurrence")
		return
	}
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

func (t *Transport) Recv(ctx context.Context) (zyre.Occurrence, error) {
	select {
	case <-t.closed:
		return nil, zyre.ErrNodeClosed
	default:
	}
	select {
	case occ := <-t.inbox:
		return occ, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, zyre.ErrNodeClosed
	}
}

func (t *Transport) Peers() []string {
	return t.PeersByGroup("")
}

func (t *Transport) PeersByGroup(group string) []string {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if !t.running {
		return []string{}
	}
	ids := []string{}
	for _, other := range h.sortedMembers() {
		if other == t {
			continue
		}
		if group != "" {
			if _, member := other.groups[group]; !member {
				continue
			}
		}
		ids = append(ids, other.uuid)
	}
	return ids
}

func (t *Transport) OwnGroups() []string {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	return sortedKeys(t.groups)
}

func (t *Transport) PeerGroups() []string {
	h := t.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	all := make(map[string]struct{})
	if t.running {
		for _, other := range h.members {
			if other == t {
				continue
			}
			for g := range other.groups {
				all[g] = struct{}{}
			}
		}
	}
	return sortedKeys(all)
}

// lookup returns a running peer. The caller holds the hub lock.
func (t *Transport) lookup(peer string) (*Transport, error) {
	other, ok := t.hub.members[peer]
	if !t.running || !ok || other == t {
		return nil, zyre.ErrUnknownPeer
	}
	return other, nil
}

func (t *Transport) PeerAddress(peer string) (string, error) {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	other, err := t.lookup(peer)
	if err != nil {
		return "", err
	}
	return other.address(), nil
}

func (t *Transport) PeerHeaderValue(peer, key string) (string, error) {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()

	other, err := t.lookup(peer)
	if err != nil {
		return "", err
	}
	v, ok := other.headers[key]
	if !ok {
		return "", zyre.ErrHeaderNotFound
	}
	return v, nil
}

func (t *Transport) Socket() zyre.Socket {
	return readySocket(t.ready)
}

type readySocket chan struct{}

func (s readySocket) Ready() <-chan struct{} { return s }

// sortedMembers returns running members ordered by UUID. The caller holds
// the hub lock.
func (h *Hub) sortedMembers() []*Transport {
	out := make([]*Transport, 0, len(h.members))
	for _, t := range h.members {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uuid < out[j].uuid })
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}
