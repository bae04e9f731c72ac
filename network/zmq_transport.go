package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/VanDung-dev/zyre-go/zyre"
)

// sendTimeout bounds a single write on a peer pipe.
const sendTimeout = 2 * time.Second

// Transport is a zyre.Transport over ZeroMQ sockets.
type Transport struct {
	id      uuid.UUID
	uuid    string
	name    string
	cfg     Config
	headers map[string]string
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	router   zmq4.Socket // ROUTER inbox, identity = uuid
	endpoint string
	beacon   *beaconService

	peers      map[string]*peer
	pending    map[string]zmq4.Socket // seed endpoint -> pipe awaiting HELLO
	connecting map[string]bool
	groups     map[string]struct{}
	mu         sync.RWMutex

	running bool
	wg      sync.WaitGroup

	inbox       chan zyre.Occurrence
	ready       chan struct{}
	closed      chan struct{}
	destroyOnce sync.Once
}

// NewTransport creates a stopped transport. An empty name makes the node
// anonymous; its name is then the first six characters of its UUID.
func NewTransport(name string, cfg Config) *Transport {
	id := uuid.New()
	hexID := strings.ToUpper(hex.EncodeToString(id[:]))
	if name == "" {
		name = hexID[:6]
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	cfg.Seeds = append([]string(nil), cfg.Seeds...)

	return &Transport{
		id:         id,
		uuid:       hexID,
		name:       name,
		cfg:        cfg,
		headers:    make(map[string]string),
		log:        logrus.WithFields(logrus.Fields{"component": "network", "uuid": hexID}),
		peers:      make(map[string]*peer),
		pending:    make(map[string]zmq4.Socket),
		connecting: make(map[string]bool),
		groups:     make(map[string]struct{}),
		inbox:      make(chan zyre.Occurrence, cfg.QueueSize),
		ready:      make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

func (t *Transport) UUID() string { return t.uuid }
func (t *Transport) Name() string { return t.name }

// Endpoint returns the inbox address peers connect to, once started.
func (t *Transport) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endpoint
}

func (t *Transport) SetHeader(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers[key] = value
}

// SetVerbose switches this transport to its own logger at debug level.
func (t *Transport) SetVerbose() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(logrus.StandardLogger().Formatter)
	t.log = logrus.NewEntry(logger).WithFields(t.log.Data)
}

func (t *Transport) SetPort(port int) { t.cfg.BeaconPort = port }

func (t *Transport) SetInterval(interval time.Duration) { t.cfg.Interval = interval }

func (t *Transport) SetInterface(iface string) { t.cfg.Interface = iface }

// Start binds the inbox, starts discovery and contacts seed endpoints.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("transport already running")
	}
	if err := t.cfg.Validate(); err != nil {
		return err
	}
	host, err := resolveHost(t.cfg)
	if err != nil {
		return err
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())

	router := zmq4.NewRouter(t.ctx, zmq4.WithID(zmq4.SocketIdentity(t.uuid)))
	if err := router.Listen(fmt.Sprintf("tcp://%s:%d", host, t.cfg.Port)); err != nil {
		_ = router.Close()
		t.cancel()
		return fmt.Errorf("failed to bind inbox: %w", err)
	}
	tcpAddr, ok := router.Addr().(*net.TCPAddr)
	if !ok {
		_ = router.Close()
		t.cancel()
		return fmt.Errorf("inbox bound to unexpected address %v", router.Addr())
	}
	t.router = router
	t.endpoint = fmt.Sprintf("tcp://%s:%d", host, tcpAddr.Port)

	if !t.cfg.DisableBeacon {
		t.beacon = newBeaconService(t.id, uint16(tcpAddr.Port), t.cfg, t.log)
		t.beacon.OnBeacon(t.handleBeacon)
		if err := t.beacon.Start(); err != nil {
			_ = router.Close()
			t.cancel()
			t.beacon = nil
			return err
		}
	}

	t.running = true

	t.wg.Add(1)
	go t.receiverLoop()

	t.wg.Add(1)
	go t.pingLoop()

	for _, seed := range t.cfg.Seeds {
		t.wg.Add(1)
		go t.connectSeed(seed)
	}

	t.log.WithFields(logrus.Fields{
		"function": "Start",
		"endpoint": t.endpoint,
		"beacon":   !t.cfg.DisableBeacon,
		"seeds":    len(t.cfg.Seeds),
	}).Info("Transport started")
	return nil
}

// Stop says goodbye to peers and releases sockets. Own groups are cleared
// and a STOP occurrence is queued so a blocked receiver wakes up.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false

	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	pending := t.pending
	t.peers = make(map[string]*peer)
	t.pending = make(map[string]zmq4.Socket)
	// Peers drop our memberships when they see BYE.
	t.groups = make(map[string]struct{})
	t.mu.Unlock()

	for _, p := range peers {
		_ = t.sendTo(p, command{Type: cmdBye}, nil)
	}
	if t.beacon != nil {
		t.beacon.Stop()
	}

	// Cancel context to stop goroutines, then close sockets (best effort).
	t.cancel()
	_ = t.router.Close()
	for _, p := range peers {
		p.close()
	}
	for _, dealer := range pending {
		_ = dealer.Close()
	}

	t.wg.Wait()

	t.mu.Lock()
	t.emit(&zyre.RawOccurrence{Kind: zyre.EventStop})
	t.mu.Unlock()

	t.log.WithField("function", "Stop").Info("Transport stopped")
}

// Destroy stops the transport and makes further receives fail.
func (t *Transport) Destroy() {
	t.Stop()
	t.destroyOnce.Do(func() { close(t.closed) })
}

// Join joins group and tells every peer. Joining twice is a no-op.
func (t *Transport) Join(group string) error {
	return t.setMembership(group, true)
}

// Leave leaves group and tells every peer. Leaving a group not joined is a no-op.
func (t *Transport) Leave(group string) error {
	return t.setMembership(group, false)
}

func (t *Transport) setMembership(group string, join bool) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return zyre.ErrNodeNotRunning
	}
	_, member := t.groups[group]
	if member == join {
		t.mu.Unlock()
		return nil
	}
	cmd := command{Type: cmdLeave, Group: group}
	if join {
		t.groups[group] = struct{}{}
		cmd.Type = cmdJoin
	} else {
		delete(t.groups, group)
	}
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, p := range peers {
		p.sendMu.Lock()
		sent := p.helloSent
		p.sendMu.Unlock()
		// A peer still waiting for our HELLO learns the group from it.
		if sent {
			_ = t.sendTo(p, cmd, nil)
		}
	}

	t.log.WithFields(logrus.Fields{
		"function": cmd.Type,
		"group":    group,
	}).Debug("Membership changed")
	return nil
}

// Whisper sends frames to one peer.
func (t *Transport) Whisper(id string, frames [][]byte) error {
	t.mu.RLock()
	running := t.running
	p, ok := t.peers[id]
	known := ok && p.ready
	t.mu.RUnlock()

	if !running {
		return zyre.ErrNodeNotRunning
	}
	if !known {
		return fmt.Errorf("%w: %s", zyre.ErrUnknownPeer, id)
	}
	return t.sendTo(p, command{Type: cmdWhisper}, frames)
}

// Shout sends frames to every peer that joined group.
func (t *Transport) Shout(group string, frames [][]byte) error {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return zyre.ErrNodeNotRunning
	}
	peers := t.readyPeers(group)
	t.mu.RUnlock()

	var lastErr error
	for _, p := range peers {
		if err := t.sendTo(p, command{Type: cmdShout, Group: group}, frames); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Recv returns the next occurrence.
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

// Socket returns the readiness view of the inbox.
func (t *Transport) Socket() zyre.Socket {
	return inboxSocket{ready: t.ready}
}

type inboxSocket struct {
	ready chan struct{}
}

func (s inboxSocket) Ready() <-chan struct{} { return s.ready }

// emit queues an occurrence. The caller holds t.mu so that occurrences keep
// the order in which the peer table changed.
func (t *Transport) emit(occ *zyre.RawOccurrence) {
	select {
	case t.inbox <- occ:
	default:
		t.log.WithFields(logrus.Fields{
			"function": "emit",
			"type":     occ.Kind.String(),
		}).Warn("Inbox full, dropping occurrence")
		return
	}
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

// sendTo writes one envelope on p's pipe. HELLO always goes first on a pipe.
func (t *Transport) sendTo(p *peer, cmd command, content [][]byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.dealer == nil {
		return zyre.ErrUnknownPeer
	}
	if !p.helloSent {
		if cmd.Type == cmdBye {
			return nil
		}
		if err := t.helloLocked(p); err != nil {
			return err
		}
	}
	cmd.From = t.uuid
	frames, err := encodeEnvelope(cmd, content)
	if err != nil {
		return err
	}
	if err := p.dealer.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", cmd.Type, p.uuid, err)
	}
	return nil
}

// sendHello introduces this node to p unless that already happened.
func (t *Transport) sendHello(p *peer) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.dealer == nil {
		return zyre.ErrUnknownPeer
	}
	if p.helloSent {
		return nil
	}
	return t.helloLocked(p)
}

// helloLocked sends HELLO on p's pipe. The caller holds p.sendMu.
func (t *Transport) helloLocked(p *peer) error {
	t.mu.RLock()
	cmd := command{
		Type:     cmdHello,
		From:     t.uuid,
		Name:     t.name,
		Endpoint: t.endpoint,
		Groups:   sortedKeys(t.groups),
		Headers:  make(map[string]string, len(t.headers)),
	}
	for k, v := range t.headers {
		cmd.Headers[k] = v
	}
	endpoint := p.endpoint
	t.mu.RUnlock()

	frames, err := encodeEnvelope(cmd, nil)
	if err != nil {
		return err
	}
	if err := p.dealer.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("failed to send HELLO to %s: %w", endpoint, err)
	}
	p.helloSent = true
	return nil
}

// dial opens a DEALER pipe to endpoint.
func (t *Transport) dial(endpoint string) (zmq4.Socket, error) {
	dealer := zmq4.NewDealer(t.ctx,
		zmq4.WithID(zmq4.SocketIdentity(t.uuid)),
		zmq4.WithTimeout(sendTimeout),
	)
	if err := dealer.Dial(endpoint); err != nil {
		_ = dealer.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return dealer, nil
}

// addPeer returns the peer for id, creating it with a pipe to endpoint if
// needed. created reports whether this call added it.
func (t *Transport) addPeer(id, endpoint string, dealer zmq4.Socket) (p *peer, created bool, err error) {
	t.mu.RLock()
	existing, ok := t.peers[id]
	t.mu.RUnlock()
	if ok {
		if dealer != nil {
			_ = dealer.Close()
		}
		return existing, false, nil
	}

	if dealer == nil {
		if dealer, err = t.dial(endpoint); err != nil {
			return nil, false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		_ = dealer.Close()
		return nil, false, zyre.ErrNodeNotRunning
	}
	if existing, ok := t.peers[id]; ok {
		_ = dealer.Close()
		return existing, false, nil
	}
	p = newPeer(id, endpoint, dealer)
	t.peers[id] = p
	return p, true, nil
}

// connectSeed dials a seed endpoint and introduces this node. The pipe is
// adopted when the seed answers with its HELLO.
func (t *Transport) connectSeed(endpoint string) {
	defer t.wg.Done()

	dealer, err := t.dial(endpoint)
	if err != nil {
		t.log.WithError(err).WithField("seed", endpoint).Warn("Failed to contact seed")
		return
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		_ = dealer.Close()
		return
	}
	t.pending[endpoint] = dealer
	t.mu.Unlock()

	seed := newPeer("", endpoint, dealer)
	if err := t.sendHello(seed); err != nil {
		t.log.WithError(err).WithField("seed", endpoint).Warn("Failed to greet seed")
	}
}

// handleBeacon reacts to a beacon from another node.
func (t *Transport) handleBeacon(b beacon, addr *net.UDPAddr) {
	id := strings.ToUpper(hex.EncodeToString(b.ID[:]))
	if b.Port == 0 {
		t.removePeer(id)
		return
	}

	t.mu.Lock()
	if p, ok := t.peers[id]; ok {
		p.touch()
		t.mu.Unlock()
		return
	}
	if t.connecting[id] || !t.running {
		t.mu.Unlock()
		return
	}
	t.connecting[id] = true
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.connecting, id)
			t.mu.Unlock()
		}()

		endpoint := fmt.Sprintf("tcp://%s:%d", addr.IP, b.Port)
		p, created, err := t.addPeer(id, endpoint, nil)
		if err != nil {
			t.log.WithError(err).WithField("endpoint", endpoint).Debug("Failed to connect to discovered peer")
			return
		}
		if created {
			_ = t.sendHello(p)
		}
	}()
}

// receiverLoop continuously receives messages from the ROUTER socket.
func (t *Transport) receiverLoop() {
	defer t.wg.Done()

	for {
		msg, err := t.router.Recv()
		if err != nil {
			// Check if context cancelled
			select {
			case <-t.ctx.Done():
				return
			default:
				continue
			}
		}

		// ROUTER prefixes the sender identity.
		if len(msg.Frames) < 2 {
			continue
		}
		cmd, content, err := decodeEnvelope(msg.Frames[1:])
		if err != nil {
			t.log.WithError(err).Debug("Dropping malformed message")
			continue
		}
		t.handleCommand(cmd, content)
	}
}

func (t *Transport) handleCommand(cmd command, content [][]byte) {
	if cmd.Type == cmdHello {
		t.handleHello(cmd)
		return
	}

	t.mu.Lock()
	p, ok := t.peers[cmd.From]
	if !ok || !p.ready {
		t.mu.Unlock()
		t.log.WithFields(logrus.Fields{
			"function": "handleCommand",
			"type":     cmd.Type,
			"from":     cmd.From,
		}).Debug("Ignoring command from unknown peer")
		return
	}
	p.touch()

	var reply bool
	switch cmd.Type {
	case cmdWhisper:
		occ := p.occurrence(zyre.EventWhisper)
		occ.Frames = content
		t.emit(occ)
	case cmdShout:
		occ := p.occurrence(zyre.EventShout)
		occ.GroupName = cmd.Group
		occ.Frames = content
		t.emit(occ)
	case cmdJoin:
		if _, member := p.groups[cmd.Group]; !member {
			p.groups[cmd.Group] = struct{}{}
			occ := p.occurrence(zyre.EventJoin)
			occ.GroupName = cmd.Group
			t.emit(occ)
		}
	case cmdLeave:
		if _, member := p.groups[cmd.Group]; member {
			delete(p.groups, cmd.Group)
			occ := p.occurrence(zyre.EventLeave)
			occ.GroupName = cmd.Group
			t.emit(occ)
		}
	case cmdPing:
		reply = true
	case cmdBye:
		t.mu.Unlock()
		t.removePeer(p.uuid)
		return
	}
	t.mu.Unlock()

	if reply {
		_ = t.sendTo(p, command{Type: cmdPingOK}, nil)
	}
}

// handleHello completes the handshake with a peer and reports it. A HELLO
// from a peer that is already known replaces its group set.
func (t *Transport) handleHello(cmd command) {
	t.mu.Lock()
	dealer := t.pending[cmd.Endpoint]
	delete(t.pending, cmd.Endpoint)
	t.mu.Unlock()

	p, created, err := t.addPeer(cmd.From, cmd.Endpoint, dealer)
	if err != nil {
		t.log.WithError(err).WithField("peer", cmd.From).Debug("Failed to add peer")
		return
	}
	if created {
		_ = t.sendHello(p)
	}

	groups := append([]string(nil), cmd.Groups...)
	sort.Strings(groups)

	t.mu.Lock()
	wasReady := p.ready
	p.ready = true
	p.name = cmd.Name
	p.endpoint = cmd.Endpoint
	p.headers = make(map[string]string, len(cmd.Headers))
	for k, v := range cmd.Headers {
		p.headers[k] = v
	}
	p.touch()

	if !wasReady {
		enter := p.occurrence(zyre.EventEnter)
		enter.Headers = make(map[string]string, len(p.headers))
		for k, v := range p.headers {
			enter.Headers[k] = v
		}
		t.emit(enter)
	}

	advertised := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		advertised[g] = struct{}{}
		if _, member := p.groups[g]; member {
			continue
		}
		p.groups[g] = struct{}{}
		join := p.occurrence(zyre.EventJoin)
		join.GroupName = g
		t.emit(join)
	}
	for _, g := range sortedKeys(p.groups) {
		if _, ok := advertised[g]; ok {
			continue
		}
		delete(p.groups, g)
		leave := p.occurrence(zyre.EventLeave)
		leave.GroupName = g
		t.emit(leave)
	}
	t.mu.Unlock()

	if !wasReady {
		t.log.WithFields(logrus.Fields{
			"function": "handleHello",
			"peer":     p.uuid,
			"name":     cmd.Name,
			"endpoint": cmd.Endpoint,
		}).Info("Peer entered")
	}
}
