package network

import (
	"sort"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/sirupsen/logrus"

	"github.com/VanDung-dev/zyre-go/zyre"
)

// peer is a remote node and the DEALER pipe used to reach it.
type peer struct {
	uuid     string
	name     string
	endpoint string
	headers  map[string]string
	groups   map[string]struct{}
	lastSeen time.Time

	// ready is set once the peer's HELLO has arrived.
	ready   bool
	evasive bool

	// sendMu serializes writes on dealer; helloSent is guarded by it.
	sendMu    sync.Mutex
	dealer    zmq4.Socket
	helloSent bool
}

func newPeer(id, endpoint string, dealer zmq4.Socket) *peer {
	return &peer{
		uuid:     id,
		endpoint: endpoint,
		headers:  make(map[string]string),
		groups:   make(map[string]struct{}),
		lastSeen: time.Now(),
		dealer:   dealer,
	}
}

func (p *peer) close() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.dealer != nil {
		_ = p.dealer.Close()
		p.dealer = nil
	}
}

// occurrence builds an occurrence attributed to p. The caller holds the
// transport lock.
func (p *peer) occurrence(kind zyre.EventType) *zyre.RawOccurrence {
	return &zyre.RawOccurrence{
		Kind:      kind,
		Peer:      p.uuid,
		PeerLabel: p.name,
		Addr:      p.endpoint,
	}
}

// touch records traffic from p. The caller holds the transport lock.
func (p *peer) touch() {
	p.lastSeen = time.Now()
	p.evasive = false
}

// pingLoop keeps peers alive and expires the silent ones.
func (t *Transport) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.checkPeers()
		}
	}
}

// checkPeers pings quiet peers, marks evasive ones and removes expired ones.
func (t *Transport) checkPeers() {
	now := time.Now()
	var ping, expired []*peer

	t.mu.Lock()
	for id, p := range t.peers {
		if !p.ready {
			continue
		}
		silence := now.Sub(p.lastSeen)
		switch {
		case silence > t.cfg.ExpiredTimeout:
			delete(t.peers, id)
			expired = append(expired, p)
			t.emit(p.occurrence(zyre.EventExit))
		case silence > t.cfg.EvasiveTimeout:
			if !p.evasive {
				p.evasive = true
				t.emit(p.occurrence(zyre.EventEvasive))
			}
			ping = append(ping, p)
		case silence >= t.cfg.Interval:
			ping = append(ping, p)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		t.log.WithFields(logrus.Fields{
			"function": "checkPeers",
			"peer":     p.uuid,
		}).Info("Peer expired")
		p.close()
	}
	for _, p := range ping {
		_ = t.sendTo(p, command{Type: cmdPing}, nil)
	}
}

// removePeer drops a peer and reports its exit.
func (t *Transport) removePeer(id string) {
	t.mu.Lock()
	p, ok := t.peers[id]
	if ok {
		delete(t.peers, id)
		if p.ready {
			t.emit(p.occurrence(zyre.EventExit))
		}
	}
	t.mu.Unlock()

	if ok {
		p.close()
		t.log.WithFields(logrus.Fields{
			"function": "removePeer",
			"peer":     id,
		}).Debug("Peer removed")
	}
}

// readyPeers returns peers whose HELLO arrived, optionally limited to group.
// The caller holds the transport lock.
func (t *Transport) readyPeers(group string) []*peer {
	out := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		if !p.ready {
			continue
		}
		if group != "" {
			if _, ok := p.groups[group]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// Peers returns the UUIDs of connected peers.
func (t *Transport) Peers() []string {
	return t.PeersByGroup("")
}

// PeersByGroup returns the UUIDs of connected peers in group. An empty
// group matches every peer.
func (t *Transport) PeersByGroup(group string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.peers))
	for _, p := range t.readyPeers(group) {
		ids = append(ids, p.uuid)
	}
	sort.Strings(ids)
	return ids
}

// OwnGroups returns the groups this node has joined.
func (t *Transport) OwnGroups() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.groups)
}

// PeerGroups returns every group joined by at least one peer.
func (t *Transport) PeerGroups() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make(map[string]struct{})
	for _, p := range t.readyPeers("") {
		for g := range p.groups {
			all[g] = struct{}{}
		}
	}
	return sortedKeys(all)
}

// PeerAddress returns the endpoint of peer.
func (t *Transport) PeerAddress(id string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.peers[id]
	if !ok || !p.ready {
		return "", zyre.ErrUnknownPeer
	}
	return p.endpoint, nil
}

// PeerHeaderValue returns the header key that peer advertised in its HELLO.
func (t *Transport) PeerHeaderValue(id, key string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.peers[id]
	if !ok || !p.ready {
		return "", zyre.ErrUnknownPeer
	}
	v, ok := p.headers[key]
	if !ok {
		return "", zyre.ErrHeaderNotFound
	}
	return v, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
