package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// beaconService announces this node over UDP broadcast and reports beacons
// heard from other nodes.
type beaconService struct {
	self      beacon
	port      int
	iface     string
	interval  time.Duration
	broadcast net.IP

	conn     net.PacketConn
	enabled  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	onBeacon func(b beacon, addr *net.UDPAddr)
	log      *logrus.Entry
}

func newBeaconService(id uuid.UUID, inboxPort uint16, cfg Config, log *logrus.Entry) *beaconService {
	return &beaconService{
		self:     beacon{ID: id, Port: inboxPort},
		port:     cfg.BeaconPort,
		iface:    cfg.Interface,
		interval: cfg.Interval,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

// OnBeacon registers the callback for beacons from other nodes.
func (s *beaconService) OnBeacon(callback func(b beacon, addr *net.UDPAddr)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBeacon = callback
}

// Start binds the beacon port and begins announcing.
func (s *beaconService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return nil
	}

	bcast, err := broadcastAddress(s.iface)
	if err != nil {
		return err
	}

	lc := net.ListenConfig{Control: beaconSocketControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to create beacon socket: %w", err)
	}

	s.conn = conn
	s.broadcast = bcast
	s.enabled = true

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go s.receiveLoop()

	s.log.WithFields(logrus.Fields{
		"function":  "Start",
		"port":      s.port,
		"broadcast": bcast.String(),
	}).Debug("Beacon started")
	return nil
}

// Stop announces departure and halts the beacon.
func (s *beaconService) Stop() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	close(s.stopChan)

	// Port 0 tells peers we are leaving.
	s.send(beacon{ID: s.self.ID, Port: 0})
	s.conn.Close()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.WithField("function", "Stop").Debug("Beacon stopped")
}

func (s *beaconService) broadcastLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.announce()
	for {
		select {
		case <-ticker.C:
			s.announce()
		case <-s.stopChan:
			return
		}
	}
}

func (s *beaconService) announce() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.enabled {
		s.send(s.self)
	}
}

// send writes b to the broadcast address. The caller holds s.mu.
func (s *beaconService) send(b beacon) {
	addr := &net.UDPAddr{IP: s.broadcast, Port: s.port}
	if _, err := s.conn.WriteTo(b.marshal(), addr); err != nil {
		s.log.WithError(err).WithField("addr", addr.String()).Debug("Failed to send beacon")
	}
}

func (s *beaconService) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, 512)
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		_ = conn.SetReadDeadline(time.Now().Add(s.interval))
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			continue
		}
		s.handlePacket(buffer[:n], addr)
	}
}

func (s *beaconService) handlePacket(data []byte, addr net.Addr) {
	b, err := parseBeacon(data)
	if err != nil {
		s.log.WithError(err).Debug("Ignoring datagram")
		return
	}
	if b.ID == s.self.ID {
		return
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}

	s.mu.RLock()
	callback := s.onBeacon
	s.mu.RUnlock()

	if callback != nil {
		callback(b, udpAddr)
	}
}

// broadcastAddress returns the IPv4 broadcast address of iface, or the
// limited broadcast address when iface is empty.
func broadcastAddress(iface string) (net.IP, error) {
	if iface == "" {
		return net.IPv4bcast, nil
	}
	ipnet, err := interfaceIPv4(iface)
	if err != nil {
		return nil, err
	}
	ip := ipnet.IP.To4()
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range ip {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast, nil
}

// interfaceIPv4 returns the first IPv4 network assigned to iface.
func interfaceIPv4(iface string) (*net.IPNet, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("unknown interface %q: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %q: %w", iface, err)
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet, nil
		}
	}
	return nil, fmt.Errorf("interface %q has no IPv4 address", iface)
}

// resolveHost picks the address the inbox binds to.
func resolveHost(cfg Config) (string, error) {
	if cfg.Host != "" {
		return cfg.Host, nil
	}
	if cfg.Interface != "" {
		ipnet, err := interfaceIPv4(cfg.Interface)
		if err != nil {
			return "", err
		}
		return ipnet.IP.String(), nil
	}

	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "127.0.0.1", nil
}
