package network

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults follow the timings of the ZRE reference implementation.
const (
	DefaultBeaconPort     = 5670
	DefaultInterval       = time.Second
	DefaultEvasiveTimeout = 5 * time.Second
	DefaultExpiredTimeout = 30 * time.Second
	DefaultQueueSize      = 1000
)

var (
	// ErrInvalidBeaconPort is returned when the beacon port is out of range.
	ErrInvalidBeaconPort = errors.New("beacon port must be between 1 and 65535")
	// ErrInvalidInterval is returned when the beacon interval is not positive.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrInvalidTimeouts is returned when peer timeouts are inconsistent.
	ErrInvalidTimeouts = errors.New("evasive timeout must be positive and below expired timeout")
)

// Config defines configuration for network transports.
type Config struct {
	// Host is the address the inbox binds to. Empty means the address of
	// Interface, or the first non-loopback IPv4 address.
	Host string `json:"host"`

	// Port is the TCP port of the inbox. Zero picks an ephemeral port.
	Port int `json:"port"`

	// Interface restricts discovery to one network interface.
	Interface string `json:"interface"`

	// BeaconPort is the UDP port beacons are broadcast on.
	BeaconPort int `json:"beacon_port"`

	// Interval is the beacon period. Peers are pinged at the same rate.
	Interval time.Duration `json:"interval"`

	// EvasiveTimeout marks a silent peer evasive; ExpiredTimeout removes it.
	EvasiveTimeout time.Duration `json:"evasive_timeout"`
	ExpiredTimeout time.Duration `json:"expired_timeout"`

	// Seeds are tcp:// endpoints of peers contacted directly at start,
	// for networks where broadcast does not reach.
	Seeds []string `json:"seeds"`

	// DisableBeacon turns off UDP discovery; only Seeds are contacted.
	DisableBeacon bool `json:"disable_beacon"`

	// QueueSize bounds the number of occurrences waiting to be received.
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BeaconPort:     DefaultBeaconPort,
		Interval:       DefaultInterval,
		EvasiveTimeout: DefaultEvasiveTimeout,
		ExpiredTimeout: DefaultExpiredTimeout,
		Seeds:          []string{},
		QueueSize:      DefaultQueueSize,
	}
}

// Validate checks the configuration and returns an error if invalid.
func (c Config) Validate() error {
	if c.BeaconPort <= 0 || c.BeaconPort > 65535 {
		return ErrInvalidBeaconPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid inbox port %d", c.Port)
	}
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.EvasiveTimeout <= 0 || c.EvasiveTimeout >= c.ExpiredTimeout {
		return ErrInvalidTimeouts
	}
	for _, seed := range c.Seeds {
		if !strings.HasPrefix(seed, "tcp://") {
			return fmt.Errorf("invalid seed endpoint %q: want tcp://host:port", seed)
		}
	}
	return nil
}
