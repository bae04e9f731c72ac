package network

import (
	"github.com/VanDung-dev/zyre-go/zyre"
)

// Version is the protocol version of this transport.
var Version = zyre.Version{Major: 2, Minor: 0, Patch: 0}

// Backend creates network transports sharing one configuration.
type Backend struct {
	cfg Config
}

// NewBackend returns a backend whose transports use cfg.
func NewBackend(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// NewTransport creates a transport named name. An empty name is anonymous.
func (b *Backend) NewTransport(name string) (zyre.Transport, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	return NewTransport(name, b.cfg), nil
}

// Version reports the transport protocol version.
func (b *Backend) Version() zyre.Version {
	return Version
}
