//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package network

import "syscall"

// beaconSocketControl leaves socket options at their platform defaults.
func beaconSocketControl(network, address string, c syscall.RawConn) error {
	return nil
}
