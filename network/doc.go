// Package network provides a ZeroMQ transport for zyre nodes.
// This package implements:
// - ROUTER inbox and one DEALER pipe per peer
// - UDP beacon discovery and seed endpoints
// - Peer liveness tracking (EVASIVE, EXIT)
package network
