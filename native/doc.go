// Package native binds zyre nodes to the C libzyre library through cgo.
//
// The binding is compiled only with cgo enabled and the zyre build tag:
//
//	go build -tags zyre ./...
//
// libzyre and libczmq must be installed where pkg-config can find them.
// Without the tag the package is empty and the pure-Go backends in network
// and network/inproc are used instead.
package native
