// Package zyre is a typed façade over a peer-to-peer group messaging node.
//
// A Node discovers peers on the local network, joins and leaves named
// groups, whispers to single peers and shouts to groups. Occurrences such as
// a peer entering or a message arriving are read back as Events.
//
// The transport doing the actual discovery and messaging sits behind the
// Backend and Transport interfaces. This module ships three backends:
//   - network: pure Go over ZeroMQ sockets with UDP beacon discovery
//   - network/inproc: in-process hub for tests and embedded meshes
//   - native: cgo binding to libzyre (build tag "zyre")
//
// Typical usage:
//
//	node, _ := zyre.NewNode(network.NewBackend(network.DefaultConfig()), "alice")
//	defer node.Close()
//	node.SetHeader("X-ROLE", "worker")
//	if err := node.Start(); err != nil { ... }
//	node.Join("room")
//	for {
//		ev, err := node.NextEvent(ctx)
//		...
//		ev.Close()
//	}
//
// Nodes, Events and Msgs have a single owner. Sending a Msg empties it,
// TakeMessage succeeds once per event, and Move leaves the source inert.
package zyre
