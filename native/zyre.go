//go:build cgo && zyre

package native

/*
#cgo pkg-config: libzyre libczmq

#include <stdlib.h>
#include <zyre.h>

// Variadic C functions cannot be called from Go.
static void go_zyre_set_header(zyre_t *self, const char *name, const char *value) {
	zyre_set_header(self, name, "%s", value);
}

static zpoller_t *go_zpoller_new(zsock_t *sock) {
	return zpoller_new(sock, NULL);
}

static int go_zsock_readable(zsock_t *sock) {
	return (zsock_events(sock) & ZMQ_POLLIN) != 0;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/VanDung-dev/zyre-go/zyre"
)

// pollSlice bounds one wait on the node socket so context cancellation is
// noticed.
const pollSlice = 100 * time.Millisecond

// ErrNativeCall is wrapped by errors reported as a non-zero libzyre return code.
var ErrNativeCall = errors.New("libzyre call failed")

// Backend creates libzyre nodes. It implements zyre.Backend.
type Backend struct{}

// NewTransport calls zyre_new. An empty name passes NULL so libzyre derives
// the display name from the UUID.
func (Backend) NewTransport(name string) (zyre.Transport, error) {
	var cName *C.char
	if name != "" {
		cName = C.CString(name)
		defer C.free(unsafe.Pointer(cName))
	}

	handle := C.zyre_new(cName)
	if handle == nil {
		return nil, fmt.Errorf("%w: zyre_new", ErrNativeCall)
	}
	t := &Transport{
		handle: handle,
		log:    logrus.WithField("component", "native"),
		closed: make(chan struct{}),
	}
	t.log = t.log.WithField("uuid", t.UUID())
	return t, nil
}

// Version decodes zyre_version.
func (Backend) Version() zyre.Version {
	v := uint64(C.zyre_version())
	return zyre.Version{
		Major: int(v / 10000),
		Minor: int(v / 100 % 100),
		Patch: int(v % 100),
	}
}

// Transport owns one zyre_t. All calls into libzyre hold mu.
type Transport struct {
	mu     sync.Mutex
	handle *C.zyre_t
	log    *logrus.Entry

	closed    chan struct{}
	closeOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}
}

func (t *Transport) UUID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return ""
	}
	return C.GoString(C.zyre_uuid(t.handle))
}

func (t *Transport) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return ""
	}
	return C.GoString(C.zyre_name(t.handle))
}

func (t *Transport) SetHeader(key, value string) {
	cKey, cValue := C.CString(key), C.CString(value)
	defer C.free(unsafe.Pointer(cKey))
	defer C.free(unsafe.Pointer(cValue))

	t.mu.Lock()
	defer t.mu.Unlock()
	C.go_zyre_set_header(t.handle, cKey, cValue)
}

func (t *Transport) SetVerbose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	C.zyre_set_verbose(t.handle)
}

func (t *Transport) SetPort(port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	C.zyre_set_port(t.handle, C.int(port))
}

func (t *Transport) SetInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	C.zyre_set_interval(t.handle, C.size_t(interval.Milliseconds()))
}

func (t *Transport) SetInterface(iface string) {
	cIface := C.CString(iface)
	defer C.free(unsafe.Pointer(cIface))

	t.mu.Lock()
	defer t.mu.Unlock()
	C.zyre_set_interface(t.handle, cIface)
}

func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rc := C.zyre_start(t.handle); rc < 0 {
		return fmt.Errorf("%w: zyre_start returned %d", ErrNativeCall, int(rc))
	}
	return nil
}

// Stop leaves every joined group before stopping the node.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return
	}
	for _, group := range takeList(C.zyre_own_groups(t.handle)) {
		cGroup := C.CString(group)
		C.zyre_leave(t.handle, cGroup)
		C.free(unsafe.Pointer(cGroup))
	}
	C.zyre_stop(t.handle)
}

func (t *Transport) Join(group string) error {
	return t.groupCall(group, func(g *C.char) C.int { return C.zyre_join(t.handle, g) })
}

func (t *Transport) Leave(group string) error {
	return t.groupCall(group, func(g *C.char) C.int { return C.zyre_leave(t.handle, g) })
}

func (t *Transport) groupCall(group string, call func(*C.char) C.int) error {
	cGroup := C.CString(group)
	defer C.free(unsafe.Pointer(cGroup))

	t.mu.Lock()
	defer t.mu.Unlock()
	if rc := call(cGroup); rc != 0 {
		return fmt.Errorf("%w: group %q returned %d", ErrNativeCall, group, int(rc))
	}
	return nil
}

// newZmsg copies frames into a fresh zmsg_t.
func newZmsg(frames [][]byte) *C.zmsg_t {
	msg := C.zmsg_new()
	for _, f := range frames {
		var data unsafe.Pointer
		if len(f) > 0 {
			data = C.CBytes(f)
		}
		C.zmsg_addmem(msg, data, C.size_t(len(f)))
		if data != nil {
			C.free(data)
		}
	}
	return msg
}

func (t *Transport) Whisper(peer string, frames [][]byte) error {
	return t.send(peer, frames, func(target *C.char, msg **C.zmsg_t) C.int {
		return C.zyre_whisper(t.handle, target, msg)
	})
}

func (t *Transport) Shout(group string, frames [][]byte) error {
	return t.send(group, frames, func(target *C.char, msg **C.zmsg_t) C.int {
		return C.zyre_shout(t.handle, target, msg)
	})
}

// send hands a zmsg_t to libzyre, which takes it and nulls the pointer. A
// message still owned afterwards is destroyed here.
func (t *Transport) send(target string, frames [][]byte, call func(*C.char, **C.zmsg_t) C.int) error {
	cTarget := C.CString(target)
	defer C.free(unsafe.Pointer(cTarget))

	t.mu.Lock()
	defer t.mu.Unlock()

	msg := newZmsg(frames)
	rc := call(cTarget, &msg)
	if msg != nil {
		C.zmsg_destroy(&msg)
	}
	if rc != 0 {
		return fmt.Errorf("%w: send to %q returned %d", ErrNativeCall, target, int(rc))
	}
	return nil
}

// Recv waits on the node socket in short slices and converts the next
// zyre_event_t into Go memory.
func (t *Transport) Recv(ctx context.Context) (zyre.Occurrence, error) {
	for {
		select {
		case <-t.closed:
			return nil, zyre.ErrNodeClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		occ, err := t.poll()
		if err != nil || occ != nil {
			return occ, err
		}
	}
}

func (t *Transport) poll() (zyre.Occurrence, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle == nil {
		return nil, zyre.ErrNodeClosed
	}
	poller := C.go_zpoller_new(C.zyre_socket(t.handle))
	defer C.zpoller_destroy(&poller)

	if C.zpoller_wait(poller, C.int(pollSlice.Milliseconds())) == nil {
		if bool(C.zpoller_terminated(poller)) {
			return nil, zyre.ErrNodeClosed
		}
		return nil, nil
	}

	event := C.zyre_event_new(t.handle)
	if event == nil {
		return nil, zyre.ErrNodeClosed
	}
	defer C.zyre_event_destroy(&event)
	return convertEvent(event), nil
}

func convertEvent(event *C.zyre_event_t) *zyre.RawOccurrence {
	occ := &zyre.RawOccurrence{
		Kind:      zyre.ParseEventType(goString(C.zyre_event_type(event))),
		Peer:      goString(C.zyre_event_peer_uuid(event)),
		PeerLabel: goString(C.zyre_event_peer_name(event)),
		Addr:      goString(C.zyre_event_peer_addr(event)),
		GroupName: goString(C.zyre_event_group(event)),
	}

	if headers := C.zyre_event_headers(event); headers != nil {
		occ.Headers = make(map[string]string)
		for v := C.zhash_first(headers); v != nil; v = C.zhash_next(headers) {
			occ.Headers[goString(C.zhash_cursor(headers))] = C.GoString((*C.char)(v))
		}
	}

	if msg := C.zyre_event_msg(event); msg != nil {
		for frame := C.zmsg_first(msg); frame != nil; frame = C.zmsg_next(msg) {
			occ.Frames = append(occ.Frames,
				C.GoBytes(unsafe.Pointer(C.zframe_data(frame)), C.int(C.zframe_size(frame))))
		}
	}
	return occ
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// takeList copies a zlist_t of strings and destroys it.
func takeList(list *C.zlist_t) []string {
	out := []string{}
	if list == nil {
		return out
	}
	for item := C.zlist_first(list); item != nil; item = C.zlist_next(list) {
		out = append(out, C.GoString((*C.char)(item)))
	}
	C.zlist_destroy(&list)
	return out
}

// takeString copies a string owned by the caller and frees it.
func takeString(s *C.char) (string, bool) {
	if s == nil {
		return "", false
	}
	out := C.GoString(s)
	C.zstr_free(&s)
	return out, true
}

func (t *Transport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return takeList(C.zyre_peers(t.handle))
}

func (t *Transport) PeersByGroup(group string) []string {
	cGroup := C.CString(group)
	defer C.free(unsafe.Pointer(cGroup))

	t.mu.Lock()
	defer t.mu.Unlock()
	return takeList(C.zyre_peers_by_group(t.handle, cGroup))
}

func (t *Transport) OwnGroups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return takeList(C.zyre_own_groups(t.handle))
}

func (t *Transport) PeerGroups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return takeList(C.zyre_peer_groups(t.handle))
}

func (t *Transport) PeerAddress(peer string) (string, error) {
	cPeer := C.CString(peer)
	defer C.free(unsafe.Pointer(cPeer))

	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := takeString(C.zyre_peer_address(t.handle, cPeer))
	if !ok || addr == "" {
		return "", zyre.ErrUnknownPeer
	}
	return addr, nil
}

func (t *Transport) PeerHeaderValue(peer, key string) (string, error) {
	cPeer, cKey := C.CString(peer), C.CString(key)
	defer C.free(unsafe.Pointer(cPeer))
	defer C.free(unsafe.Pointer(cKey))

	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := takeString(C.zyre_peer_header_value(t.handle, cPeer, cKey))
	if ok {
		return value, nil
	}
	// NULL means either an unknown peer or a missing header.
	if addr, known := takeString(C.zyre_peer_address(t.handle, cPeer)); !known || addr == "" {
		return "", zyre.ErrUnknownPeer
	}
	return "", zyre.ErrHeaderNotFound
}

// Socket reports readiness by polling the node socket's events.
func (t *Transport) Socket() zyre.Socket {
	t.readyOnce.Do(func() {
		t.ready = make(chan struct{}, 1)
		go t.watchReady()
	})
	return readySocket(t.ready)
}

func (t *Transport) watchReady() {
	ticker := time.NewTicker(pollSlice / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		readable := t.handle != nil && C.go_zsock_readable(C.zyre_socket(t.handle)) != 0
		t.mu.Unlock()

		if readable {
			select {
			case t.ready <- struct{}{}:
			default:
			}
		}
	}
}

type readySocket chan struct{}

func (s readySocket) Ready() <-chan struct{} { return s }

// Print writes libzyre's own dump of the node to stdout.
func (t *Transport) Print() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle != nil {
		C.zyre_print(t.handle)
	}
}

// Destroy calls zyre_destroy, which stops the node if needed.
func (t *Transport) Destroy() {
	t.closeOnce.Do(func() { close(t.closed) })

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle != nil {
		C.zyre_destroy(&t.handle)
		t.log.WithField("function", "Destroy").Debug("Native node destroyed")
	}
}
