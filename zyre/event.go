package zyre

import (
	"fmt"
	"strings"
)

// EventType discriminates the occurrences a node reports.
type EventType int

const (
	EventUnknown EventType = iota
	EventEnter
	EventExit
	EventJoin
	EventLeave
	EventEvasive
	EventWhisper
	EventShout
	EventStop
)

var eventTypeNames = map[EventType]string{
	EventUnknown: "UNKNOWN",
	EventEnter:   "ENTER",
	EventExit:    "EXIT",
	EventJoin:    "JOIN",
	EventLeave:   "LEAVE",
	EventEvasive: "EVASIVE",
	EventWhisper: "WHISPER",
	EventShout:   "SHOUT",
	EventStop:    "STOP",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType maps a transport event name such as "SHOUT" to its type.
// Names it does not know map to EventUnknown.
func ParseEventType(name string) EventType {
	name = strings.ToUpper(strings.TrimSpace(name))
	for t, n := range eventTypeNames {
		if n == name {
			return t
		}
	}
	return EventUnknown
}

// hasPeer reports whether events of this type carry a sender.
func (t EventType) hasPeer() bool {
	return t != EventStop && t != EventUnknown
}

func (t EventType) hasAddress() bool {
	return t == EventEnter || t == EventWhisper || t == EventShout
}

func (t EventType) hasGroup() bool {
	return t == EventJoin || t == EventLeave || t == EventShout
}

func (t EventType) hasMessage() bool {
	return t == EventWhisper || t == EventShout
}

// Event is one decoded occurrence. It owns the underlying occurrence until
// Close; accessors that do not apply to its type return ErrInvalidEventAccess.
type Event struct {
	occ   Occurrence
	typ   EventType
	taken bool
}

// NewEvent takes ownership of occ.
func NewEvent(occ Occurrence) (*Event, error) {
	if occ == nil {
		return nil, ErrInvalidOccurrence
	}
	return &Event{occ: occ, typ: occ.Type()}, nil
}

func (e *Event) Type() EventType {
	if e == nil {
		return EventUnknown
	}
	return e.typ
}

func (e *Event) access(valid bool, field string) error {
	if e == nil || e.occ == nil {
		return fmt.Errorf("%w: %s on released event", ErrInvalidEventAccess, field)
	}
	if !valid {
		return fmt.Errorf("%w: %s is not set on %s", ErrInvalidEventAccess, field, e.typ)
	}
	return nil
}

// Sender returns the UUID of the peer that caused the event.
func (e *Event) Sender() (string, error) {
	if err := e.access(e.Type().hasPeer(), "sender"); err != nil {
		return "", err
	}
	return e.occ.PeerUUID(), nil
}

// Name returns the display name of the peer that caused the event.
func (e *Event) Name() (string, error) {
	if err := e.access(e.Type().hasPeer(), "name"); err != nil {
		return "", err
	}
	return e.occ.PeerName(), nil
}

// Address returns the sender's network address.
func (e *Event) Address() (string, error) {
	if err := e.access(e.Type().hasAddress(), "address"); err != nil {
		return "", err
	}
	return e.occ.PeerAddr(), nil
}

// HeaderValue looks up a header the peer advertised when it entered.
func (e *Event) HeaderValue(key string) (string, error) {
	if err := e.access(e.Type() == EventEnter, "header"); err != nil {
		return "", err
	}
	v, ok := e.occ.Header(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrHeaderNotFound, key)
	}
	return v, nil
}

func (e *Event) Group() (string, error) {
	if err := e.access(e.Type().hasGroup(), "group"); err != nil {
		return "", err
	}
	return e.occ.Group(), nil
}

// TakeMessage hands the attached payload to the caller. It succeeds once.
func (e *Event) TakeMessage() (*Msg, error) {
	if err := e.access(e.Type().hasMessage(), "message"); err != nil {
		return nil, err
	}
	if e.taken {
		return nil, fmt.Errorf("%w: message already taken", ErrInvalidEventAccess)
	}
	e.taken = true
	return msgFromFrames(e.occ.Content()), nil
}

// Move transfers the occurrence to a new Event and leaves e released.
func (e *Event) Move() *Event {
	moved := &Event{occ: e.occ, typ: e.typ, taken: e.taken}
	e.occ = nil
	return moved
}

// Close releases the occurrence. Closing twice, or closing a moved-from
// event, does nothing.
func (e *Event) Close() {
	if e == nil || e.occ == nil {
		return
	}
	occ := e.occ
	e.occ = nil
	occ.Destroy()
}

func (e *Event) String() string {
	if e == nil || e.occ == nil {
		return "event(released)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.typ)
	if e.typ.hasPeer() {
		fmt.Fprintf(&b, " from=%s name=%s", e.occ.PeerUUID(), e.occ.PeerName())
	}
	if e.typ.hasGroup() {
		fmt.Fprintf(&b, " group=%s", e.occ.Group())
	}
	if e.typ.hasMessage() && !e.taken {
		fmt.Fprintf(&b, " frames=%d", len(e.occ.Content()))
	}
	return b.String()
}
