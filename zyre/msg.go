package zyre

import "bytes"

// Msg is an ordered sequence of frames with a single owner. Sending a Msg
// empties it; TakeMessage and ReceiveRaw hand out fresh ones.
type Msg struct {
	frames [][]byte
}

// NewMsg creates a message from copies of frames.
func NewMsg(frames ...[]byte) *Msg {
	m := &Msg{}
	for _, f := range frames {
		m.Append(f)
	}
	return m
}

// NewMsgString creates a message with one frame per part.
func NewMsgString(parts ...string) *Msg {
	m := &Msg{}
	for _, p := range parts {
		m.AppendString(p)
	}
	return m
}

// Append adds a copy of frame to the end of the message.
func (m *Msg) Append(frame []byte) {
	m.frames = append(m.frames, append([]byte(nil), frame...))
}

func (m *Msg) AppendString(s string) {
	m.frames = append(m.frames, []byte(s))
}

// Frames returns the frames. The caller must not keep them past a send.
func (m *Msg) Frames() [][]byte {
	if m == nil {
		return nil
	}
	return m.frames
}

func (m *Msg) Len() int {
	if m == nil {
		return 0
	}
	return len(m.frames)
}

func (m *Msg) IsEmpty() bool { return m.Len() == 0 }

// Bytes returns the first frame, or nil for an empty message.
func (m *Msg) Bytes() []byte {
	if m.IsEmpty() {
		return nil
	}
	return m.frames[0]
}

// String returns all frames concatenated.
func (m *Msg) String() string {
	if m == nil {
		return ""
	}
	return string(bytes.Join(m.frames, nil))
}

// Move transfers the frames to a new Msg and leaves m empty.
func (m *Msg) Move() *Msg {
	return &Msg{frames: m.take()}
}

// take empties m and returns what it held.
func (m *Msg) take() [][]byte {
	if m == nil {
		return nil
	}
	frames := m.frames
	m.frames = nil
	return frames
}

// msgFromFrames copies borrowed transport frames into a caller-owned Msg.
func msgFromFrames(frames [][]byte) *Msg {
	return NewMsg(frames...)
}
