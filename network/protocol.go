package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Command types carried in the envelope header frame.
const (
	cmdHello   = "HELLO"
	cmdWhisper = "WHISPER"
	cmdShout   = "SHOUT"
	cmdJoin    = "JOIN"
	cmdLeave   = "LEAVE"
	cmdPing    = "PING"
	cmdPingOK  = "PING-OK"
	cmdBye     = "BYE"
)

// MaxNetworkMessageSize bounds the header frame accepted from a peer.
const MaxNetworkMessageSize = 64 * 1024

// Beacon layout: prefix, version, node UUID, inbox port.
const (
	beaconPrefix  = "ZGO"
	beaconVersion = 0x01
	beaconSize    = len(beaconPrefix) + 1 + 16 + 2
)

var (
	errShortEnvelope = errors.New("envelope has no header frame")
	errBadBeacon     = errors.New("invalid beacon")
)

// command is the header frame of every message between peers. Content
// frames, if any, follow it unchanged.
type command struct {
	Type     string            `json:"type"`
	From     string            `json:"from"`
	Name     string            `json:"name,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	Group    string            `json:"group,omitempty"`
	Groups   []string          `json:"groups,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// encodeEnvelope returns the frames for cmd followed by content.
func encodeEnvelope(cmd command, content [][]byte) ([][]byte, error) {
	header, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	frames := make([][]byte, 0, len(content)+1)
	frames = append(frames, header)
	return append(frames, content...), nil
}

// decodeEnvelope splits frames into the command and its content.
func decodeEnvelope(frames [][]byte) (command, [][]byte, error) {
	var cmd command
	if len(frames) == 0 {
		return cmd, nil, errShortEnvelope
	}
	if len(frames[0]) > MaxNetworkMessageSize {
		return cmd, nil, fmt.Errorf("header frame of %d bytes exceeds limit", len(frames[0]))
	}
	if err := json.Unmarshal(frames[0], &cmd); err != nil {
		return cmd, nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if cmd.Type == "" || cmd.From == "" {
		return cmd, nil, fmt.Errorf("command missing type or sender")
	}
	return cmd, frames[1:], nil
}

// beacon is one UDP discovery announcement. Port 0 announces departure.
type beacon struct {
	ID   uuid.UUID
	Port uint16
}

func (b beacon) marshal() []byte {
	packet := make([]byte, beaconSize)
	copy(packet, beaconPrefix)
	packet[3] = beaconVersion
	copy(packet[4:20], b.ID[:])
	binary.BigEndian.PutUint16(packet[20:22], b.Port)
	return packet
}

func parseBeacon(data []byte) (beacon, error) {
	var b beacon
	if len(data) != beaconSize {
		return b, fmt.Errorf("%w: size %d", errBadBeacon, len(data))
	}
	if string(data[:3]) != beaconPrefix || data[3] != beaconVersion {
		return b, fmt.Errorf("%w: bad prefix", errBadBeacon)
	}
	copy(b.ID[:], data[4:20])
	b.Port = binary.BigEndian.Uint16(data[20:22])
	return b, nil
}
