package network

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cmd := command{Type: cmdShout, From: "ABC", Group: "room"}
	frames, err := encodeEnvelope(cmd, [][]byte{[]byte("a"), []byte("b")})
	if err != nil {
		t.Fatalf("encodeEnvelope failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}

	got, content, err := decodeEnvelope(frames)
	if err != nil {
		t.Fatalf("decodeEnvelope failed: %v", err)
	}
	if got.Type != cmdShout || got.From != "ABC" || got.Group != "room" {
		t.Errorf("Unexpected command %+v", got)
	}
	if len(content) != 2 || string(content[1]) != "b" {
		t.Errorf("Unexpected content %q", content)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	cases := map[string][][]byte{
		"empty":     nil,
		"not json":  {[]byte("garbage")},
		"no type":   {[]byte(`{"from":"ABC"}`)},
		"no sender": {[]byte(`{"type":"PING"}`)},
		"oversized": {bytes.Repeat([]byte("x"), MaxNetworkMessageSize+1)},
	}
	for name, frames := range cases {
		if _, _, err := decodeEnvelope(frames); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBeaconRoundTrip(t *testing.T) {
	b := beacon{ID: uuid.New(), Port: 49152}

	packet := b.marshal()
	if len(packet) != beaconSize {
		t.Fatalf("Expected %d bytes, got %d", beaconSize, len(packet))
	}

	got, err := parseBeacon(packet)
	if err != nil {
		t.Fatalf("parseBeacon failed: %v", err)
	}
	if got != b {
		t.Errorf("Expected %+v, got %+v", b, got)
	}
}

func TestParseBeaconRejects(t *testing.T) {
	valid := beacon{ID: uuid.New(), Port: 1}.marshal()

	short := valid[:beaconSize-1]
	if _, err := parseBeacon(short); !errors.Is(err, errBadBeacon) {
		t.Errorf("Expected errBadBeacon for short packet, got %v", err)
	}

	wrongVersion := append([]byte(nil), valid...)
	wrongVersion[3] = 0x7f
	if _, err := parseBeacon(wrongVersion); !errors.Is(err, errBadBeacon) {
		t.Errorf("Expected errBadBeacon for version, got %v", err)
	}

	wrongPrefix := append([]byte(nil), valid...)
	copy(wrongPrefix, "ZRE")
	if _, err := parseBeacon(wrongPrefix); !errors.Is(err, errBadBeacon) {
		t.Errorf("Expected errBadBeacon for prefix, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Interval = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("Expected ErrInvalidInterval, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.EvasiveTimeout = cfg.ExpiredTimeout
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidTimeouts) {
		t.Errorf("Expected ErrInvalidTimeouts, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Seeds = []string{"127.0.0.1:5670"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for seed without scheme")
	}
}
