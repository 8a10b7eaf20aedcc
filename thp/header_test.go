package thp

import "testing"

func TestHeaderRoundTripFixedKinds(t *testing.T) {
	cases := []struct {
		name       string
		header     Header
		writerHost bool
		parserHost bool
		sb         SyncBits
	}{
		{"ack-written-by-host", NewAckHeader(7), true, true, SyncBits{Ack: true}},
		{"ack-written-by-device", NewAckHeader(7), false, false, SyncBits{Seq: true}},
		{"error-from-device", NewErrorHeader(7, TransportErrorDeviceBusy), false, false, NewSyncBits()},
		{"ping", NewPingHeader(), true, false, NewSyncBits()},
		{"pong", NewPongHeader(), false, true, NewSyncBits()},
		{"channel-alloc-req", NewChannelAllocationRequestHeader(), true, false, NewSyncBits()},
		{"channel-alloc-res", NewChannelAllocationResponseHeader(10), false, true, NewSyncBits()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, InitHeaderLen)
			n, ok := tc.header.ToBytes(tc.sb, buf, tc.writerHost)
			if !ok {
				t.Fatalf("ToBytes failed")
			}
			got, rest, err := ParseHeader(buf[:n], tc.parserHost)
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if got.Kind != tc.header.Kind || got.ChannelID != tc.header.ChannelID {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tc.header)
			}
			if len(rest) != 0 {
				t.Fatalf("unexpected trailing payload bytes: %d", len(rest))
			}
		})
	}
}

func TestHeaderRoleRejection(t *testing.T) {
	buf := make([]byte, InitHeaderLen)

	// Only a host may write CHANNEL_ALLOCATION_REQUEST.
	if _, ok := NewChannelAllocationRequestHeader().ToBytes(NewSyncBits(), buf, false); ok {
		t.Fatal("device should not be able to write a channel allocation request")
	}
	// Only a device may write CHANNEL_ALLOCATION_RESPONSE.
	if _, ok := NewChannelAllocationResponseHeader(4).ToBytes(NewSyncBits(), buf, true); ok {
		t.Fatal("host should not be able to write a channel allocation response")
	}
	// Only a host may write PING; only a device may write PONG.
	if _, ok := NewPingHeader().ToBytes(NewSyncBits(), buf, false); ok {
		t.Fatal("device should not be able to write a ping")
	}
	if _, ok := NewPongHeader().ToBytes(NewSyncBits(), buf, true); ok {
		t.Fatal("host should not be able to write a pong")
	}
}

func TestHandshakePhaseRoundTrip(t *testing.T) {
	phases := []struct {
		phase  HandshakePhase
		isHost bool
	}{
		{HandshakeInitiationRequest, true},
		{HandshakeInitiationResponse, false},
		{HandshakeCompletionRequest, true},
		{HandshakeCompletionResponse, false},
	}
	for _, p := range phases {
		h := NewHandshakeHeader(p.phase, 3, 48)
		buf := make([]byte, InitHeaderLen)
		n, ok := h.ToBytes(NewSyncBits(), buf, p.isHost)
		if !ok {
			t.Fatalf("ToBytes failed for phase %v", p.phase)
		}
		// The receiver is always the opposite role from the sender.
		got, _, err := ParseHeader(buf[:n], !p.isHost)
		if err != nil {
			t.Fatalf("ParseHeader: %v", err)
		}
		if got.Kind != HeaderHandshake || got.Phase != p.phase {
			t.Fatalf("phase round trip mismatch: got %+v, want phase %v", got, p.phase)
		}

		// The sender itself must never accept its own frame as if it had
		// received it.
		if other, _, err := ParseHeader(buf[:n], p.isHost); err == nil && other.Kind == HeaderHandshake && other.Phase == p.phase {
			t.Fatalf("sender-role parse accepted its own phase %v", p.phase)
		}
	}
}

func TestContinuationHeaderRoundTrip(t *testing.T) {
	h := NewContinuationHeader(0x1234)
	buf := make([]byte, ContHeaderLen)
	n, ok := h.ToBytes(NewSyncBits(), buf, true)
	if !ok || n != ContHeaderLen {
		t.Fatalf("ToBytes: n=%d ok=%v", n, ok)
	}
	got, rest, err := ParseHeader(buf, true)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !got.IsContinuation() || got.ChannelID != 0x1234 {
		t.Fatalf("got %+v", got)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no payload bytes, got %d", len(rest))
	}
}

func TestParseHeaderRejectsShortBuffers(t *testing.T) {
	if _, _, err := ParseHeader(nil, true); err == nil {
		t.Fatal("expected error on empty buffer")
	}
	if _, _, err := ParseHeader([]byte{0x80, 0x00}, true); err == nil {
		t.Fatal("expected error on truncated continuation header")
	}
	if _, _, err := ParseHeader([]byte{0x20, 0x00, 0x01}, true); err == nil {
		t.Fatal("expected error on truncated INIT header")
	}
}

func TestParseHeaderRejectsReservedChannelIDs(t *testing.T) {
	buf := []byte{tagAck, 0xFF, 0xF5, 0x00, 0x04}
	if _, _, err := ParseHeader(buf, true); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds for reserved channel id, got %v", err)
	}
}
