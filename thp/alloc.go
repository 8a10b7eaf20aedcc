package thp

import "encoding/binary"

// Broadcast-channel traffic (spec §4.1, §4.3): channel allocation and
// keepalive ping/pong. None of these frames carry ARQ sync bits or belong to
// any Channel's reassembly state — each is a single, self-contained packet.

// BuildChannelAllocationRequest writes a host's CHANNEL_ALLOCATION_REQUEST
// frame, identified by an 8-byte nonce the host picks and later matches
// against the device's response.
func BuildChannelAllocationRequest(nonce [NonceLen]byte, dest []byte) (int, error) {
	header := NewChannelAllocationRequestHeader()
	if err := FragmentSingle(header, NewSyncBits(), nonce[:], dest, true); err != nil {
		return 0, err
	}
	return len(dest), nil
}

// ParseChannelAllocationRequest parses a device's view of an incoming
// CHANNEL_ALLOCATION_REQUEST, returning the host's nonce.
func ParseChannelAllocationRequest(packet []byte) ([NonceLen]byte, error) {
	var nonce [NonceLen]byte
	header, _, err := ParseHeader(packet, false)
	if err != nil {
		return nonce, err
	}
	if header.Kind != HeaderChannelAllocationRequest {
		return nonce, ErrUnexpectedInput
	}
	body, err := verifySingleFrame(header, packet)
	if err != nil {
		return nonce, err
	}
	copy(nonce[:], body)
	return nonce, nil
}

// channelAllocationResponsePayload lays out nonce || new_channel_id (spec §9
// resolution of the format Open Question: see SPEC_FULL.md §9).
func channelAllocationResponsePayload(nonce [NonceLen]byte, channelID uint16) []byte {
	buf := make([]byte, NonceLen+2)
	copy(buf, nonce[:])
	binary.BigEndian.PutUint16(buf[NonceLen:], channelID)
	return buf
}

// BuildChannelAllocationResponse writes a device's CHANNEL_ALLOCATION_RESPONSE
// frame, echoing the host's nonce and announcing the newly allocated channel.
func BuildChannelAllocationResponse(nonce [NonceLen]byte, channelID uint16, dest []byte) (int, error) {
	payload := channelAllocationResponsePayload(nonce, channelID)
	header := NewChannelAllocationResponseHeader(uint16(len(payload) + CHECKSUM_LEN))
	if err := FragmentSingle(header, NewSyncBits(), payload, dest, false); err != nil {
		return 0, err
	}
	return len(dest), nil
}

// ParseChannelAllocationResponse parses a host's view of an incoming
// CHANNEL_ALLOCATION_RESPONSE, returning the echoed nonce and the newly
// allocated channel ID.
func ParseChannelAllocationResponse(packet []byte) (nonce [NonceLen]byte, channelID uint16, err error) {
	header, _, err := ParseHeader(packet, true)
	if err != nil {
		return nonce, 0, err
	}
	if header.Kind != HeaderChannelAllocationResponse {
		return nonce, 0, ErrUnexpectedInput
	}
	body, err := verifySingleFrame(header, packet)
	if err != nil {
		return nonce, 0, err
	}
	if len(body) != NonceLen+2 {
		return nonce, 0, ErrMalformedData
	}
	copy(nonce[:], body[:NonceLen])
	channelID = binary.BigEndian.Uint16(body[NonceLen:])
	if !channelIDValid(channelID) || channelID == BroadcastChannelID {
		return nonce, 0, ErrOutOfBounds
	}
	return nonce, channelID, nil
}

// BuildPing writes a host keepalive PING frame carrying an arbitrary
// caller-chosen nonce.
func BuildPing(nonce [NonceLen]byte, dest []byte) (int, error) {
	if err := FragmentSingle(NewPingHeader(), NewSyncBits(), nonce[:], dest, true); err != nil {
		return 0, err
	}
	return len(dest), nil
}

// ParsePing parses a device's view of an incoming PING, returning the nonce
// to echo back in PONG.
func ParsePing(packet []byte) ([NonceLen]byte, error) {
	var nonce [NonceLen]byte
	header, _, err := ParseHeader(packet, false)
	if err != nil {
		return nonce, err
	}
	if header.Kind != HeaderPing {
		return nonce, ErrUnexpectedInput
	}
	body, err := verifySingleFrame(header, packet)
	if err != nil {
		return nonce, err
	}
	copy(nonce[:], body)
	return nonce, nil
}

// BuildPong writes a device's PONG frame echoing a PING's nonce.
func BuildPong(nonce [NonceLen]byte, dest []byte) (int, error) {
	if err := FragmentSingle(NewPongHeader(), NewSyncBits(), nonce[:], dest, false); err != nil {
		return 0, err
	}
	return len(dest), nil
}

// ParsePong parses a host's view of an incoming PONG, returning the echoed
// nonce so the caller can match it against the PING it sent.
func ParsePong(packet []byte) ([NonceLen]byte, error) {
	var nonce [NonceLen]byte
	header, _, err := ParseHeader(packet, true)
	if err != nil {
		return nonce, err
	}
	if header.Kind != HeaderPong {
		return nonce, ErrUnexpectedInput
	}
	body, err := verifySingleFrame(header, packet)
	if err != nil {
		return nonce, err
	}
	copy(nonce[:], body)
	return nonce, nil
}
