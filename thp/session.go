package thp

import "encoding/binary"

// SessionHeaderLen is the length of the session/message-type framing at the
// front of every decrypted ENCRYPTED_TRANSPORT payload (spec §5.1): a
// 1-byte session ID followed by a 2-byte big-endian message type.
const SessionHeaderLen = 1 + 2

// Message is a demultiplexed application message: which session it belongs
// to, its protobuf message type, and its body (everything after the session
// framing — still wire-encoded, not decoded here).
type Message struct {
	SessionID   byte
	MessageType uint16
	Body        []byte
}

// EncodeMessage writes sessionID/messageType/body into dest as a single
// ENCRYPTED_TRANSPORT plaintext, for MessageOut. Returns the number of bytes
// written, or an error if dest is too small.
func EncodeMessage(sessionID byte, messageType uint16, body []byte, dest []byte) (int, error) {
	if len(dest) < SessionHeaderLen+len(body) {
		return 0, ErrInsufficientBuffer
	}
	dest[0] = sessionID
	binary.BigEndian.PutUint16(dest[1:3], messageType)
	copy(dest[3:], body)
	return SessionHeaderLen + len(body), nil
}

// DecodeMessage splits a decrypted ENCRYPTED_TRANSPORT plaintext (as
// produced in msgBuf by a successful PacketIn) into its session framing and
// body.
func DecodeMessage(plaintext []byte) (Message, error) {
	if len(plaintext) < SessionHeaderLen {
		return Message{}, ErrMalformedData
	}
	return Message{
		SessionID:   plaintext[0],
		MessageType: binary.BigEndian.Uint16(plaintext[1:3]),
		Body:        plaintext[3:],
	}, nil
}
