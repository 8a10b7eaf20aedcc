package thp

// Control byte bit layout (MSB -> LSB): TTTTTTCS (spec §3.2, §6.2). The top
// six bits select a packet type; the bottom two carry the alternating-bit
// ARQ flags (C = ack, S = seq). Only two tags actually flow through the ARQ
// tracker and so actually vary in those two bits on the wire: ACK and
// ENCRYPTED_TRANSPORT. Every other tag — CONTINUATION, the four handshake
// phases, and everything exchanged on the broadcast channel (channel
// allocation, PING/PONG, TRANSPORT_ERROR) — is always sent with both bits
// clear, and several of them differ from their neighbours only in what would
// otherwise be the sync-bit positions (HANDSHAKE_INIT_RES=0x01 next to
// HANDSHAKE_COMP_REQ=0x02, CHANNEL_ALLOCATION_RES=0x41 next to
// TRANSPORT_ERROR=0x42). Those tags are matched by exact byte equality, not
// by masking off low bits.
const (
	syncAckBit = 0x02
	syncSeqBit = 0x01
	arqMask    = 0xFC // strips the ack/seq bits from an ACK or ENCRYPTED_TRANSPORT byte
)

// Control byte tag values. Exact values fixed by spec §6.2; implementations
// must match byte-for-byte (see the reference encodings in §6.3 and the
// literal scenario vectors in §8).
const (
	tagContinuation         byte = 0x80
	tagHandshakeInitReq     byte = 0x00
	tagHandshakeInitRes     byte = 0x01
	tagHandshakeCompReq     byte = 0x02
	tagHandshakeCompRes     byte = 0x03
	tagEncryptedTransport   byte = 0x04
	tagAck                  byte = 0x20
	tagChannelAllocationReq byte = 0x40
	tagChannelAllocationRes byte = 0x41
	tagTransportError       byte = 0x42
	tagPing                 byte = 0x43
	tagPong                 byte = 0x44
)

// ControlByte is the 8-bit packet-type tag plus sync-bit fields, as it
// appears on the wire.
type ControlByte byte

// NewControlByte wraps a raw wire byte.
func NewControlByte(b byte) ControlByte { return ControlByte(b) }

// Byte returns the raw wire representation.
func (cb ControlByte) Byte() byte { return byte(cb) }

// tag returns the byte with the ack/seq bits stripped. Only meaningful for
// ACK and ENCRYPTED_TRANSPORT, the two tags that actually carry them; every
// other classification below compares the raw byte directly.
func (cb ControlByte) tag() byte { return byte(cb) & arqMask }

// withSyncBits ORs sb's bits onto cb. cb must already have its sync bits
// clear (true of every tag constant above); callers never invoke this for
// CONTINUATION or for tags that don't carry meaningful sync bits, so those
// always serialize with sync bits zero.
func (cb ControlByte) withSyncBits(sb SyncBits) ControlByte {
	b := byte(cb)
	if sb.Ack {
		b |= syncAckBit
	}
	if sb.Seq {
		b |= syncSeqBit
	}
	return ControlByte(b)
}

func (cb ControlByte) syncBits() SyncBits {
	return SyncBits{
		Ack: byte(cb)&syncAckBit != 0,
		Seq: byte(cb)&syncSeqBit != 0,
	}
}

func (cb ControlByte) isContinuation() bool       { return byte(cb) == tagContinuation }
func (cb ControlByte) isAck() bool                { return cb.tag() == tagAck }
func (cb ControlByte) isEncryptedTransport() bool { return cb.tag() == tagEncryptedTransport }
func (cb ControlByte) isError() bool              { return byte(cb) == tagTransportError }
func (cb ControlByte) isChannelAllocationRequest() bool {
	return byte(cb) == tagChannelAllocationReq
}
func (cb ControlByte) isChannelAllocationResponse() bool {
	return byte(cb) == tagChannelAllocationRes
}
func (cb ControlByte) isPing() bool { return byte(cb) == tagPing }
func (cb ControlByte) isPong() bool { return byte(cb) == tagPong }

// SyncBits carries the alternating-bit ARQ flags. Both fields are zero on
// CONTINUATION frames and on the broadcast channel.
type SyncBits struct {
	Seq bool
	Ack bool
}

// NewSyncBits returns the zero value, both bits clear.
func NewSyncBits() SyncBits { return SyncBits{} }

// WithSeqBit returns a copy with Seq set to v.
func (sb SyncBits) WithSeqBit(v bool) SyncBits { sb.Seq = v; return sb }

// WithAckBit returns a copy with Ack set to v.
func (sb SyncBits) WithAckBit(v bool) SyncBits { sb.Ack = v; return sb }
