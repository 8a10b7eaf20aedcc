package thp

// sendState is the send-side half of the alternating-bit ARQ (spec §3.5).
type sendState int

const (
	sendIdle sendState = iota
	sendInflight
)

// ChannelSync tracks the per-channel stop-and-wait ARQ: independent
// send-side and receive-side alternating bits. The broadcast channel uses
// neither half — every frame on it stands alone.
type ChannelSync struct {
	send       sendState
	nextSeq    bool
	expectSeq  bool
}

// NewChannelSync returns a fresh tracker, both bits clear and send side idle.
func NewChannelSync() ChannelSync {
	return ChannelSync{}
}

// CanSend reports whether the send side is idle (no message in flight).
func (c *ChannelSync) CanSend() bool {
	return c.send == sendIdle
}

// SendStart begins sending a new logical message. Returns the sync bits to
// stamp on its INIT frame, and false if the send side is not idle.
func (c *ChannelSync) SendStart() (SyncBits, bool) {
	if c.send != sendIdle {
		return SyncBits{}, false
	}
	c.send = sendInflight
	return SyncBits{Seq: c.nextSeq, Ack: false}, true
}

// SendFinish marks that every fragment of the inflight message has been
// emitted. The send side remains Inflight, now waiting on the peer's ACK.
func (c *ChannelSync) SendFinish() {
	// No state transition: Inflight already covers "sent, awaiting ACK".
	// Kept as an explicit method to mirror the owner-visible lifecycle step
	// from spec §4.6.
}

// SendMarkDelivered processes an incoming ACK's sync bits. If sb.Ack matches
// the bit we're waiting for, flips nextSeq and returns to idle; otherwise
// does nothing (a mismatched ACK is silently discarded).
func (c *ChannelSync) SendMarkDelivered(sb SyncBits) {
	if sb.Ack != c.nextSeq {
		return
	}
	c.nextSeq = !c.nextSeq
	c.send = sendIdle
}

// ReceiveStart reports whether an incoming INIT frame's seq bit matches the
// expected bit. A false return means the frame is a retransmission: the
// caller must discard any reassembly-in-progress for this channel without
// starting a new one and without delivering a message, but the ACK the
// caller schedules in response still echoes the sender's seq bit, per
// spec §3.5.
func (c *ChannelSync) ReceiveStart(sb SyncBits) bool {
	return sb.Seq == c.expectSeq
}

// ReceiveAcknowledge returns the ACK sync bits to send after a message has
// been fully reassembled and verified, and flips the expected bit.
func (c *ChannelSync) ReceiveAcknowledge() SyncBits {
	ack := SyncBits{Ack: c.expectSeq, Seq: false}
	c.expectSeq = !c.expectSeq
	return ack
}

// RetransmitAck returns the ACK to echo back when ReceiveStart reported a
// retransmission (sb.Seq != expectSeq): it acknowledges the sender's seq bit
// without advancing expectSeq, since no new message was received.
func (c *ChannelSync) RetransmitAck(sb SyncBits) SyncBits {
	return SyncBits{Ack: sb.Seq, Seq: false}
}
