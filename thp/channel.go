package thp

import (
	"io"

	"github.com/charmbracelet/log"
)

// PacketState is the channel's packet-level activity (spec §4.6): whether it
// is idle, mid-send, mid-receive, or has failed and must be torn down.
type PacketState int

const (
	PacketIdle PacketState = iota
	PacketSending
	PacketReceiving
	PacketFailed
)

// PacketInResult reports what happened as a result of one PacketIn call.
// At most one of GotAck/GotMessage/GotError is true for a given packet; a
// retransmitted or padding frame may report none of them.
type PacketInResult struct {
	ack        bool
	message    bool
	messageLen int
	errorFrame bool
	errorCode  TransportErrorCode
}

// GotAck reports whether the packet acknowledged an in-flight send.
func (r PacketInResult) GotAck() bool { return r.ack }

// GotMessage reports whether the packet completed a message; MessageLen is
// then the number of valid bytes written into the caller's message buffer.
func (r PacketInResult) GotMessage() bool { return r.message }

// MessageLen is valid only when GotMessage reports true.
func (r PacketInResult) MessageLen() int { return r.messageLen }

// GotError reports whether the packet was a TRANSPORT_ERROR frame.
func (r PacketInResult) GotError() bool { return r.errorFrame }

// WhichError is valid only when GotError reports true.
func (r PacketInResult) WhichError() TransportErrorCode { return r.errorCode }

// Channel binds the control-byte framing, fragmentation, ARQ and (once
// established) Noise transport ciphers for one channel ID, exposing the
// packet_in/packet_out/message_out operation set an owner event loop drives
// (spec §4.6). It touches no socket, thread or timer: every buffer is
// caller-owned and every call returns promptly.
type Channel struct {
	ID     uint16
	isHost bool

	sync    ChannelSync
	ciphers *NoiseCiphers
	state   PacketState

	pendingAck *SyncBits

	sendFrag    *Fragmenter
	sendPayload []byte

	recvAsm *Reassembler

	// Logger defaults to a discard logger so the core stays silent unless
	// an owner opts in, mirroring the teacher's injectable console hooks
	// rather than a hardwired stdout writer. Swap it with SetLogger.
	Logger *log.Logger
}

// NewChannel returns a fresh channel in the Idle state. isHost selects which
// role's wire conventions this side parses and emits.
func NewChannel(id uint16, isHost bool) *Channel {
	return &Channel{
		ID:     id,
		isHost: isHost,
		sync:   NewChannelSync(),
		state:  PacketIdle,
		Logger: log.New(io.Discard),
	}
}

// SetLogger installs l as this channel's logger. l must not be nil; pass
// log.New(io.Discard) to silence it again.
func (c *Channel) SetLogger(l *log.Logger) { c.Logger = l }

// SetCiphers installs the transport ciphers produced by a completed
// handshake. Until this is called, ENCRYPTED_TRANSPORT frames cannot be
// decrypted or sent.
func (c *Channel) SetCiphers(nc *NoiseCiphers) { c.ciphers = nc }

// Ciphers returns the installed transport ciphers, or nil before the
// handshake completes.
func (c *Channel) Ciphers() *NoiseCiphers { return c.ciphers }

// State returns the channel's current packet-level state.
func (c *Channel) State() PacketState { return c.state }

// verifySingleFrame checks the CRC-32 of a one-packet frame (ACK,
// TRANSPORT_ERROR, and the broadcast-channel frames handled in alloc.go) and
// returns its payload without the trailing checksum.
func verifySingleFrame(header Header, packet []byte) ([]byte, error) {
	total := header.HeaderLen() + header.PayloadLength()
	if len(packet) < total {
		return nil, ErrMalformedData
	}
	bodyLen := header.PayloadLength() - CHECKSUM_LEN
	if bodyLen < 0 {
		return nil, ErrMalformedData
	}
	checksum := NewCrc32()
	checksum.Update(packet[:header.HeaderLen()])
	body := packet[header.HeaderLen() : header.HeaderLen()+bodyLen]
	checksum.Update(body)
	want := checksum.Finalize()
	var got [CHECKSUM_LEN]byte
	copy(got[:], packet[header.HeaderLen()+bodyLen:total])
	if want != got {
		return nil, ErrInvalidDigest
	}
	return body, nil
}

// PacketIn processes one received transport packet. msgBuf receives the
// reassembled payload of a data-bearing frame (handshake or encrypted); it
// must be at least as large as the largest message this channel will carry.
func (c *Channel) PacketIn(packet []byte, msgBuf []byte) (PacketInResult, error) {
	if c.state == PacketFailed {
		return PacketInResult{}, ErrNotReady
	}

	header, _, err := ParseHeader(packet, c.isHost)
	if err != nil {
		return PacketInResult{}, err
	}

	switch {
	case header.Kind == HeaderAck:
		return c.handleAck(header, packet)
	case header.IsError():
		return c.handleError(header, packet)
	case c.state == PacketSending:
		// Half-duplex invariant (spec §4.9): a channel is in exactly one of
		// Idle/Sending/Receiving/Failed, and an incoming INIT or CONTINUATION
		// frame while Sending is dropped outright — the fragmenter's state is
		// left untouched and the sender's own retransmit timer re-drives the
		// exchange once it notices no ACK arrived.
		c.Logger.Debug("dropping packet received while sending", "channel", c.ID)
		return PacketInResult{}, nil
	case header.IsContinuation():
		return c.handleContinuation(header, packet, msgBuf)
	case header.Kind == HeaderHandshake || header.IsEncrypted():
		return c.handleInit(header, packet, msgBuf)
	default:
		return PacketInResult{}, ErrUnexpectedInput
	}
}

func (c *Channel) handleAck(header Header, packet []byte) (PacketInResult, error) {
	if _, err := verifySingleFrame(header, packet); err != nil {
		return PacketInResult{}, err
	}
	sb := ControlByte(packet[0]).syncBits()
	c.sync.SendMarkDelivered(sb)
	if c.sync.CanSend() {
		c.sendFrag = nil
		c.sendPayload = nil
		c.state = PacketIdle
	}
	return PacketInResult{ack: true}, nil
}

func (c *Channel) handleError(header Header, packet []byte) (PacketInResult, error) {
	if _, err := verifySingleFrame(header, packet); err != nil {
		return PacketInResult{}, err
	}
	c.Logger.Warn("received transport error", "channel", c.ID, "code", header.ErrorCode)
	if !header.ErrorCode.IsRecoverable() {
		c.state = PacketFailed
		c.Logger.Error("channel failed", "channel", c.ID, "code", header.ErrorCode)
	}
	return PacketInResult{errorFrame: true, errorCode: header.ErrorCode}, nil
}

func (c *Channel) handleContinuation(header Header, packet []byte, msgBuf []byte) (PacketInResult, error) {
	if c.recvAsm == nil {
		return PacketInResult{}, ErrUnexpectedInput
	}
	if err := c.recvAsm.Update(packet, msgBuf, c.isHost); err != nil {
		c.recvAsm = nil
		c.state = PacketIdle
		return PacketInResult{}, err
	}
	return c.maybeFinishReceive(msgBuf)
}

func (c *Channel) handleInit(header Header, packet []byte, msgBuf []byte) (PacketInResult, error) {
	sb := ControlByte(packet[0]).syncBits()
	if !c.sync.ReceiveStart(sb) {
		ack := c.sync.RetransmitAck(sb)
		c.pendingAck = &ack
		c.recvAsm = nil
		c.state = PacketIdle
		return PacketInResult{}, nil
	}

	asm, err := NewReassembler(packet, msgBuf, c.isHost)
	if err != nil {
		return PacketInResult{}, err
	}
	c.recvAsm = asm
	c.state = PacketReceiving
	return c.maybeFinishReceive(msgBuf)
}

func (c *Channel) maybeFinishReceive(msgBuf []byte) (PacketInResult, error) {
	if !c.recvAsm.IsDone() {
		return PacketInResult{}, nil
	}

	n, verr := c.recvAsm.Verify(msgBuf)
	header := c.recvAsm.Header()
	c.recvAsm = nil
	c.state = PacketIdle
	ack := c.sync.ReceiveAcknowledge()
	c.pendingAck = &ack

	if verr != nil {
		return PacketInResult{}, verr
	}

	if header.IsEncrypted() {
		if c.ciphers == nil {
			return PacketInResult{}, ErrNotReady
		}
		plainLen, derr := c.ciphers.Decrypt(msgBuf[:n])
		if derr != nil {
			c.state = PacketFailed
			c.Logger.Error("AEAD decryption failed, channel is no longer usable", "channel", c.ID)
			return PacketInResult{}, derr
		}
		return PacketInResult{message: true, messageLen: plainLen}, nil
	}
	return PacketInResult{message: true, messageLen: n}, nil
}

// PacketOutReady reports whether a call to PacketOut would emit a packet: a
// pending ACK takes priority over the next fragment of an outbound message.
func (c *Channel) PacketOutReady() bool {
	return c.pendingAck != nil || (c.sendFrag != nil && !c.sendFrag.IsDone())
}

// PacketOut writes the next outbound packet into dest, which must be exactly
// the transport's fixed packet size; the trailing bytes of a short frame are
// zero-padded, matching the wire framing Fragmenter produces. Returns
// ErrNotReady if PacketOutReady is false.
func (c *Channel) PacketOut(dest []byte) (int, error) {
	if c.pendingAck != nil {
		sb := *c.pendingAck
		if err := FragmentSingle(NewAckHeader(c.ID), sb, nil, dest, c.isHost); err != nil {
			return 0, err
		}
		c.pendingAck = nil
		return len(dest), nil
	}

	if c.sendFrag != nil && !c.sendFrag.IsDone() {
		wrote, err := c.sendFrag.Next(c.sendPayload, dest, c.isHost)
		if err != nil {
			return 0, err
		}
		if !wrote {
			return 0, ErrNotReady
		}
		return len(dest), nil
	}

	return 0, ErrNotReady
}

// MessageOutReady reports whether the send side is idle and a new message
// may be started.
func (c *Channel) MessageOutReady() bool { return c.sync.CanSend() }

// MessageOut starts sending header/payload. scratch is caller-owned working
// space that must be at least header.PayloadLength()-CHECKSUM_LEN bytes; for an encrypted
// header, payload must be exactly header.PayloadLength()-AEADTagLen-
// CHECKSUM_LEN bytes of plaintext and is encrypted in place into scratch
// before fragmentation. scratch must remain valid and unmodified until the
// message finishes (PacketOut calls copy from it on every call).
func (c *Channel) MessageOut(header Header, payload []byte, scratch []byte) error {
	if !c.sync.CanSend() {
		return ErrNotReady
	}
	total := header.PayloadLength()
	bodyLen := total - CHECKSUM_LEN
	if bodyLen < 0 || len(scratch) < bodyLen {
		return ErrInsufficientBuffer
	}

	if header.IsEncrypted() {
		if c.ciphers == nil {
			return ErrNotReady
		}
		if len(payload)+AEADTagLen != bodyLen {
			return ErrUnexpectedInput
		}
		n := copy(scratch, payload)
		if err := c.ciphers.Encrypt(scratch[:n+AEADTagLen], n); err != nil {
			return err
		}
	} else {
		if len(payload) != bodyLen {
			return ErrUnexpectedInput
		}
		copy(scratch, payload)
	}

	sb, ok := c.sync.SendStart()
	if !ok {
		return ErrNotReady
	}
	frag, err := NewFragmenter(header, sb, scratch[:bodyLen])
	if err != nil {
		return err
	}
	c.sendFrag = frag
	c.sendPayload = scratch[:bodyLen]
	c.state = PacketSending
	return nil
}

// MessageRetransmit rewinds the current outbound message to its first
// fragment, for the owner's retransmit timer to resend after an ACK is lost.
func (c *Channel) MessageRetransmit() error {
	if c.sendFrag == nil {
		return ErrNotReady
	}
	c.sendFrag.Reset()
	return nil
}

// MessageInFrom repeatedly calls nextPacket and feeds the result to PacketIn
// until a packet produces an ACK, a message, or an error frame, returning
// that result. It is a convenience for owners happy to block their own call
// site on packet arrival; packet_in/packet_out remain the primitive,
// non-blocking operations.
func (c *Channel) MessageInFrom(msgBuf []byte, nextPacket func() ([]byte, error)) (PacketInResult, error) {
	for {
		packet, err := nextPacket()
		if err != nil {
			return PacketInResult{}, err
		}
		res, err := c.PacketIn(packet, msgBuf)
		if err != nil {
			return PacketInResult{}, err
		}
		if res.GotAck() || res.GotMessage() || res.GotError() {
			return res, nil
		}
	}
}
