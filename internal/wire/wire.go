// Package wire drives one thp.Channel exchange to completion over a
// blocking byte-stream transport. cmd/thp-hostsim and cmd/thp-loopback
// share the same shape for both handshake framing and application messages
// (cmd/thp-devicesim runs its own receive loop instead): start the send,
// flush ready packets out, service the retransmit timer, and feed inbound
// packets back in until an ACK, a message or a TRANSPORT_ERROR frame
// arrives. This package is the one place that loop is written, so the
// binaries stay focused on the protocol sequence rather than the pump.
package wire

import (
	"time"

	"github.com/doismellburning/thp"
)

// Transport is the minimal blocking send/receive pair every adapter under
// thp/transport/ implements.
type Transport interface {
	Send(payload []byte) error
	Recv() ([]byte, error)
}

// Observer receives the same per-packet and per-retransmit events a cmd/
// binary would otherwise have to intercept by hand to feed its metrics
// collectors. Either field may be left nil.
type Observer struct {
	PacketIn   func(thp.PacketInResult, error)
	Retransmit func()
}

func (o *Observer) observePacketIn(res thp.PacketInResult, err error) {
	if o != nil && o.PacketIn != nil {
		o.PacketIn(res, err)
	}
}

func (o *Observer) observeRetransmit() {
	if o != nil && o.Retransmit != nil {
		o.Retransmit()
	}
}

// SendAndAwait starts header/payload on ch (see thp.Channel.MessageOut),
// pumping packetSize-sized outgoing packets over t and retransmitting every
// retransmit until the send is acknowledged. msgBuf receives the
// reassembled inbound message and may be larger than packetSize. When
// expectMessage is true it keeps waiting past the ACK for the peer's own
// reply message on the same channel (the shape every Noise-XX step but the
// last takes); otherwise it returns as soon as the send is acknowledged.
// obs may be nil.
func SendAndAwait(ch *thp.Channel, header thp.Header, payload, scratch, msgBuf []byte, packetSize int, t Transport, retransmit time.Duration, expectMessage bool, obs *Observer) (thp.PacketInResult, error) {
	if err := ch.MessageOut(header, payload, scratch); err != nil {
		return thp.PacketInResult{}, err
	}
	return pump(ch, msgBuf, packetSize, t, retransmit, expectMessage, obs)
}

func pump(ch *thp.Channel, msgBuf []byte, packetSize int, t Transport, retransmit time.Duration, expectMessage bool, obs *Observer) (thp.PacketInResult, error) {
	deadline := time.Now().Add(retransmit)
	for {
		for ch.PacketOutReady() {
			pkt := make([]byte, packetSize)
			if _, err := ch.PacketOut(pkt); err != nil {
				return thp.PacketInResult{}, err
			}
			if err := t.Send(pkt); err != nil {
				return thp.PacketInResult{}, err
			}
			deadline = time.Now().Add(retransmit)
		}
		if !expectMessage && ch.MessageOutReady() {
			return thp.PacketInResult{}, nil
		}
		if ch.State() == thp.PacketSending && time.Now().After(deadline) {
			if err := ch.MessageRetransmit(); err != nil {
				return thp.PacketInResult{}, err
			}
			obs.observeRetransmit()
			deadline = time.Now().Add(retransmit)
			continue
		}

		pkt, err := t.Recv()
		if err != nil {
			return thp.PacketInResult{}, err
		}
		res, err := ch.PacketIn(pkt, msgBuf)
		obs.observePacketIn(res, err)
		if err != nil {
			return thp.PacketInResult{}, err
		}
		if res.GotError() {
			return res, nil
		}
		if res.GotMessage() {
			return res, nil
		}
	}
}

// AwaitMessage blocks on t until an inbound packet completes a message or
// carries a TRANSPORT_ERROR, flushing any reply packets (typically just an
// ACK) ch queues as a side effect of PacketIn. It is the responder's half of
// an exchange it did not initiate: there is nothing of its own to
// (re)transmit, so there is no retransmit timer here. obs may be nil.
func AwaitMessage(ch *thp.Channel, msgBuf []byte, packetSize int, t Transport, obs *Observer) (thp.PacketInResult, error) {
	for {
		pkt, err := t.Recv()
		if err != nil {
			return thp.PacketInResult{}, err
		}
		res, err := ch.PacketIn(pkt, msgBuf)
		obs.observePacketIn(res, err)
		if err != nil {
			return thp.PacketInResult{}, err
		}
		for ch.PacketOutReady() {
			out := make([]byte, packetSize)
			if _, err := ch.PacketOut(out); err != nil {
				return thp.PacketInResult{}, err
			}
			if err := t.Send(out); err != nil {
				return thp.PacketInResult{}, err
			}
		}
		if res.GotMessage() || res.GotError() {
			return res, nil
		}
	}
}
