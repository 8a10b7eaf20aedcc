// Command thp-loopback runs a simulated host and device against each other
// over a pty-backed loopback transport, demonstrating the full handshake
// and two logical sessions (session id 1 = "echo", session id 2 =
// "ping-log") sent one after the other over one encrypted channel — the session
// layer's "session ids carry no state inside the core" property and the
// per-channel half-duplex ordering guarantee.
package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/doismellburning/thp"
	"github.com/doismellburning/thp/cryptobackend"
	"github.com/doismellburning/thp/internal/logging"
	"github.com/doismellburning/thp/internal/wire"
	"github.com/doismellburning/thp/transport/ptyloop"
)

// handshakeBufSize comfortably holds the largest single handshake message
// (Initiation Response: two 32-byte keys plus an AEAD tag) even once
// fragmented across small transport packets and reassembled.
const handshakeBufSize = 256

const loopChannelID = 1

func main() {
	logLevel := pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	packetSize := pflag.IntP("packet-size", "p", 64, "Fixed transport packet size in bytes.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	logger := logging.New(*logLevel)

	loop, err := ptyloop.Open()
	if err != nil {
		logging.Fatal(logger, "opening pty loopback", err)
	}
	defer loop.Close()

	hostEP := ptyloop.NewEndpoint(loop.Master, *packetSize)
	deviceEP := ptyloop.NewEndpoint(loop.Slave, *packetSize)

	backend := cryptobackend.New()
	hostPriv, hostPub := backend.GenerateKeypair()
	devPriv, devPub := backend.GenerateKeypair()

	hostErrCh := make(chan error, 1)
	deviceErrCh := make(chan error, 1)

	go func() {
		hostErrCh <- runHost(logger.With("role", "host"), backend,
			thp.KeyPair{Private: hostPriv, Public: hostPub}, devPub, hostEP, *packetSize)
	}()
	go func() {
		deviceErrCh <- runDevice(logger.With("role", "device"), backend,
			thp.KeyPair{Private: devPriv, Public: devPub}, deviceEP, *packetSize)
	}()

	if err := <-hostErrCh; err != nil {
		logging.Fatal(logger, "host side failed", err)
	}
	if err := <-deviceErrCh; err != nil {
		logging.Fatal(logger, "device side failed", err)
	}
	fmt.Println("loopback demo completed successfully")
}

// sessionMessages are sent in order over the one established channel,
// demonstrating that session ids demultiplex independently of channel-level
// ARQ state.
var sessionMessages = []struct {
	sessionID   byte
	messageType uint16
	body        string
}{
	{1, 0x0001, "echo me"},
	{2, 0x0002, "ping-log: hello"},
}

func runHost(logger *log.Logger, backend thp.Backend, static thp.KeyPair, expectedDevice [32]byte, ep *ptyloop.Endpoint, packetSize int) error {
	verify := func(pub [32]byte) bool { return pub == expectedDevice }
	hs := thp.NewHostHandshake(backend, static, nil, verify)
	ch := thp.NewChannel(loopChannelID, true)
	ch.SetLogger(logger)
	msgBuf := make([]byte, handshakeBufSize)
	const retransmit = 200 * time.Millisecond

	raw1 := make([]byte, 32)
	n1, err := hs.BuildInitiationRequest(raw1)
	if err != nil {
		return err
	}
	res, err := sendHandshake(ch, thp.HandshakeInitiationRequest, raw1[:n1], msgBuf, packetSize, ep, retransmit, true)
	if err != nil {
		return err
	}
	if err := hs.ProcessInitiationResponse(msgBuf[:res.MessageLen()]); err != nil {
		return err
	}

	raw3 := make([]byte, 32+thp.AEADTagLen)
	n3, err := hs.BuildCompletionRequest(raw3)
	if err != nil {
		return err
	}
	res, err = sendHandshake(ch, thp.HandshakeCompletionRequest, raw3[:n3], msgBuf, packetSize, ep, retransmit, true)
	if err != nil {
		return err
	}
	pairing, ciphers, err := hs.ProcessCompletionResponse(msgBuf[:res.MessageLen()])
	if err != nil {
		return err
	}

	ch.SetCiphers(ciphers)
	logger.Info("host handshake complete", "pairing", pairing)

	for _, sm := range sessionMessages {
		body := []byte(sm.body)
		plain := make([]byte, thp.SessionHeaderLen+len(body))
		if _, err := thp.EncodeMessage(sm.sessionID, sm.messageType, body, plain); err != nil {
			return err
		}
		scratch := make([]byte, len(plain)+thp.AEADTagLen+thp.CHECKSUM_LEN)
		header := thp.NewEncryptedHeader(ch.ID, append(append([]byte{}, plain...), make([]byte, thp.AEADTagLen)...))
		if _, err := wire.SendAndAwait(ch, header, plain, scratch, msgBuf, packetSize, ep, retransmit, false, nil); err != nil {
			return err
		}
		logger.Info("host session round-trip complete", "session", sm.sessionID)
	}

	return nil
}

func runDevice(logger *log.Logger, backend thp.Backend, static thp.KeyPair, ep *ptyloop.Endpoint, packetSize int) error {
	ds := thp.NewDeviceHandshake(backend, static, nil)
	ch := thp.NewChannel(loopChannelID, false)
	ch.SetLogger(logger)
	msgBuf := make([]byte, handshakeBufSize)
	const retransmit = 200 * time.Millisecond

	res, err := wire.AwaitMessage(ch, msgBuf, packetSize, ep, nil)
	if err != nil {
		return err
	}
	if err := ds.ProcessInitiationRequest(msgBuf[:res.MessageLen()]); err != nil {
		return err
	}

	raw2 := make([]byte, 32+32+thp.AEADTagLen)
	n2, err := ds.BuildInitiationResponse(raw2)
	if err != nil {
		return err
	}
	res, err = sendHandshake(ch, thp.HandshakeInitiationResponse, raw2[:n2], msgBuf, packetSize, ep, retransmit, true)
	if err != nil {
		return err
	}
	if err := ds.ProcessCompletionRequest(msgBuf[:res.MessageLen()]); err != nil {
		return err
	}

	raw4 := make([]byte, 1+thp.AEADTagLen)
	n4, ciphers, err := ds.BuildCompletionResponse(thp.PairingStatePaired, raw4)
	if err != nil {
		return err
	}
	if _, err := sendHandshake(ch, thp.HandshakeCompletionResponse, raw4[:n4], msgBuf, packetSize, ep, retransmit, false); err != nil {
		return err
	}

	ch.SetCiphers(ciphers)
	logger.Info("device handshake complete")

	for range sessionMessages {
		res, err := wire.AwaitMessage(ch, msgBuf, packetSize, ep, nil)
		if err != nil {
			return err
		}
		msg, err := thp.DecodeMessage(msgBuf[:res.MessageLen()])
		if err != nil {
			return err
		}
		logger.Info("device received", "session", msg.SessionID, "type", msg.MessageType, "body", string(msg.Body))
	}
	return nil
}

// sendHandshake frames one plaintext handshake message behind a HANDSHAKE
// header for phase and drives it to completion over ep. expectReply mirrors
// every Noise-XX step but the last, where the peer answers on the same
// channel rather than merely acknowledging.
func sendHandshake(ch *thp.Channel, phase thp.HandshakePhase, raw, msgBuf []byte, packetSize int, ep *ptyloop.Endpoint, retransmit time.Duration, expectReply bool) (thp.PacketInResult, error) {
	header := thp.NewHandshakeHeader(phase, ch.ID, uint16(len(raw)+thp.CHECKSUM_LEN))
	scratch := make([]byte, len(raw))
	return wire.SendAndAwait(ch, header, raw, scratch, msgBuf, packetSize, ep, retransmit, expectReply, nil)
}
