package thp

import (
	"bytes"
	"testing"
)

func establishedChannelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	backend := &fakeBackend{}

	hostPriv, hostPub := backend.GenerateKeypair()
	hostStatic := KeyPair{Private: hostPriv, Public: hostPub}
	devPriv, devPub := backend.GenerateKeypair()
	deviceStatic := KeyPair{Private: devPriv, Public: devPub}

	host := NewHostHandshake(backend, hostStatic, nil, nil)
	device := NewDeviceHandshake(backend, deviceStatic, nil)

	buf1 := make([]byte, 128)
	n1, err := host.BuildInitiationRequest(buf1)
	if err != nil {
		t.Fatalf("BuildInitiationRequest: %v", err)
	}
	if err := device.ProcessInitiationRequest(buf1[:n1]); err != nil {
		t.Fatalf("ProcessInitiationRequest: %v", err)
	}
	buf2 := make([]byte, 128)
	n2, err := device.BuildInitiationResponse(buf2)
	if err != nil {
		t.Fatalf("BuildInitiationResponse: %v", err)
	}
	if err := host.ProcessInitiationResponse(buf2[:n2]); err != nil {
		t.Fatalf("ProcessInitiationResponse: %v", err)
	}
	buf3 := make([]byte, 128)
	n3, err := host.BuildCompletionRequest(buf3)
	if err != nil {
		t.Fatalf("BuildCompletionRequest: %v", err)
	}
	if err := device.ProcessCompletionRequest(buf3[:n3]); err != nil {
		t.Fatalf("ProcessCompletionRequest: %v", err)
	}
	buf4 := make([]byte, 64)
	n4, deviceCiphers, err := device.BuildCompletionResponse(PairingStatePaired, buf4)
	if err != nil {
		t.Fatalf("BuildCompletionResponse: %v", err)
	}
	_, hostCiphers, err := host.ProcessCompletionResponse(buf4[:n4])
	if err != nil {
		t.Fatalf("ProcessCompletionResponse: %v", err)
	}

	hostChan := NewChannel(0x0001, true)
	hostChan.SetCiphers(hostCiphers)
	deviceChan := NewChannel(0x0001, false)
	deviceChan.SetCiphers(deviceCiphers)
	return hostChan, deviceChan
}

// pumpMessage drives sender/receiver's packet_out/packet_in loop (plus the
// receiver's resulting ACK flowing back to the sender) until the message
// sent by sender is fully delivered to the receiver's msgBuf.
func pumpMessage(t *testing.T, sender, receiver *Channel, msgBuf []byte) PacketInResult {
	t.Helper()
	const packetSize = 64
	var lastResult PacketInResult
	for i := 0; i < 1000; i++ {
		if sender.PacketOutReady() {
			pkt := make([]byte, packetSize)
			if _, err := sender.PacketOut(pkt); err != nil {
				t.Fatalf("sender PacketOut: %v", err)
			}
			res, err := receiver.PacketIn(pkt, msgBuf)
			if err != nil {
				t.Fatalf("receiver PacketIn: %v", err)
			}
			if res.GotMessage() {
				lastResult = res
			}
		}
		if receiver.PacketOutReady() {
			pkt := make([]byte, packetSize)
			if _, err := receiver.PacketOut(pkt); err != nil {
				t.Fatalf("receiver PacketOut: %v", err)
			}
			if _, err := sender.PacketIn(pkt, nil); err != nil {
				t.Fatalf("sender PacketIn (ack): %v", err)
			}
		}
		if lastResult.GotMessage() && sender.MessageOutReady() {
			return lastResult
		}
	}
	t.Fatal("message never fully delivered")
	return PacketInResult{}
}

func TestChannelEncryptedMessageRoundTrip(t *testing.T) {
	hostChan, deviceChan := establishedChannelPair(t)

	plaintext := make([]byte, 500)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}
	scratch := make([]byte, len(plaintext)+AEADTagLen+CHECKSUM_LEN)
	header := NewEncryptedHeader(hostChan.ID, append(append([]byte{}, plaintext...), make([]byte, AEADTagLen)...))

	if !hostChan.MessageOutReady() {
		t.Fatal("host channel should be ready to send")
	}
	if err := hostChan.MessageOut(header, plaintext, scratch); err != nil {
		t.Fatalf("MessageOut: %v", err)
	}

	msgBuf := make([]byte, len(plaintext)+AEADTagLen+CHECKSUM_LEN)
	result := pumpMessage(t, hostChan, deviceChan, msgBuf)
	if !result.GotMessage() {
		t.Fatal("device never reported a complete message")
	}
	if !bytes.Equal(msgBuf[:result.MessageLen()], plaintext) {
		t.Fatalf("decrypted message mismatch: got %d bytes, want %d", result.MessageLen(), len(plaintext))
	}
	if !hostChan.MessageOutReady() {
		t.Fatal("host should be idle again after its message was acked")
	}
}

// TestChannelDropsIncomingInitWhileSending reproduces the half-duplex
// protection scenario: while a channel is Sending, an incoming INIT frame on
// the same channel is dropped outright, the sender's fragmenter state is
// left untouched, and PacketOutReady stays true until the in-flight message
// finishes on its own.
func TestChannelDropsIncomingInitWhileSending(t *testing.T) {
	hostChan, deviceChan := establishedChannelPair(t)

	plaintext := []byte("hello")
	scratch := make([]byte, len(plaintext)+AEADTagLen+CHECKSUM_LEN)
	header := NewEncryptedHeader(hostChan.ID, append(append([]byte{}, plaintext...), make([]byte, AEADTagLen)...))
	if err := hostChan.MessageOut(header, plaintext, scratch); err != nil {
		t.Fatalf("MessageOut: %v", err)
	}
	if hostChan.State() != PacketSending {
		t.Fatalf("host channel state = %v, want PacketSending", hostChan.State())
	}

	// The device independently starts sending its own message on the same
	// channel; its first packet is a legitimate INIT frame that would
	// normally start a receive on the host side.
	devPlaintext := []byte("world")
	devScratch := make([]byte, len(devPlaintext)+AEADTagLen+CHECKSUM_LEN)
	devHeader := NewEncryptedHeader(deviceChan.ID, append(append([]byte{}, devPlaintext...), make([]byte, AEADTagLen)...))
	if err := deviceChan.MessageOut(devHeader, devPlaintext, devScratch); err != nil {
		t.Fatalf("device MessageOut: %v", err)
	}
	pkt := make([]byte, 64)
	if _, err := deviceChan.PacketOut(pkt); err != nil {
		t.Fatalf("device PacketOut: %v", err)
	}

	hostReadyBefore := hostChan.PacketOutReady()
	msgBuf := make([]byte, 64)
	result, err := hostChan.PacketIn(pkt, msgBuf)
	if err != nil {
		t.Fatalf("PacketIn while sending should not error, got %v", err)
	}
	if result.GotAck() || result.GotMessage() || result.GotError() {
		t.Fatalf("expected no result while sending, got %+v", result)
	}
	if hostChan.State() != PacketSending {
		t.Fatalf("host channel state changed to %v, want it to remain PacketSending", hostChan.State())
	}
	if hostChan.PacketOutReady() != hostReadyBefore {
		t.Fatal("dropping the incoming init frame must not disturb PacketOutReady")
	}
}

func TestChannelSessionFraming(t *testing.T) {
	hostChan, deviceChan := establishedChannelPair(t)

	body := []byte("ping")
	plain := make([]byte, SessionHeaderLen+len(body))
	if _, err := EncodeMessage(3, 0x0042, body, plain); err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	scratch := make([]byte, len(plain)+AEADTagLen+CHECKSUM_LEN)
	header := NewEncryptedHeader(hostChan.ID, append(append([]byte{}, plain...), make([]byte, AEADTagLen)...))
	if err := hostChan.MessageOut(header, plain, scratch); err != nil {
		t.Fatalf("MessageOut: %v", err)
	}

	msgBuf := make([]byte, len(plain)+AEADTagLen+CHECKSUM_LEN)
	result := pumpMessage(t, hostChan, deviceChan, msgBuf)

	msg, err := DecodeMessage(msgBuf[:result.MessageLen()])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.SessionID != 3 || msg.MessageType != 0x0042 || !bytes.Equal(msg.Body, body) {
		t.Fatalf("got %+v", msg)
	}
}
