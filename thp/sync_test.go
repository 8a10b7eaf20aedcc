package thp

import "testing"

func TestChannelSyncHappyPath(t *testing.T) {
	send := NewChannelSync()
	recv := NewChannelSync()

	if !send.CanSend() {
		t.Fatal("fresh sync should allow sending")
	}
	sb, ok := send.SendStart()
	if !ok || sb.Seq != false {
		t.Fatalf("SendStart: sb=%+v ok=%v", sb, ok)
	}
	if send.CanSend() {
		t.Fatal("send side should be busy while in flight")
	}

	if !recv.ReceiveStart(sb) {
		t.Fatal("receiver should accept the expected seq bit")
	}
	ack := recv.ReceiveAcknowledge()
	if ack.Ack != false {
		t.Fatalf("ack = %+v, want Ack=false echoing seq", ack)
	}

	send.SendMarkDelivered(ack)
	if !send.CanSend() {
		t.Fatal("send side should be idle after matching ack")
	}

	// Second message flips the bit.
	sb2, ok := send.SendStart()
	if !ok || sb2.Seq != true {
		t.Fatalf("SendStart after one round: sb=%+v ok=%v", sb2, ok)
	}
}

func TestChannelSyncRetransmitLostAck(t *testing.T) {
	// Scenario: device receives an INIT with seq=0, ACKs it, but the ACK is
	// lost; the host retransmits the same INIT (seq=0 again). The device
	// must re-ACK with ack=0 and must not report a second new message.
	recv := NewChannelSync()
	sb := SyncBits{Seq: false}

	if !recv.ReceiveStart(sb) {
		t.Fatal("first delivery should be accepted")
	}
	first := recv.ReceiveAcknowledge()
	if first.Ack != false {
		t.Fatalf("first ack = %+v", first)
	}

	// Retransmission: same seq bit again.
	if recv.ReceiveStart(sb) {
		t.Fatal("retransmitted seq bit should not look like a new message")
	}
	retransmitAck := recv.RetransmitAck(sb)
	if retransmitAck.Ack != false {
		t.Fatalf("retransmit ack = %+v, want Ack=false", retransmitAck)
	}

	// expectSeq must not have advanced a second time: the next genuinely
	// new message (seq=1) should still be accepted.
	if !recv.ReceiveStart(SyncBits{Seq: true}) {
		t.Fatal("next new message with the flipped seq bit should be accepted")
	}
}

func TestChannelSyncMismatchedAckIgnored(t *testing.T) {
	send := NewChannelSync()
	send.SendStart()
	send.SendMarkDelivered(SyncBits{Ack: true}) // wrong bit
	if send.CanSend() {
		t.Fatal("mismatched ack must not release the send side")
	}
}
