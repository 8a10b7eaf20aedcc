// Package udploop implements THP-over-UDP, one of the transports named
// directly in the protocol's scope. No third-party UDP library appears
// anywhere in the retrieval pack, so this adapter stays on the standard
// library's net package (see DESIGN.md).
package udploop

import (
	"fmt"
	"net"
)

// Conn is a fixed-size packet transport over a UDP socket. Unlike
// ptyloop/serialhid's byte-stream framing, UDP is already datagram-oriented,
// so Send/Recv map directly onto WriteTo/ReadFrom without needing to
// zero-pad — the protocol layer is responsible for producing
// exactly-packetSize datagrams via Fragmenter, and Recv validates that the
// datagram it got back is exactly that size.
type Conn struct {
	pc         net.PacketConn
	packetSize int
	peer       net.Addr
}

// Listen opens a UDP socket bound to addr (host:port, or ":0" to let the
// kernel pick a port).
func Listen(addr string, packetSize int) (*Conn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udploop: listening on %s: %w", addr, err)
	}
	return &Conn{pc: pc, packetSize: packetSize}, nil
}

// Dial opens a UDP socket and fixes peer as the only remote address Send
// writes to and Recv accepts from.
func Dial(addr string, packetSize int) (*Conn, error) {
	peer, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udploop: resolving %s: %w", addr, err)
	}
	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("udploop: opening local socket: %w", err)
	}
	return &Conn{pc: pc, packetSize: packetSize, peer: peer}, nil
}

// LocalAddr returns the socket's local address, useful for discovery
// advertisement.
func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

// Close closes the socket.
func (c *Conn) Close() error { return c.pc.Close() }

// Send writes one packetSize-byte datagram to peer (set by Dial) or, if the
// Conn was created with Listen, to the last address Recv observed.
func (c *Conn) Send(payload []byte) error {
	if len(payload) != c.packetSize {
		return fmt.Errorf("udploop: payload of %d bytes, want exactly %d", len(payload), c.packetSize)
	}
	if c.peer == nil {
		return fmt.Errorf("udploop: no peer address known; call Recv first or use Dial")
	}
	n, err := c.pc.WriteTo(payload, c.peer)
	if err != nil {
		return fmt.Errorf("udploop: writing to %s: %w", c.peer, err)
	}
	if n != len(payload) {
		return fmt.Errorf("udploop: short write: wrote %d of %d bytes", n, len(payload))
	}
	return nil
}

// Recv reads one datagram, remembering its source as the peer for
// subsequent Send calls, and rejects any datagram that is not exactly
// packetSize bytes (a malformed or foreign sender).
func (c *Conn) Recv() ([]byte, error) {
	buf := make([]byte, c.packetSize+1)
	n, addr, err := c.pc.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("udploop: reading datagram: %w", err)
	}
	if n != c.packetSize {
		return nil, fmt.Errorf("udploop: datagram of %d bytes, want exactly %d", n, c.packetSize)
	}
	c.peer = addr
	return buf[:n], nil
}
