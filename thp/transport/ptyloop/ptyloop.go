// Package ptyloop provides an in-process loopback transport built on a
// pseudo-terminal pair, standing in for the fixed-size packet stream a real
// USB HID or BLE link provides. It is used by cmd/thp-loopback (and by this
// package's own round-trip test) to run a simulated host and device
// against each other over a real byte stream rather than an in-memory
// net.Pipe, the way the teacher's own KISS-over-pty virtual TNC
// (kisspt_open_pt) exposes its protocol over a pty for test clients.
package ptyloop

import (
	"fmt"
	"io"
	"os"

	"github.com/creack/pty"
)

// Loop is one pty pair: writes to Master arrive readable on Slave and vice
// versa, giving each endpoint a plain io.ReadWriter to drive fixed-size
// packet exchange over.
type Loop struct {
	Master *os.File
	Slave  *os.File
}

// Open creates a new pty-backed loopback.
func Open() (*Loop, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptyloop: opening pty: %w", err)
	}
	return &Loop{Master: master, Slave: slave}, nil
}

// Close closes both ends.
func (l *Loop) Close() error {
	err1 := l.Master.Close()
	err2 := l.Slave.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Endpoint wraps one end of a Loop as a fixed-size packet transport: every
// Send writes exactly packetSize bytes (zero-padding short writes, matching
// spec.md's "last packet is zero-padded to the transport packet size"
// framing) and every Recv reads exactly packetSize bytes.
type Endpoint struct {
	rw         io.ReadWriter
	packetSize int
}

// NewEndpoint wraps rw (typically a Loop's Master or Slave) as a
// fixed-size packet endpoint.
func NewEndpoint(rw io.ReadWriter, packetSize int) *Endpoint {
	return &Endpoint{rw: rw, packetSize: packetSize}
}

// Send writes one full packet, zero-padding payload if it is shorter than
// the endpoint's packet size.
func (e *Endpoint) Send(payload []byte) error {
	if len(payload) > e.packetSize {
		return fmt.Errorf("ptyloop: payload of %d bytes exceeds packet size %d", len(payload), e.packetSize)
	}
	buf := make([]byte, e.packetSize)
	copy(buf, payload)
	_, err := e.rw.Write(buf)
	return err
}

// Recv reads exactly one full packet.
func (e *Endpoint) Recv() ([]byte, error) {
	buf := make([]byte, e.packetSize)
	if _, err := io.ReadFull(e.rw, buf); err != nil {
		return nil, fmt.Errorf("ptyloop: reading packet: %w", err)
	}
	return buf, nil
}
