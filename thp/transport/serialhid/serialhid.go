// Package serialhid adapts a serial line (the bare-metal/firmware side of
// the protocol's "same core runs on bare-metal firmware and on a desktop
// host" design note) into a fixed-size packet transport. Two backends are
// provided: Open uses github.com/pkg/term for raw-mode tty control plus
// golang.org/x/sys/unix for exclusive access, grounded directly in the
// teacher's own serial_port.go; OpenSimple uses github.com/tarm/serial's
// plain config-driven open, grounded in amken3d-gopper's
// serial.NativePort, for links (e.g. a firmware UART) that need baud/timeout
// configuration but no raw-mode or exclusivity control.
package serialhid

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/term"
	"github.com/tarm/serial"
	"golang.org/x/sys/unix"
)

// Port is a fixed-size packet transport over a serial line: Send writes
// exactly packetSize bytes (zero-padded) and Recv reads exactly packetSize
// bytes, mirroring thp/transport/ptyloop's framing convention so owner
// loops can treat every transport the same way regardless of medium.
type Port struct {
	rw         io.ReadWriteCloser
	packetSize int
}

// Config selects the device node, baud rate and exclusivity for Open.
type Config struct {
	Device string
	Baud   int
	// Exclusive requests TIOCEXCL on the opened tty so no other process can
	// open the same device concurrently, matching how a real Trezor
	// HID/serial link is exclusively owned by one host process at a time.
	Exclusive bool
}

// Open opens cfg.Device in raw mode via github.com/pkg/term (the same
// library and RawMode convention the teacher's serial_port_open uses) and
// wraps it as a packetSize-framed Port.
func Open(cfg Config, packetSize int) (*Port, error) {
	t, err := term.Open(cfg.Device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serialhid: opening %s: %w", cfg.Device, err)
	}
	if cfg.Baud != 0 {
		if err := t.SetSpeed(cfg.Baud); err != nil {
			t.Close()
			return nil, fmt.Errorf("serialhid: setting speed on %s: %w", cfg.Device, err)
		}
	}
	if cfg.Exclusive {
		if err := unix.IoctlSetInt(int(t.Fd()), unix.TIOCEXCL, 0); err != nil {
			t.Close()
			return nil, fmt.Errorf("serialhid: TIOCEXCL on %s: %w", cfg.Device, err)
		}
	}
	return &Port{rw: t, packetSize: packetSize}, nil
}

// OpenSimple opens device at baud with readTimeout using tarm/serial's
// plain configuration struct, for links that don't need raw-mode setup.
func OpenSimple(device string, baud int, readTimeout time.Duration, packetSize int) (*Port, error) {
	sp, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: readTimeout})
	if err != nil {
		return nil, fmt.Errorf("serialhid: opening %s: %w", device, err)
	}
	return &Port{rw: sp, packetSize: packetSize}, nil
}

// Close closes the underlying serial line.
func (p *Port) Close() error {
	return p.rw.Close()
}

// Send writes one full packetSize-byte packet, zero-padding short payloads.
func (p *Port) Send(payload []byte) error {
	if len(payload) > p.packetSize {
		return fmt.Errorf("serialhid: payload of %d bytes exceeds packet size %d", len(payload), p.packetSize)
	}
	buf := make([]byte, p.packetSize)
	copy(buf, payload)
	_, err := p.rw.Write(buf)
	return err
}

// Recv reads exactly one full packet.
func (p *Port) Recv() ([]byte, error) {
	buf := make([]byte, p.packetSize)
	if _, err := io.ReadFull(p.rw, buf); err != nil {
		return nil, fmt.Errorf("serialhid: reading packet: %w", err)
	}
	return buf, nil
}
