package thp

import "hash/crc32"

// CHECKSUM_LEN is the size of the trailing CRC-32 on every frame payload.
const CHECKSUM_LEN = 4

// Crc32 is an incremental IEEE-802.3 (reflected 0xEDB88320) checksum over
// header bytes and application bytes. Transport padding is never fed in.
//
// Unlike hash/crc32.IEEE used directly, this type produces its digest as four
// big-endian bytes (spec §4.3), not the little-endian convention most crc32
// consumers expect.
type Crc32 struct {
	state uint32
}

// NewCrc32 returns a fresh checksum accumulator.
func NewCrc32() Crc32 {
	// hash/crc32.Update applies the standard pre- and post-inversion itself,
	// so the running state starts at zero and needs no final XOR.
	return Crc32{state: 0}
}

// Update feeds more bytes into the running checksum.
func (c *Crc32) Update(data []byte) {
	c.state = crc32.Update(c.state, crc32.IEEETable, data)
}

// Finalize returns the checksum as four big-endian bytes. It does not mutate
// the accumulator, so it is safe to call speculatively.
func (c Crc32) Finalize() [CHECKSUM_LEN]byte {
	final := c.state
	return [CHECKSUM_LEN]byte{
		byte(final >> 24),
		byte(final >> 16),
		byte(final >> 8),
		byte(final),
	}
}
