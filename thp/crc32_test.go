package thp

import "testing"

func TestCrc32KnownVector(t *testing.T) {
	// CRC-32/IEEE of {0x80, 0x12, 0x34, 0x00, 0x04}, verified independently
	// against Python's binascii.crc32.
	c := NewCrc32()
	c.Update([]byte{0x80, 0x12, 0x34, 0x00, 0x04})
	got := c.Finalize()
	want := [CHECKSUM_LEN]byte{0xa9, 0xdb, 0x51, 0xce}
	if got != want {
		t.Fatalf("crc32 = %x, want %x", got, want)
	}
}

func TestCrc32IncrementalMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := NewCrc32()
	whole.Update(data)

	piecewise := NewCrc32()
	piecewise.Update(data[:10])
	piecewise.Update(data[10:23])
	piecewise.Update(data[23:])

	if whole.Finalize() != piecewise.Finalize() {
		t.Fatal("incremental update did not match one-shot update")
	}
}

func TestCrc32EmptyIsConstant(t *testing.T) {
	a := NewCrc32()
	b := NewCrc32()
	if a.Finalize() != b.Finalize() {
		t.Fatal("two fresh CRCs with no input should match")
	}
}
