package thp

// Fragmenter splits one logical message across fixed-size transport packets,
// emitting an INIT frame followed by zero or more CONTINUATION frames with a
// trailing CRC-32 (spec §4.4). It holds no copy of the payload — callers pass
// the same payload slice to every call to Next.
type Fragmenter struct {
	header    Header
	syncBits  SyncBits
	offset    int
	checksum  Crc32
	crcOffset int
}

// NewFragmenter constructs a Fragmenter for header/syncBits. payload must be
// exactly header.PayloadLength()-CHECKSUM_LEN bytes (the application bytes
// without the trailing CRC, which the fragmenter computes itself).
func NewFragmenter(header Header, syncBits SyncBits, payload []byte) (*Fragmenter, error) {
	if len(payload)+CHECKSUM_LEN != header.PayloadLength() {
		return nil, ErrUnexpectedInput
	}
	return &Fragmenter{
		header:   header,
		syncBits: syncBits,
		checksum: NewCrc32(),
	}, nil
}

// minPacketSize is the smallest transport packet a fragmenter can ever write
// into: an INIT header (the larger of the two header forms) plus one byte.
const minPacketSize = InitHeaderLen + 1

// Next writes the next transport-sized packet into dest, returning whether
// anything was written (false once the fragmenter is already done). The
// first call emits the INIT header; subsequent calls emit CONTINUATION
// headers for the same channel. payload must still match the length given to
// NewFragmenter. Any unused tail of dest is zero-padded and excluded from the
// CRC.
func (f *Fragmenter) Next(payload []byte, dest []byte, isHost bool) (bool, error) {
	if len(dest) < minPacketSize {
		return false, ErrInsufficientBuffer
	}
	if len(payload)+CHECKSUM_LEN != f.header.PayloadLength() {
		return false, ErrUnexpectedInput
	}
	if f.IsDone() {
		return false, nil
	}

	var headerLen int
	if f.offset == 0 && f.crcOffset == 0 {
		n, ok := f.header.ToBytes(f.syncBits, dest, isHost)
		if !ok {
			return false, ErrUnexpectedInput
		}
		headerLen = n
		f.checksum.Update(dest[:headerLen])
	} else {
		contHeader := NewContinuationHeader(f.header.ChannelID)
		n, ok := contHeader.ToBytes(NewSyncBits(), dest, isHost)
		if !ok {
			return false, ErrUnexpectedInput
		}
		headerLen = n
	}
	rest := dest[headerLen:]

	if f.offset < len(payload) {
		source := payload[f.offset:]
		n := len(source)
		if len(rest) < n {
			n = len(rest)
		}
		copy(rest[:n], source[:n])
		f.checksum.Update(source[:n])
		f.offset += n
		rest = rest[n:]
	}

	if f.offset >= len(payload) && f.crcOffset < CHECKSUM_LEN {
		crc := f.checksum.Finalize()
		crcTail := crc[f.crcOffset:]
		n := len(crcTail)
		if len(rest) < n {
			n = len(rest)
		}
		copy(rest[:n], crcTail[:n])
		f.crcOffset += n
		rest = rest[n:]
	}

	for i := range rest {
		rest[i] = 0
	}
	return true, nil
}

// IsDone reports whether every payload byte and all four CRC bytes have been
// emitted.
func (f *Fragmenter) IsDone() bool {
	payloadDone := f.offset+CHECKSUM_LEN >= f.header.PayloadLength()
	crcDone := f.crcOffset >= CHECKSUM_LEN
	return payloadDone && crcDone
}

// Reset rewinds the fragmenter to its initial state, for retransmitting the
// same logical message without reallocating.
func (f *Fragmenter) Reset() {
	f.offset = 0
	f.crcOffset = 0
	f.checksum = NewCrc32()
}

// FragmentSingle is a shortcut that serializes header/payload into a single
// packet known to be large enough (used internally for ACK frames and the
// broadcast-channel frames in alloc.go, and available to callers building
// their own one-packet messages such as TRANSPORT_ERROR).
func FragmentSingle(header Header, sb SyncBits, payload []byte, dest []byte, isHost bool) error {
	f, err := NewFragmenter(header, sb, payload)
	if err != nil {
		return err
	}
	if _, err := f.Next(payload, dest, isHost); err != nil {
		return err
	}
	if !f.IsDone() {
		return ErrInsufficientBuffer
	}
	return nil
}
