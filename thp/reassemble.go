package thp

// Reassembler accepts one INIT frame followed by zero or more CONTINUATION
// frames into a caller-supplied buffer, verifying the trailing CRC-32 once
// complete (spec §4.5). It keeps only an offset into the caller's buffer, not
// a copy of the data.
type Reassembler struct {
	header   Header
	offset   int
	checksum Crc32
}

// NewReassembler parses the first received packet (an INIT frame) and starts
// reassembly into buffer, which must be at least header.PayloadLength()
// bytes.
func NewReassembler(input []byte, buffer []byte, isHost bool) (*Reassembler, error) {
	header, afterHeader, err := ParseHeader(input, isHost)
	if err != nil {
		return nil, err
	}
	if header.IsContinuation() {
		return nil, ErrUnexpectedInput
	}

	payloadLen := header.PayloadLength()
	if len(buffer) < payloadLen {
		return nil, ErrInsufficientBuffer
	}

	checksum := NewCrc32()
	checksum.Update(input[:header.HeaderLen()])

	nbytes := len(afterHeader) // ParseHeader already stripped transport padding
	copy(buffer[:nbytes], afterHeader)

	checksumBytes := payloadLen - CHECKSUM_LEN
	if checksumBytes > nbytes {
		checksumBytes = nbytes
	}
	if checksumBytes > 0 {
		checksum.Update(afterHeader[:checksumBytes])
	}

	return &Reassembler{header: header, offset: nbytes, checksum: checksum}, nil
}

// Update feeds a subsequent CONTINUATION packet into the reassembly.
func (r *Reassembler) Update(input []byte, buffer []byte, isHost bool) error {
	header, afterHeader, err := ParseHeader(input, isHost)
	if err != nil {
		return err
	}
	if !header.IsContinuation() {
		return ErrUnexpectedInput
	}
	if header.ChannelID != r.header.ChannelID {
		return ErrOutOfBounds
	}

	payloadLen := r.header.PayloadLength()
	if len(buffer) < payloadLen {
		return ErrInsufficientBuffer
	}
	payloadRemaining := payloadLen - r.offset
	if payloadRemaining < 0 {
		payloadRemaining = 0
	}

	nbytes := len(afterHeader)
	if nbytes > payloadRemaining {
		nbytes = payloadRemaining // excess is transport padding, discarded
	}
	copy(buffer[r.offset:r.offset+nbytes], afterHeader[:nbytes])

	checksumBytes := payloadRemaining - CHECKSUM_LEN
	if checksumBytes < 0 {
		checksumBytes = 0
	}
	if checksumBytes > nbytes {
		checksumBytes = nbytes
	}
	if checksumBytes > 0 {
		r.checksum.Update(afterHeader[:checksumBytes])
	}

	r.offset += nbytes
	return nil
}

// IsDone reports whether the declared payload length has been fully
// received.
func (r *Reassembler) IsDone() bool {
	return r.offset >= r.header.PayloadLength()
}

// Verify checks the trailing CRC-32 in buffer against the running checksum
// and returns the payload length without the checksum. Must only be called
// once IsDone returns true.
func (r *Reassembler) Verify(buffer []byte) (int, error) {
	if !r.IsDone() {
		return 0, ErrInvalidDigest
	}
	computed := r.checksum.Finalize()
	lengthNoChecksum := r.header.PayloadLength() - CHECKSUM_LEN
	if lengthNoChecksum < 0 {
		lengthNoChecksum = 0
	}
	if len(buffer) < lengthNoChecksum+CHECKSUM_LEN {
		return 0, ErrInvalidDigest
	}
	var received [CHECKSUM_LEN]byte
	copy(received[:], buffer[lengthNoChecksum:lengthNoChecksum+CHECKSUM_LEN])
	if computed != received {
		return 0, ErrInvalidDigest
	}
	return lengthNoChecksum, nil
}

// Header returns the header this reassembler was started from.
func (r *Reassembler) Header() Header { return r.header }

// ReassembleSingle deserializes a complete single-packet message. Channel
// does not call it; it checks its own one-packet frames with
// verifySingleFrame.
func ReassembleSingle(buffer []byte, dest []byte, isHost bool) (Header, []byte, error) {
	r, err := NewReassembler(buffer, dest, isHost)
	if err != nil {
		return Header{}, nil, err
	}
	if !r.IsDone() {
		return Header{}, nil, ErrMalformedData
	}
	n, err := r.Verify(dest)
	if err != nil {
		return Header{}, nil, err
	}
	return r.header, dest[:n], nil
}
