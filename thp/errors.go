package thp

import "errors"

// Sentinel errors returned by the core. These never wrap transport or
// application-level detail; the core is sans-I/O and has nothing more to say.
var (
	// ErrMalformedData means a header or payload failed a structural check.
	// The packet is dropped; state is not advanced.
	ErrMalformedData = errors.New("thp: malformed data")

	// ErrOutOfBounds means a channel id or length fell outside the allowed range.
	ErrOutOfBounds = errors.New("thp: out of bounds")

	// ErrInvalidDigest means CRC or AEAD verification failed.
	ErrInvalidDigest = errors.New("thp: invalid digest")

	// ErrInsufficientBuffer means the caller supplied a too-small buffer.
	ErrInsufficientBuffer = errors.New("thp: insufficient buffer")

	// ErrNotReady means the operation cannot proceed yet (nothing to send,
	// already sending/receiving, etc).
	ErrNotReady = errors.New("thp: not ready")

	// ErrUnexpectedInput means an internal invariant was broken by the caller,
	// e.g. submitting a payload whose length differs from the header built for it.
	ErrUnexpectedInput = errors.New("thp: unexpected input")
)

// TransportErrorCode is the single-byte error code carried by a TRANSPORT_ERROR
// packet (spec §4.10). Values are fixed by the wire format and must match the
// counterparty; see DESIGN.md for the Open Question this resolves.
type TransportErrorCode byte

const (
	TransportErrorDecryptionFailed  TransportErrorCode = 0x01
	TransportErrorUnallocatedChan   TransportErrorCode = 0x02
	TransportErrorInvalidData       TransportErrorCode = 0x03
	TransportErrorDeviceBusy        TransportErrorCode = 0x04
	TransportErrorUnexpectedMessage TransportErrorCode = 0x05
)

// IsRecoverable reports whether the channel remains usable after this error
// is received from the peer. Non-recoverable codes permanently fail the channel.
func (c TransportErrorCode) IsRecoverable() bool {
	switch c {
	case TransportErrorDeviceBusy, TransportErrorUnexpectedMessage:
		return true
	case TransportErrorDecryptionFailed, TransportErrorUnallocatedChan, TransportErrorInvalidData:
		return false
	default:
		return false
	}
}

func (c TransportErrorCode) String() string {
	switch c {
	case TransportErrorDecryptionFailed:
		return "DecryptionFailed"
	case TransportErrorUnallocatedChan:
		return "UnallocatedChannel"
	case TransportErrorInvalidData:
		return "InvalidData"
	case TransportErrorDeviceBusy:
		return "DeviceBusy"
	case TransportErrorUnexpectedMessage:
		return "UnexpectedMessage"
	default:
		return "Unknown"
	}
}

// TransportError wraps a TransportErrorCode received from the peer so callers
// can errors.As it while errors.Is(err, ErrInvalidDigest)-style checks against
// the sentinels above still work for locally detected failures.
type TransportError struct {
	Code TransportErrorCode
}

func (e *TransportError) Error() string {
	return "thp: peer transport error: " + e.Code.String()
}
