package thp

// KeyPair is a Curve25519 static or ephemeral keypair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// VerifyStaticKey is called once the host has learned the device's static
// public key, so the caller can check it against a trust anchor (a pinned
// key, a certificate chain, prior pairing state — all outside this package's
// scope per spec §1). Returning false aborts the handshake.
type VerifyStaticKey func(devicePublic [32]byte) bool

// HostHandshake drives the host side of the three-message Noise-XX exchange
// (spec §4.7): Initiation Request, Initiation Response, Completion Request,
// with the device's Completion Response arriving as the first transport
// message under the freshly split keys. Every method is sans-I/O: it reads
// from and writes to caller-supplied buffers and returns.
type HostHandshake struct {
	backend  Backend
	sym      *symmetricState
	static   KeyPair
	ephem    KeyPair
	devStat  [32]byte
	peerE    [32]byte
	verify   VerifyStaticKey
	finished bool
}

// NewHostHandshake starts a handshake for a host with the given static
// identity keypair. verify may be nil to accept any device static key
// (appropriate only when pairing is established by another means).
func NewHostHandshake(backend Backend, static KeyPair, prologue []byte, verify VerifyStaticKey) *HostHandshake {
	return &HostHandshake{
		backend: backend,
		sym:     newSymmetricState(backend, prologue),
		static:  static,
		verify:  verify,
	}
}

// BuildInitiationRequest emits "-> e": a fresh ephemeral public key.
func (h *HostHandshake) BuildInitiationRequest(dest []byte) (int, error) {
	if len(dest) < 32 {
		return 0, ErrInsufficientBuffer
	}
	priv, pub := h.backend.GenerateKeypair()
	h.ephem = KeyPair{Private: priv, Public: pub}
	out := h.sym.encryptAndHash(pub[:], dest)
	return len(out), nil
}

// ProcessInitiationResponse consumes "<- e, ee, s, es": the device's
// ephemeral key and encrypted static key. It calls verify (if set) on the
// decrypted device static key before accepting it.
func (h *HostHandshake) ProcessInitiationResponse(payload []byte) error {
	if len(payload) < 32+32+AEADTagLen {
		return ErrMalformedData
	}
	var scratch [64]byte
	e, err := h.sym.decryptAndHash(payload[:32], scratch[:0:64])
	if err != nil {
		return err
	}
	copy(h.peerE[:], e)

	ee := h.backend.DH(h.ephem.Private, h.peerE)
	h.sym.mixKey(ee[:])

	sCipher := payload[32 : 32+32+AEADTagLen]
	s, err := h.sym.decryptAndHash(sCipher, scratch[:0:64])
	if err != nil {
		return err
	}
	copy(h.devStat[:], s)
	if h.verify != nil && !h.verify(h.devStat) {
		return ErrInvalidDigest
	}

	// Matches the device's DH(device.static.Private, host.ephem.Public).
	es := h.backend.DH(h.ephem.Private, h.devStat)
	h.sym.mixKey(es[:])
	return nil
}

// BuildCompletionRequest emits "-> s, se": the host's own encrypted static
// key.
func (h *HostHandshake) BuildCompletionRequest(dest []byte) (int, error) {
	if len(dest) < 32+AEADTagLen {
		return 0, ErrInsufficientBuffer
	}
	out := h.sym.encryptAndHash(h.static.Public[:], dest)

	se := h.backend.DH(h.static.Private, h.peerE)
	h.sym.mixKey(se[:])
	return len(out), nil
}

// ProcessCompletionResponse authenticates the device's first transport
// message (an encrypted PairingState byte) under the split keys, completing
// the handshake and returning the transport ciphers for the channel.
func (h *HostHandshake) ProcessCompletionResponse(payload []byte) (PairingState, *NoiseCiphers, error) {
	k1, k2 := h.sym.split()
	ciphers := &NoiseCiphers{
		backend:       h.backend,
		send:          noiseDirection{key: k1},
		recv:          noiseDirection{key: k2},
		handshakeHash: h.sym.h,
	}
	scratch := append([]byte(nil), payload...)
	n, err := ciphers.Decrypt(scratch)
	if err != nil {
		return 0, nil, err
	}
	if n != 1 {
		return 0, nil, ErrMalformedData
	}
	pairing, err := ParsePairingState(scratch[0])
	if err != nil {
		return 0, nil, err
	}
	h.finished = true
	return pairing, ciphers, nil
}

// DeviceStatic returns the device's static public key, valid once
// ProcessInitiationResponse has succeeded.
func (h *HostHandshake) DeviceStatic() [32]byte { return h.devStat }

// Finished reports whether the handshake has completed successfully.
func (h *HostHandshake) Finished() bool { return h.finished }

// DeviceHandshake drives the device side, mirroring HostHandshake.
type DeviceHandshake struct {
	backend  Backend
	sym      *symmetricState
	static   KeyPair
	ephem    KeyPair
	peerE    [32]byte
	hostStat [32]byte
	finished bool
}

// NewDeviceHandshake starts a handshake for a device with the given static
// identity keypair.
func NewDeviceHandshake(backend Backend, static KeyPair, prologue []byte) *DeviceHandshake {
	return &DeviceHandshake{
		backend: backend,
		sym:     newSymmetricState(backend, prologue),
		static:  static,
	}
}

// ProcessInitiationRequest consumes the host's ephemeral public key.
func (d *DeviceHandshake) ProcessInitiationRequest(payload []byte) error {
	if len(payload) < 32 {
		return ErrMalformedData
	}
	var scratch [32]byte
	e, err := d.sym.decryptAndHash(payload[:32], scratch[:0:32])
	if err != nil {
		return err
	}
	copy(d.peerE[:], e)
	return nil
}

// BuildInitiationResponse emits "<- e, ee, s, es".
func (d *DeviceHandshake) BuildInitiationResponse(dest []byte) (int, error) {
	if len(dest) < 32+32+AEADTagLen {
		return 0, ErrInsufficientBuffer
	}
	priv, pub := d.backend.GenerateKeypair()
	d.ephem = KeyPair{Private: priv, Public: pub}

	n1 := d.sym.encryptAndHash(pub[:], dest)
	off := len(n1)

	ee := d.backend.DH(d.ephem.Private, d.peerE)
	d.sym.mixKey(ee[:])

	n2 := d.sym.encryptAndHash(d.static.Public[:], dest[off:])
	off += len(n2)

	es := d.backend.DH(d.static.Private, d.peerE)
	d.sym.mixKey(es[:])
	return off, nil
}

// ProcessCompletionRequest consumes the host's encrypted static key.
func (d *DeviceHandshake) ProcessCompletionRequest(payload []byte) error {
	if len(payload) < 32+AEADTagLen {
		return ErrMalformedData
	}
	var scratch [64]byte
	s, err := d.sym.decryptAndHash(payload, scratch[:0:64])
	if err != nil {
		return err
	}
	copy(d.hostStat[:], s)

	// Matches the host's DH(host.static.Private, device.ephem.Public).
	se := d.backend.DH(d.ephem.Private, d.hostStat)
	d.sym.mixKey(se[:])
	return nil
}

// BuildCompletionResponse splits the transport ciphers and emits the first
// transport message: pairing carrying a single encrypted PairingState byte.
func (d *DeviceHandshake) BuildCompletionResponse(pairing PairingState, dest []byte) (int, *NoiseCiphers, error) {
	if len(dest) < 1+AEADTagLen {
		return 0, nil, ErrInsufficientBuffer
	}
	k1, k2 := d.sym.split()
	ciphers := &NoiseCiphers{
		backend:       d.backend,
		send:          noiseDirection{key: k2},
		recv:          noiseDirection{key: k1},
		handshakeHash: d.sym.h,
	}
	dest[0] = byte(pairing)
	if err := ciphers.Encrypt(dest, 1); err != nil {
		return 0, nil, err
	}
	d.finished = true
	return 1 + AEADTagLen, ciphers, nil
}

// HostStatic returns the host's static public key, valid once
// ProcessCompletionRequest has succeeded.
func (d *DeviceHandshake) HostStatic() [32]byte { return d.hostStat }

// Finished reports whether the handshake has completed successfully.
func (d *DeviceHandshake) Finished() bool { return d.finished }

// PairingState reports whether the channel negotiated during this handshake
// is backed by a previously established pairing, or still needs one (spec
// §4.7's out-of-band pairing ceremony is outside this package's scope; it
// only carries the resulting state).
type PairingState byte

const (
	// PairingStateUnpaired means the two static keys have never been bound
	// together before; the application must run a pairing ceremony (code
	// entry, QR, NFC — all out of scope here) before trusting the channel.
	PairingStateUnpaired PairingState = iota
	// PairingStatePaired means the device recognizes the host's static key
	// from a previous pairing ceremony.
	PairingStatePaired
	// PairingStatePairedAutoconnect means the device recognizes the host's
	// static key and has been configured to skip any future confirmation
	// prompt when this host reconnects.
	PairingStatePairedAutoconnect
)

// IsPaired reports whether state represents any previously established
// pairing (Paired or PairedAutoconnect), as opposed to Unpaired.
func (p PairingState) IsPaired() bool { return p != PairingStateUnpaired }

// ParsePairingState decodes a single wire byte into a PairingState,
// rejecting any value outside the three defined above.
func ParsePairingState(b byte) (PairingState, error) {
	switch PairingState(b) {
	case PairingStateUnpaired, PairingStatePaired, PairingStatePairedAutoconnect:
		return PairingState(b), nil
	default:
		return 0, ErrMalformedData
	}
}
