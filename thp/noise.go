package thp

// Backend is the narrow set of cryptographic primitives the handshake and
// transport layer need: Diffie-Hellman, HKDF, AEAD, a hash function and a
// random source. Per spec §1 these primitives are an external collaborator —
// this package never implements curve math or AEAD itself, only the protocol
// logic that drives a Backend. See thp/cryptobackend for a concrete
// implementation built on golang.org/x/crypto.
type Backend interface {
	// GenerateKeypair returns a fresh ephemeral or static DH keypair.
	GenerateKeypair() (priv [32]byte, pub [32]byte)
	// DH performs a Diffie-Hellman exchange, returning the shared secret.
	DH(priv, pub [32]byte) [32]byte
	// HKDF2 derives two 32-byte outputs from a chaining key and input key
	// material, as in the Noise Protocol's HKDF usage.
	HKDF2(chainingKey [32]byte, inputKeyMaterial []byte) (out1 [32]byte, out2 [32]byte)
	// SHA256 hashes data.
	SHA256(data []byte) [32]byte
	// RandomBytes fills buf with cryptographically secure random bytes.
	RandomBytes(buf []byte)
	// AEADSeal encrypts plaintext with the given key/counter/associated data
	// and returns the ciphertext with trailing tag. dest is an append
	// destination: implementations must write via dest[:0] (preserving
	// capacity, ignoring any existing length) the way
	// cipher.AEAD.Seal(dst[:0], nonce, plaintext, ad) does, so callers may
	// pass a buffer with unrelated leading bytes already staged.
	AEADSeal(key [32]byte, counter uint64, ad, plaintext []byte, dest []byte) []byte
	// AEADOpen decrypts and authenticates ciphertext (which includes the
	// trailing tag), returning the plaintext or an error on authentication
	// failure. dest is an append destination with the same dest[:0]
	// convention as AEADSeal.
	AEADOpen(key [32]byte, counter uint64, ad, ciphertext []byte, dest []byte) ([]byte, error)
}

// noiseProtocolName is mixed into the initial chaining key, as Noise
// requires for domain separation between protocol variants.
const noiseProtocolName = "Noise_XX_25519_ChaChaPoly_SHA256"

// symmetricState implements the Noise handshake's running chaining key (ck)
// and transcript hash (h), plus the optional symmetric encryption key
// negotiated so far.
type symmetricState struct {
	backend Backend
	ck      [32]byte
	h       [32]byte
	key     *[32]byte
	counter uint64
}

func newSymmetricState(b Backend, prologue []byte) *symmetricState {
	name := []byte(noiseProtocolName)
	var h [32]byte
	if len(name) <= 32 {
		copy(h[:], name)
	} else {
		h = b.SHA256(name)
	}
	s := &symmetricState{backend: b, ck: h, h: h}
	s.mixHash(prologue)
	return s
}

func (s *symmetricState) mixHash(data []byte) {
	buf := make([]byte, 0, len(s.h)+len(data))
	buf = append(buf, s.h[:]...)
	buf = append(buf, data...)
	s.h = s.backend.SHA256(buf)
}

func (s *symmetricState) mixKey(ikm []byte) {
	ck, k := s.backend.HKDF2(s.ck, ikm)
	s.ck = ck
	s.key = &k
	s.counter = 0
}

// encryptAndHash encrypts plaintext (if a key is established; otherwise
// passes it through unmodified) and mixes the resulting ciphertext into h.
func (s *symmetricState) encryptAndHash(plaintext []byte, dest []byte) []byte {
	if s.key == nil {
		n := copy(dest, plaintext)
		out := dest[:n]
		s.mixHash(out)
		return out
	}
	out := s.backend.AEADSeal(*s.key, s.counter, s.h[:], plaintext, dest)
	s.counter++
	s.mixHash(out)
	return out
}

func (s *symmetricState) decryptAndHash(ciphertext []byte, dest []byte) ([]byte, error) {
	if s.key == nil {
		out := append(dest[:0], ciphertext...)
		s.mixHash(ciphertext)
		return out, nil
	}
	out, err := s.backend.AEADOpen(*s.key, s.counter, s.h[:], ciphertext, dest)
	if err != nil {
		return nil, ErrInvalidDigest
	}
	s.counter++
	s.mixHash(ciphertext)
	return out, nil
}

// split derives the two independent directional transport keys once the
// handshake is complete. hostSend/deviceSend are swapped so that each side's
// "send" key matches the other's "recv" key.
func (s *symmetricState) split() (k1 [32]byte, k2 [32]byte) {
	return s.backend.HKDF2(s.ck, nil)
}

// noiseDirection is one AEAD state for one traffic direction (spec §3.7):
// ChaCha20-Poly1305 with a monotonically increasing 64-bit little-endian
// counter that must never repeat for the lifetime of the channel.
type noiseDirection struct {
	key     [32]byte
	counter uint64
}

func (d *noiseDirection) nextCounter() (uint64, error) {
	if d.counter == ^uint64(0) {
		return 0, ErrInvalidDigest // counter exhaustion terminates the channel
	}
	c := d.counter
	d.counter++
	return c, nil
}

// NoiseCiphers holds the post-handshake transport cipher state for one
// channel: independent send/recv AEAD directions plus the handshake hash
// exposed for out-of-band pairing authentication.
type NoiseCiphers struct {
	backend       Backend
	send          noiseDirection
	recv          noiseDirection
	handshakeHash [32]byte
}

// HandshakeHash returns the 32-byte transcript digest from the completed
// handshake.
func (n *NoiseCiphers) HandshakeHash() [32]byte { return n.handshakeHash }

// Encrypt encrypts send_buffer[:plaintextLen] in place, appending the AEAD
// tag, mirroring the Rust reference's in-place buffer convention. The buffer
// must have at least plaintextLen+AEADTagLen bytes of capacity.
func (n *NoiseCiphers) Encrypt(buf []byte, plaintextLen int) error {
	if len(buf) < plaintextLen+AEADTagLen {
		return ErrInsufficientBuffer
	}
	counter, err := n.send.nextCounter()
	if err != nil {
		return err
	}
	out := n.backend.AEADSeal(n.send.key, counter, nil, buf[:plaintextLen], buf)
	assert(len(out) == plaintextLen+AEADTagLen, "AEAD ciphertext length")
	return nil
}

// Decrypt authenticates and decrypts buf in place, returning the plaintext
// length n; the plaintext is then buf[:n].
func (n *NoiseCiphers) Decrypt(buf []byte) (int, error) {
	if len(buf) < AEADTagLen {
		return 0, ErrInvalidDigest
	}
	counter, err := n.recv.nextCounter()
	if err != nil {
		return 0, err
	}
	out, err := n.backend.AEADOpen(n.recv.key, counter, nil, buf, buf)
	if err != nil {
		return 0, ErrInvalidDigest
	}
	return len(out), nil
}
