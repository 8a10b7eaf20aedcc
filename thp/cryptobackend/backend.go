// Package cryptobackend implements thp.Backend on top of
// golang.org/x/crypto: X25519 for Diffie-Hellman, HKDF for key derivation,
// ChaCha20-Poly1305 for the AEAD, and the standard library's SHA-256 and
// crypto/rand for hashing and randomness. This is the only concrete Backend
// this module ships; the core package (thp) never imports it directly so
// that the handshake and channel logic stay testable against a fake.
package cryptobackend

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Backend is the production thp.Backend implementation. The zero value is
// ready to use; it carries no state of its own.
type Backend struct{}

// New returns a ready-to-use Backend.
func New() *Backend { return &Backend{} }

// GenerateKeypair returns a fresh X25519 keypair.
func (Backend) GenerateKeypair() (priv [32]byte, pub [32]byte) {
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		panic("cryptobackend: reading random bytes: " + err.Error())
	}
	// Clamping happens inside curve25519.X25519/ScalarBaseMult; priv is used
	// as supplied, matching the Noise spec's raw-scalar convention.
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		panic("cryptobackend: deriving public key: " + err.Error())
	}
	copy(pub[:], pubSlice)
	return priv, pub
}

// DH computes the X25519 shared secret between priv and pub.
func (Backend) DH(priv, pub [32]byte) [32]byte {
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		// Only returned for low-order/all-zero public keys; the handshake
		// layer never hands us one it generated itself, so treat this as a
		// peer sending a degenerate key and surface an all-zero secret
		// rather than panicking the process.
		var zero [32]byte
		return zero
	}
	var out [32]byte
	copy(out[:], secret)
	return out
}

// HKDF2 derives two 32-byte outputs from chainingKey and ikm, matching the
// Noise Protocol's two-output HKDF usage (no "ck, k, k" three-output case is
// needed here since every mixKey call in this handshake wants exactly two).
func (Backend) HKDF2(chainingKey [32]byte, ikm []byte) (out1 [32]byte, out2 [32]byte) {
	r := hkdf.New(sha256.New, ikm, chainingKey[:], nil)
	if _, err := io.ReadFull(r, out1[:]); err != nil {
		panic("cryptobackend: HKDF output 1: " + err.Error())
	}
	if _, err := io.ReadFull(r, out2[:]); err != nil {
		panic("cryptobackend: HKDF output 2: " + err.Error())
	}
	return out1, out2
}

// SHA256 hashes data.
func (Backend) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// RandomBytes fills buf from crypto/rand.
func (Backend) RandomBytes(buf []byte) {
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic("cryptobackend: reading random bytes: " + err.Error())
	}
}

// nonce builds the 12-byte ChaCha20-Poly1305 nonce from the 64-bit counter,
// little-endian in the low 8 bytes with the top 4 bytes zero, matching the
// Noise Protocol's nonce convention.
func nonce(counter uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	for i := 0; i < 8; i++ {
		n[4+i] = byte(counter >> (8 * i))
	}
	return n
}

// AEADSeal encrypts plaintext with ChaCha20-Poly1305 under key/counter/ad.
func (Backend) AEADSeal(key [32]byte, counter uint64, ad, plaintext, dest []byte) []byte {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic("cryptobackend: constructing AEAD: " + err.Error())
	}
	n := nonce(counter)
	return aead.Seal(dest[:0], n[:], plaintext, ad)
}

// AEADOpen decrypts and authenticates ciphertext with ChaCha20-Poly1305.
func (Backend) AEADOpen(key [32]byte, counter uint64, ad, ciphertext, dest []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic("cryptobackend: constructing AEAD: " + err.Error())
	}
	n := nonce(counter)
	return aead.Open(dest[:0], n[:], ciphertext, ad)
}
