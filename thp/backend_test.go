package thp

import (
	"crypto/sha256"
	"encoding/binary"
)

// fakeBackend is a deterministic, insecure stand-in for Backend used only in
// this package's own tests, so that channel/handshake logic can be exercised
// without pulling in thp/cryptobackend's real curve and AEAD implementations.
// DH hashes the XOR of both public keys (the caller's own one re-derived from
// priv), so it is symmetric by construction (XOR is commutative), which is
// all the Noise handshake math here requires of it. The AEAD tag covers the
// counter, so a ciphertext only opens under the counter it was sealed with.
type fakeBackend struct {
	randSeed byte
}

func (b *fakeBackend) GenerateKeypair() (priv [32]byte, pub [32]byte) {
	b.RandomBytes(priv[:])
	pub = b.SHA256(priv[:])
	return priv, pub
}

func (b *fakeBackend) DH(priv, pub [32]byte) [32]byte {
	own := b.SHA256(priv[:])
	var xored [32]byte
	for i := range xored {
		xored[i] = own[i] ^ pub[i]
	}
	return b.SHA256(xored[:])
}

func (b *fakeBackend) HKDF2(chainingKey [32]byte, ikm []byte) (out1 [32]byte, out2 [32]byte) {
	buf := append(append([]byte{}, chainingKey[:]...), ikm...)
	out1 = b.SHA256(append(append([]byte{}, buf...), 0x01))
	out2 = b.SHA256(append(append([]byte{}, buf...), 0x02))
	return out1, out2
}

func (b *fakeBackend) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (b *fakeBackend) RandomBytes(buf []byte) {
	for i := range buf {
		b.randSeed++
		buf[i] = b.randSeed*31 + byte(i)
	}
}

func (b *fakeBackend) keystream(key [32]byte, counter uint64, n int) []byte {
	out := make([]byte, 0, n+32)
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	for block := uint32(0); len(out) < n; block++ {
		var blk [4]byte
		binary.LittleEndian.PutUint32(blk[:], block)
		h := sha256.Sum256(append(append(append([]byte{}, key[:]...), ctr[:]...), blk[:]...))
		out = append(out, h[:]...)
	}
	return out[:n]
}

func (b *fakeBackend) AEADSeal(key [32]byte, counter uint64, ad, plaintext, dest []byte) []byte {
	ks := b.keystream(key, counter, len(plaintext))
	ct := make([]byte, len(plaintext))
	for i := range plaintext {
		ct[i] = plaintext[i] ^ ks[i]
	}
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	tagInput := append(append(append(append([]byte{}, key[:]...), ctr[:]...), ad...), ct...)
	tag := sha256.Sum256(tagInput)
	out := dest[:0]
	out = append(out, ct...)
	out = append(out, tag[:AEADTagLen]...)
	return out
}

func (b *fakeBackend) AEADOpen(key [32]byte, counter uint64, ad, ciphertext, dest []byte) ([]byte, error) {
	if len(ciphertext) < AEADTagLen {
		return nil, ErrInvalidDigest
	}
	ct := ciphertext[:len(ciphertext)-AEADTagLen]
	gotTag := ciphertext[len(ciphertext)-AEADTagLen:]
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	tagInput := append(append(append(append([]byte{}, key[:]...), ctr[:]...), ad...), ct...)
	wantTag := sha256.Sum256(tagInput)
	for i := 0; i < AEADTagLen; i++ {
		if gotTag[i] != wantTag[i] {
			return nil, ErrInvalidDigest
		}
	}
	ks := b.keystream(key, counter, len(ct))
	out := dest[:0]
	for i := range ct {
		out = append(out, ct[i]^ks[i])
	}
	return out, nil
}
