package mesh

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// KeySize is the ChaCha20-Poly1305 key length in bytes.
const KeySize = chacha20.KeySize

// NonceSize is the per-packet nonce length in bytes (RFC 8439 §2.8).
const NonceSize = chacha20.NonceSize

// TagSize is the Poly1305 authentication tag length in bytes.
const TagSize = poly1305.TagSize

// ErrAuthFailure indicates the Poly1305 tag did not verify. No plaintext
// is ever released to the caller when this is returned (spec.md §4.2/§7).
var ErrAuthFailure = errors.New("mesh: aead authentication failed")

// Seal encrypts plaintext and produces a detached authentication tag,
// implementing the RFC 8439 ChaCha20-Poly1305 construction directly on
// top of the low-level chacha20/poly1305 primitives rather than the
// high-level chacha20poly1305 package, so every composition step
// (poly-key derivation at counter 0, data encryption from counter 1,
// AAD/ciphertext padding, the little-endian length trailer) is explicit
// and independently testable per spec.md §4.2.
func Seal(key [KeySize]byte, nonce [NonceSize]byte, aad, plaintext []byte) (ciphertext []byte, tag [TagSize]byte, err error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, tag, fmt.Errorf("mesh: aead seal: %w", err)
	}

	var polyKey [32]byte
	cipher.XORKeyStream(polyKey[:], polyKey[:])
	defer wipe(polyKey[:])

	cipher.SetCounter(1)
	ciphertext = make([]byte, len(plaintext))
	cipher.XORKeyStream(ciphertext, plaintext)

	mac := poly1305Tag(polyKey, aad, ciphertext)
	return ciphertext, mac, nil
}

// Open authenticates and decrypts ciphertext. On tag mismatch it returns
// ErrAuthFailure and a nil plaintext slice: callers MUST NOT act on the
// returned plaintext unless err is nil (spec.md §4.2/§7, constant-time
// discipline).
func Open(key [KeySize]byte, nonce [NonceSize]byte, aad, ciphertext []byte, tag [TagSize]byte) ([]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("mesh: aead open: %w", err)
	}

	var polyKey [32]byte
	cipher.XORKeyStream(polyKey[:], polyKey[:])
	defer wipe(polyKey[:])

	want := poly1305Tag(polyKey, aad, ciphertext)
	if subtle.ConstantTimeCompare(want[:], tag[:]) != 1 {
		return nil, ErrAuthFailure
	}

	cipher.SetCounter(1)
	plaintext := make([]byte, len(ciphertext))
	cipher.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// poly1305Tag computes the RFC 8439 §2.8 MAC over aad and ciphertext,
// each padded to a 16-byte boundary, followed by a 16-byte trailer
// holding their little-endian 64-bit lengths.
func poly1305Tag(polyKey [32]byte, aad, ciphertext []byte) [TagSize]byte {
	var mac [TagSize]byte
	h := poly1305New(polyKey)

	h.write(aad)
	h.padTo16()
	h.write(ciphertext)
	h.padTo16()

	var trailer [16]byte
	binary.LittleEndian.PutUint64(trailer[0:8], uint64(len(aad)))
	binary.LittleEndian.PutUint64(trailer[8:16], uint64(len(ciphertext)))
	h.write(trailer[:])

	h.sum(mac[:0])
	return mac
}

// macAccumulator wraps poly1305.MAC to track the running byte count
// needed for zero-padding to the next 16-byte boundary.
type macAccumulator struct {
	mac *poly1305.MAC
	n   int
}

func poly1305New(key [32]byte) *macAccumulator {
	return &macAccumulator{mac: poly1305.New(&key)}
}

func (a *macAccumulator) write(p []byte) {
	a.mac.Write(p)
	a.n += len(p)
}

func (a *macAccumulator) padTo16() {
	if rem := a.n % 16; rem != 0 {
		var zeros [16]byte
		a.write(zeros[:16-rem])
	}
}

func (a *macAccumulator) sum(dst []byte) {
	a.mac.Sum(dst)
}

// wipe zeroes a secret buffer in place (spec.md §4.2/§5 "wiped on scope
// exit"). It is not a substitute for compiler-barrier memory scrubbing
// guarantees; it matches the best-effort discipline of the reference
// corpus's wipe-on-drop containers.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
