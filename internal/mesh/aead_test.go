package mesh_test

import (
	"bytes"
	"testing"

	"github.com/dj3m/meshstatic/internal/mesh"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	var key [mesh.KeySize]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, mesh.KeySize))
	var nonce [mesh.NonceSize]byte
	copy(nonce[:], []byte{0, 0, 0, 1, 2, 0, 0, 0, 0, 0, 1, 0})

	aad := []byte("header bytes")
	plaintext := []byte("sensor reading payload")

	ciphertext, tag, err := mesh.Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(ciphertext) != len(plaintext) {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext))
	}

	got, err := mesh.Open(key, nonce, aad, ciphertext, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open(Seal(p)) = %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	t.Parallel()
	key, nonce, aad, plaintext := fixedAEADInputs()
	ciphertext, tag, err := mesh.Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ciphertext[0] ^= 0x01
	if _, err := mesh.Open(key, nonce, aad, ciphertext, tag); err != mesh.ErrAuthFailure {
		t.Fatalf("Open with tampered ciphertext: err = %v, want ErrAuthFailure", err)
	}
}

func TestOpenRejectsTamperedTag(t *testing.T) {
	t.Parallel()
	key, nonce, aad, plaintext := fixedAEADInputs()
	ciphertext, tag, err := mesh.Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tag[len(tag)-1] ^= 0x01
	if _, err := mesh.Open(key, nonce, aad, ciphertext, tag); err != mesh.ErrAuthFailure {
		t.Fatalf("Open with tampered tag: err = %v, want ErrAuthFailure", err)
	}
}

func TestOpenRejectsTamperedAAD(t *testing.T) {
	t.Parallel()
	key, nonce, aad, plaintext := fixedAEADInputs()
	ciphertext, tag, err := mesh.Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tampered := append([]byte(nil), aad...)
	tampered[0] ^= 0x01
	if _, err := mesh.Open(key, nonce, tampered, ciphertext, tag); err != mesh.ErrAuthFailure {
		t.Fatalf("Open with tampered aad: err = %v, want ErrAuthFailure", err)
	}
}

func TestOpenReturnsNoPlaintextOnFailure(t *testing.T) {
	t.Parallel()
	key, nonce, aad, plaintext := fixedAEADInputs()
	ciphertext, tag, err := mesh.Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tag[0] ^= 0xFF
	got, err := mesh.Open(key, nonce, aad, ciphertext, tag)
	if err == nil {
		t.Fatal("expected an error")
	}
	if got != nil {
		t.Fatal("plaintext must be nil on authentication failure")
	}
}

func fixedAEADInputs() (key [mesh.KeySize]byte, nonce [mesh.NonceSize]byte, aad, plaintext []byte) {
	copy(key[:], bytes.Repeat([]byte{0x42}, mesh.KeySize))
	copy(nonce[:], []byte{0, 0, 0, 9, 2, 0, 0, 0, 0, 0, 3, 0})
	return key, nonce, []byte("fixed aad"), []byte("fixed plaintext body")
}
