package mesh

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// AddressSize is the length in bytes of a mesh device address.
const AddressSize = 6

// Address is a 6-byte opaque device identifier (spec.md §3, "Address").
type Address [AddressSize]byte

// Broadcast is the reserved all-ones address; it addresses every
// reachable node in one hop.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Zero is the reserved all-zero address. It is never a valid source.
var Zero = Address{}

// ErrInvalidSource indicates a source address is broadcast or zero.
var ErrInvalidSource = errors.New("mesh: source address must not be broadcast or zero")

// IsBroadcast reports whether a equals the reserved broadcast address.
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// ValidSource reports whether a may appear in a packet's src field
// (neither broadcast nor zero, per spec.md §3/§8).
func (a Address) ValidSource() bool {
	return !a.IsBroadcast() && !a.IsZero()
}

// String renders the address as colon-separated hex, matching common
// link-layer MAC notation.
func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// ParseAddress decodes a colon-separated hex address as produced by String.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := make([]byte, 0, AddressSize)
	seg := make([]byte, 0, 2)
	flush := func() error {
		if len(seg) == 0 {
			return nil
		}
		b, err := hex.DecodeString(string(seg))
		if err != nil {
			return fmt.Errorf("mesh: parse address %q: %w", s, err)
		}
		raw = append(raw, b...)
		seg = seg[:0]
		return nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if err := flush(); err != nil {
				return a, err
			}
			continue
		}
		seg = append(seg, s[i])
	}
	if err := flush(); err != nil {
		return a, err
	}
	if len(raw) != AddressSize {
		return a, fmt.Errorf("mesh: address %q must decode to %d bytes, got %d", s, AddressSize, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}
