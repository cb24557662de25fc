package mesh_test

import (
	"testing"

	"github.com/dj3m/meshstatic/internal/mesh"
)

func TestAddressString(t *testing.T) {
	t.Parallel()

	a := mesh.Address{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	want := "02:00:00:00:00:01"
	if got := a.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []mesh.Address{
		mesh.Broadcast,
		mesh.Zero,
		{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
	}
	for _, a := range tests {
		parsed, err := mesh.ParseAddress(a.String())
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", a.String(), err)
		}
		if parsed != a {
			t.Fatalf("ParseAddress(%q) = %v, want %v", a.String(), parsed, a)
		}
	}
}

func TestParseAddressRejectsBadInput(t *testing.T) {
	t.Parallel()

	bad := []string{"", "02:00:00", "zz:00:00:00:00:01", "02:00:00:00:00:01:ff"}
	for _, s := range bad {
		if _, err := mesh.ParseAddress(s); err == nil {
			t.Fatalf("ParseAddress(%q): expected error, got nil", s)
		}
	}
}

func TestValidSource(t *testing.T) {
	t.Parallel()

	if mesh.Broadcast.ValidSource() {
		t.Fatal("broadcast must not be a valid source")
	}
	if mesh.Zero.ValidSource() {
		t.Fatal("zero address must not be a valid source")
	}
	ok := mesh.Address{0x02, 0, 0, 0, 0, 1}
	if !ok.ValidSource() {
		t.Fatal("ordinary address must be a valid source")
	}
}
