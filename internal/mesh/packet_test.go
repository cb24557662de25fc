package mesh_test

import (
	"testing"

	"github.com/dj3m/meshstatic/internal/mesh"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pkt  mesh.Packet
	}{
		{
			name: "minimal data sensor",
			pkt: mesh.Packet{
				NetworkID: mesh.NetworkID,
				Version:   mesh.Version,
				TTL:       mesh.DefaultTTL,
				PacketID:  1,
				Src:       mesh.Address{2, 0, 0, 0, 0, 1},
				Dst:       mesh.Address{2, 0, 0, 0, 0, 2},
				LastHop:   mesh.Address{2, 0, 0, 0, 0, 1},
				MsgType:   mesh.MsgDataSensor,
			},
		},
		{
			name: "broadcast heartbeat with flags",
			pkt: mesh.Packet{
				NetworkID: mesh.NetworkID,
				Version:   mesh.Version,
				TTL:       1,
				PacketID:  0xDEADBEEF,
				Src:       mesh.Address{2, 0, 0, 0, 0, 9},
				Dst:       mesh.Broadcast,
				LastHop:   mesh.Address{2, 0, 0, 0, 0, 9},
				MsgType:   mesh.MsgHeartbeat,
				Flags:     mesh.FlagBroadcast | mesh.FlagRequireAck,
				GroupID:   7,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			copy(tc.pkt.Payload[:], []byte("hello mesh"))

			frame := mesh.Encode(&tc.pkt)
			if len(frame) != mesh.FrameSize {
				t.Fatalf("Encode produced %d bytes, want %d", len(frame), mesh.FrameSize)
			}

			got, err := mesh.Decode(frame[:])
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.pkt {
				t.Fatalf("Decode(Encode(p)) = %+v, want %+v", got, tc.pkt)
			}
		})
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	t.Parallel()

	_, err := mesh.Decode(make([]byte, mesh.FrameSize-1))
	if err == nil {
		t.Fatal("expected ErrInvalidFrame for short frame")
	}
}

func TestHeaderAADExcludesPayload(t *testing.T) {
	t.Parallel()

	p := mesh.Packet{
		NetworkID: mesh.NetworkID,
		Version:   mesh.Version,
		TTL:       mesh.DefaultTTL,
		PacketID:  42,
		Src:       mesh.Address{2, 0, 0, 0, 0, 1},
		Dst:       mesh.Address{2, 0, 0, 0, 0, 2},
		LastHop:   mesh.Address{2, 0, 0, 0, 0, 1},
		MsgType:   mesh.MsgDataSensor,
	}
	copy(p.Payload[:], []byte("payload a"))
	aadA := mesh.HeaderAAD(&p)

	copy(p.Payload[:], []byte("payload b, different"))
	aadB := mesh.HeaderAAD(&p)

	if string(aadA) != string(aadB) {
		t.Fatal("HeaderAAD must not vary with payload contents")
	}
	if len(aadA) != mesh.FrameSize-mesh.PayloadSize {
		t.Fatalf("HeaderAAD length = %d, want %d", len(aadA), mesh.FrameSize-mesh.PayloadSize)
	}
}

func TestFlagsHas(t *testing.T) {
	t.Parallel()

	f := mesh.FlagRequireAck | mesh.FlagEncrypted
	if !f.Has(mesh.FlagRequireAck) {
		t.Fatal("expected REQUIRE_ACK set")
	}
	if f.Has(mesh.FlagEmergency) {
		t.Fatal("did not expect EMERGENCY set")
	}
	if !f.Has(mesh.FlagRequireAck | mesh.FlagEncrypted) {
		t.Fatal("expected both bits set simultaneously")
	}
}
