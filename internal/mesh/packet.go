// Package mesh implements the MeshStatic protocol core: the wire codec,
// the ChaCha20-Poly1305 AEAD layer, the routing table and duplicate
// suppressor, and the packet engine that validates, dispatches,
// forwards, and originates frames over a broadcast-capable link.
package mesh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Wire Constants
// -------------------------------------------------------------------------

// NetworkID is the fixed magic value every MeshStatic frame must carry.
// A mismatch is a silent drop (spec.md §3/§8).
const NetworkID uint16 = 0xFA23

// Version is the protocol version this codec produces and accepts.
const Version uint8 = 1

// FrameSize is the fixed, byte-packed, little-endian frame length.
const FrameSize = 210

// PayloadSize is the opaque payload capacity within a frame.
const PayloadSize = 180

// DefaultTTL is the hop budget assigned to originated packets.
const DefaultTTL uint8 = 7

// LinkMTU is the maximum frame size the underlying link tolerates.
// FrameSize leaves headroom below it.
const LinkMTU = 250

// header byte offsets, little-endian throughout (spec.md §3).
const (
	offNetworkID = 0
	offVersion   = 2
	offTTL       = 3
	offPacketID  = 4
	offSrc       = 8
	offDst       = 14
	offLastHop   = 20
	offMsgType   = 26
	offFlags     = 27
	offGroupID   = 28
	offPayload   = 30
)

// -------------------------------------------------------------------------
// Message Types & Flags
// -------------------------------------------------------------------------

// MsgType identifies the semantics of a packet's payload.
type MsgType uint8

// Message type enumeration (spec.md §3).
const (
	MsgDataSensor        MsgType = 0x01
	MsgDataActuator      MsgType = 0x02
	MsgCmdSet            MsgType = 0x03
	MsgCmdGet            MsgType = 0x04
	MsgRoutingUpdate     MsgType = 0x05
	MsgHeartbeat         MsgType = 0x06
	MsgDiscovery         MsgType = 0x07
	MsgCmdGroup          MsgType = 0x08
	MsgEventBroadcast    MsgType = 0x09
	MsgDeviceStateUpdate MsgType = 0x0A
	MsgAck               MsgType = 0x0E
	MsgNack              MsgType = 0x0F
)

// String names a message type for logs and the admin surface.
func (m MsgType) String() string {
	switch m {
	case MsgDataSensor:
		return "DATA_SENSOR"
	case MsgDataActuator:
		return "DATA_ACTUATOR"
	case MsgCmdSet:
		return "CMD_SET"
	case MsgCmdGet:
		return "CMD_GET"
	case MsgRoutingUpdate:
		return "ROUTING_UPDATE"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgDiscovery:
		return "DISCOVERY"
	case MsgCmdGroup:
		return "CMD_GROUP"
	case MsgEventBroadcast:
		return "EVENT_BROADCAST"
	case MsgDeviceStateUpdate:
		return "DEVICE_STATE_UPDATE"
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(m))
	}
}

// Flags is the packet header bit field.
type Flags uint8

// Flag bits (spec.md §3).
const (
	FlagRequireAck   Flags = 0x01
	FlagLocalProcess Flags = 0x02
	FlagEmergency    Flags = 0x04
	FlagEncrypted    Flags = 0x08
	FlagBroadcast    Flags = 0x40
)

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// -------------------------------------------------------------------------
// Packet
// -------------------------------------------------------------------------

// Packet is the decoded, fixed-size MeshStatic frame (spec.md §3).
type Packet struct {
	NetworkID uint16
	Version   uint8
	TTL       uint8
	PacketID  uint32
	Src       Address
	Dst       Address
	LastHop   Address
	MsgType   MsgType
	Flags     Flags
	GroupID   uint16
	Payload   [PayloadSize]byte
}

// ErrInvalidFrame indicates the input is too short to hold a MeshStatic
// frame. Decode performs no semantic validation beyond length.
var ErrInvalidFrame = errors.New("mesh: frame shorter than wire format")

// Encode serializes p into a new FrameSize-byte, little-endian buffer.
// Encode never fails: every field has a fixed-width wire representation.
func Encode(p *Packet) [FrameSize]byte {
	var buf [FrameSize]byte

	binary.LittleEndian.PutUint16(buf[offNetworkID:], p.NetworkID)
	buf[offVersion] = p.Version
	buf[offTTL] = p.TTL
	binary.LittleEndian.PutUint32(buf[offPacketID:], p.PacketID)
	copy(buf[offSrc:offSrc+AddressSize], p.Src[:])
	copy(buf[offDst:offDst+AddressSize], p.Dst[:])
	copy(buf[offLastHop:offLastHop+AddressSize], p.LastHop[:])
	buf[offMsgType] = uint8(p.MsgType)
	buf[offFlags] = uint8(p.Flags)
	binary.LittleEndian.PutUint16(buf[offGroupID:], p.GroupID)
	copy(buf[offPayload:offPayload+PayloadSize], p.Payload[:])

	return buf
}

// Decode parses a wire frame into a Packet. It performs only the bounds
// check implied by the fixed frame size; network_id/version/ttl/src
// semantic validation belongs to the packet engine (spec.md §4.1/§4.5).
func Decode(raw []byte) (Packet, error) {
	var p Packet
	if len(raw) < FrameSize {
		return p, fmt.Errorf("mesh: decode: got %d bytes, want %d: %w", len(raw), FrameSize, ErrInvalidFrame)
	}

	p.NetworkID = binary.LittleEndian.Uint16(raw[offNetworkID:])
	p.Version = raw[offVersion]
	p.TTL = raw[offTTL]
	p.PacketID = binary.LittleEndian.Uint32(raw[offPacketID:])
	copy(p.Src[:], raw[offSrc:offSrc+AddressSize])
	copy(p.Dst[:], raw[offDst:offDst+AddressSize])
	copy(p.LastHop[:], raw[offLastHop:offLastHop+AddressSize])
	p.MsgType = MsgType(raw[offMsgType])
	p.Flags = Flags(raw[offFlags])
	p.GroupID = binary.LittleEndian.Uint16(raw[offGroupID:])
	copy(p.Payload[:], raw[offPayload:offPayload+PayloadSize])

	return p, nil
}

// HeaderAAD returns every header byte excluding the payload, used as the
// AEAD associated data for encrypted frames (spec.md §4.5 step 5).
func HeaderAAD(p *Packet) []byte {
	frame := Encode(p)
	aad := make([]byte, offPayload)
	copy(aad, frame[:offPayload])
	return aad
}
