package mesh

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SensorData is the device→coordinator telemetry payload (spec.md §3).
type SensorData struct {
	DeviceType  uint16
	TimestampS  uint32
	Temperature float32
	Humidity    float32
	BatteryMV   uint16
	RSSI        int8
	AccuracyPct uint8
}

// sensorDataSize is the packed wire size of SensorData.
const sensorDataSize = 2 + 4 + 4 + 4 + 2 + 1 + 1

// EncodeSensorData writes s into the first bytes of a payload buffer.
func EncodeSensorData(s SensorData) [PayloadSize]byte {
	var buf [PayloadSize]byte
	binary.LittleEndian.PutUint16(buf[0:], s.DeviceType)
	binary.LittleEndian.PutUint32(buf[2:], s.TimestampS)
	binary.LittleEndian.PutUint32(buf[6:], math.Float32bits(s.Temperature))
	binary.LittleEndian.PutUint32(buf[10:], math.Float32bits(s.Humidity))
	binary.LittleEndian.PutUint16(buf[14:], s.BatteryMV)
	buf[16] = byte(s.RSSI)
	buf[17] = s.AccuracyPct
	return buf
}

// DecodeSensorData reads a SensorData value from a payload buffer.
func DecodeSensorData(payload []byte) (SensorData, error) {
	var s SensorData
	if len(payload) < sensorDataSize {
		return s, fmt.Errorf("mesh: sensor payload too short: %d bytes", len(payload))
	}
	s.DeviceType = binary.LittleEndian.Uint16(payload[0:])
	s.TimestampS = binary.LittleEndian.Uint32(payload[2:])
	s.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(payload[6:]))
	s.Humidity = math.Float32frombits(binary.LittleEndian.Uint32(payload[10:]))
	s.BatteryMV = binary.LittleEndian.Uint16(payload[14:])
	s.RSSI = int8(payload[16])
	s.AccuracyPct = payload[17]
	return s, nil
}

// GroupCommand is the CMD_GROUP payload (spec.md §3).
type GroupCommand struct {
	GroupID     uint16
	CommandCode uint8
	Parameters  []byte // at most 16 bytes
}

// MaxGroupParameters is the GroupCommand parameter byte cap.
const MaxGroupParameters = 16

// EncodeGroupCommand writes g into a payload buffer.
func EncodeGroupCommand(g GroupCommand) ([PayloadSize]byte, error) {
	var buf [PayloadSize]byte
	if len(g.Parameters) > MaxGroupParameters {
		return buf, fmt.Errorf("mesh: group command parameters exceed %d bytes", MaxGroupParameters)
	}
	binary.LittleEndian.PutUint16(buf[0:], g.GroupID)
	buf[2] = g.CommandCode
	buf[3] = uint8(len(g.Parameters))
	copy(buf[4:], g.Parameters)
	return buf, nil
}

// DecodeGroupCommand reads a GroupCommand value from a payload buffer.
func DecodeGroupCommand(payload []byte) (GroupCommand, error) {
	var g GroupCommand
	if len(payload) < 4 {
		return g, fmt.Errorf("mesh: group command payload too short: %d bytes", len(payload))
	}
	g.GroupID = binary.LittleEndian.Uint16(payload[0:])
	g.CommandCode = payload[2]
	n := int(payload[3])
	if n > MaxGroupParameters || 4+n > len(payload) {
		return g, fmt.Errorf("mesh: group command parameter_len %d invalid", n)
	}
	g.Parameters = append([]byte(nil), payload[4:4+n]...)
	return g, nil
}

// EmergencyEvent is the EVENT_BROADCAST payload (spec.md §3).
type EmergencyEvent struct {
	EventType   uint8
	Severity    uint8
	SensorAddr  Address
	EventData   []byte // event-specific trailing bytes
}

// emergencyHeaderSize is the fixed portion preceding event-specific bytes.
const emergencyHeaderSize = 1 + 1 + AddressSize

// EncodeEmergencyEvent writes e into a payload buffer.
func EncodeEmergencyEvent(e EmergencyEvent) ([PayloadSize]byte, error) {
	var buf [PayloadSize]byte
	if emergencyHeaderSize+len(e.EventData) > PayloadSize {
		return buf, fmt.Errorf("mesh: emergency event data too large: %d bytes", len(e.EventData))
	}
	buf[0] = e.EventType
	buf[1] = e.Severity
	copy(buf[2:2+AddressSize], e.SensorAddr[:])
	copy(buf[emergencyHeaderSize:], e.EventData)
	return buf, nil
}

// DecodeEmergencyEvent reads an EmergencyEvent value from a payload buffer.
// trailingLen bounds how many event-specific bytes to capture, since the
// payload buffer itself is always PayloadSize and zero-padded.
func DecodeEmergencyEvent(payload []byte, trailingLen int) (EmergencyEvent, error) {
	var e EmergencyEvent
	if len(payload) < emergencyHeaderSize {
		return e, fmt.Errorf("mesh: emergency event payload too short: %d bytes", len(payload))
	}
	e.EventType = payload[0]
	e.Severity = payload[1]
	copy(e.SensorAddr[:], payload[2:2+AddressSize])
	if trailingLen < 0 {
		trailingLen = 0
	}
	end := emergencyHeaderSize + trailingLen
	if end > len(payload) {
		end = len(payload)
	}
	e.EventData = append([]byte(nil), payload[emergencyHeaderSize:end]...)
	return e, nil
}
