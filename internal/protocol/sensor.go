package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/relabs-tech/gesture_node/internal/checksum"
	"github.com/relabs-tech/gesture_node/internal/imu"
	"github.com/relabs-tech/gesture_node/internal/model"
)

// SensorPacketSize is 6 x int16 + sequence u16 + timestamp u16 + CRC-8.
const SensorPacketSize = 17

// ErrPacketCRC is returned by DecodeSensorPacket when the trailer does not match.
var ErrPacketCRC = fmt.Errorf("%w: sensor packet crc mismatch", model.ErrCRC)

// EncodeSensorPacket packs s and appends the CRC-8 trailer over bytes 0-15.
func EncodeSensorPacket(s imu.Sample) [SensorPacketSize]byte {
	var p [SensorPacketSize]byte
	binary.LittleEndian.PutUint16(p[0:], uint16(s.Ax))
	binary.LittleEndian.PutUint16(p[2:], uint16(s.Ay))
	binary.LittleEndian.PutUint16(p[4:], uint16(s.Az))
	binary.LittleEndian.PutUint16(p[6:], uint16(s.Gx))
	binary.LittleEndian.PutUint16(p[8:], uint16(s.Gy))
	binary.LittleEndian.PutUint16(p[10:], uint16(s.Gz))
	binary.LittleEndian.PutUint16(p[12:], s.Sequence)
	binary.LittleEndian.PutUint16(p[14:], s.Timestamp)
	p[16] = checksum.CRC8Packet(p[:])
	return p
}

// DecodeSensorPacket unpacks a sensor packet and verifies its trailer.
func DecodeSensorPacket(b []byte) (imu.Sample, error) {
	if len(b) < SensorPacketSize {
		return imu.Sample{}, fmt.Errorf("%w: sensor packet is %d bytes", model.ErrFormat, len(b))
	}
	if got, want := b[16], checksum.CRC8Packet(b); got != want {
		return imu.Sample{}, fmt.Errorf("%w (got 0x%02X, want 0x%02X)", ErrPacketCRC, got, want)
	}
	return imu.Sample{
		Ax:        int16(binary.LittleEndian.Uint16(b[0:])),
		Ay:        int16(binary.LittleEndian.Uint16(b[2:])),
		Az:        int16(binary.LittleEndian.Uint16(b[4:])),
		Gx:        int16(binary.LittleEndian.Uint16(b[6:])),
		Gy:        int16(binary.LittleEndian.Uint16(b[8:])),
		Gz:        int16(binary.LittleEndian.Uint16(b[10:])),
		Sequence:  binary.LittleEndian.Uint16(b[12:]),
		Timestamp: binary.LittleEndian.Uint16(b[14:]),
	}, nil
}
