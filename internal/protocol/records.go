package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relabs-tech/gesture_node/internal/model"
)

// Record sizes.
const (
	InferenceSize  = 4
	DeviceInfoSize = 24
	ConfigSize     = 4
	ModeSize       = 1
)

// Sample rate bounds accepted in a config record.
const (
	MinSampleRateHz     = 10
	MaxSampleRateHz     = 50
	DefaultSampleRateHz = 25
)

// Mode selects what the device does with sensor samples.
type Mode byte

const (
	// ModeCollect streams raw sensor packets for training.
	ModeCollect Mode = 0
	// ModeInference classifies on-device.
	ModeInference Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeCollect:
		return "collect"
	case ModeInference:
		return "inference"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// ParseMode decodes a one-byte mode record.
func ParseMode(b []byte) (Mode, error) {
	if len(b) < ModeSize {
		return 0, fmt.Errorf("%w: empty mode record", model.ErrFormat)
	}
	m := Mode(b[0])
	if m != ModeCollect && m != ModeInference {
		return 0, fmt.Errorf("%w: unknown mode %d", model.ErrFormat, b[0])
	}
	return m, nil
}

// ParseModeName maps "collect" or "inference" to its Mode.
func ParseModeName(name string) (Mode, error) {
	switch name {
	case "collect":
		return ModeCollect, nil
	case "inference":
		return ModeInference, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", model.ErrFormat, name)
	}
}

// Inference is one classification result.
type Inference struct {
	Class      uint8
	Confidence float32 // 0.0-1.0
}

// Encode returns [class, confidence percent, 0, 0].
func (r Inference) Encode() [InferenceSize]byte {
	return [InferenceSize]byte{r.Class, Percent(r.Confidence), 0, 0}
}

// DecodeInference parses an inference record. Confidence is recovered
// at whole percent resolution.
func DecodeInference(b []byte) (Inference, error) {
	if len(b) < InferenceSize {
		return Inference{}, fmt.Errorf("%w: inference record is %d bytes", model.ErrFormat, len(b))
	}
	return Inference{Class: b[0], Confidence: float32(b[1]) / 100}, nil
}

// Percent converts a probability to a whole percentage, truncating and
// clamping to 0-100.
func Percent(p float32) byte {
	switch {
	case math.IsNaN(float64(p)) || p <= 0:
		return 0
	case p >= 1:
		return 100
	}
	return byte(p * 100)
}

// Config is the runtime-tunable sensor configuration.
type Config struct {
	SampleRateHz uint16
	WindowSize   uint16
}

// Encode returns [rate u16, window u16].
func (c Config) Encode() [ConfigSize]byte {
	var b [ConfigSize]byte
	binary.LittleEndian.PutUint16(b[0:], c.SampleRateHz)
	binary.LittleEndian.PutUint16(b[2:], c.WindowSize)
	return b
}

// DecodeConfig parses a config record and checks the sample rate bounds.
// The window size is fixed at build time and is ignored on input.
func DecodeConfig(b []byte) (Config, error) {
	if len(b) < ConfigSize {
		return Config{}, fmt.Errorf("%w: config record is %d bytes", model.ErrFormat, len(b))
	}
	c := Config{
		SampleRateHz: binary.LittleEndian.Uint16(b[0:]),
		WindowSize:   binary.LittleEndian.Uint16(b[2:]),
	}
	if c.SampleRateHz < MinSampleRateHz || c.SampleRateHz > MaxSampleRateHz {
		return Config{}, fmt.Errorf("%w: sample rate %d Hz outside %d-%d",
			model.ErrFormat, c.SampleRateHz, MinSampleRateHz, MaxSampleRateHz)
	}
	return c, nil
}

// DeviceInfo is the read-only identity and statistics record.
type DeviceInfo struct {
	VersionMajor   uint8
	VersionMinor   uint8
	ChipType       uint8
	Battery        uint8 // 255 = USB powered
	WindowSize     uint16
	SampleRateHz   uint16
	UptimeSeconds  uint32
	TotalSamples   uint32
	InferenceCount uint32
	HasModel       bool
	ModelSize      uint32 // 24 bits on the wire
}

// Encode returns the 24-byte wire form of d.
func (d DeviceInfo) Encode() [DeviceInfoSize]byte {
	var b [DeviceInfoSize]byte
	b[0] = d.VersionMajor
	b[1] = d.VersionMinor
	b[2] = d.ChipType
	b[3] = d.Battery
	binary.LittleEndian.PutUint16(b[4:], d.WindowSize)
	binary.LittleEndian.PutUint16(b[6:], d.SampleRateHz)
	binary.LittleEndian.PutUint32(b[8:], d.UptimeSeconds)
	binary.LittleEndian.PutUint32(b[12:], d.TotalSamples)
	binary.LittleEndian.PutUint32(b[16:], d.InferenceCount)
	if d.HasModel {
		b[20] = 1
	}
	b[21] = byte(d.ModelSize)
	b[22] = byte(d.ModelSize >> 8)
	b[23] = byte(d.ModelSize >> 16)
	return b
}

// DecodeDeviceInfo parses a device info record.
func DecodeDeviceInfo(b []byte) (DeviceInfo, error) {
	if len(b) < DeviceInfoSize {
		return DeviceInfo{}, fmt.Errorf("%w: device info is %d bytes", model.ErrFormat, len(b))
	}
	return DeviceInfo{
		VersionMajor:   b[0],
		VersionMinor:   b[1],
		ChipType:       b[2],
		Battery:        b[3],
		WindowSize:     binary.LittleEndian.Uint16(b[4:]),
		SampleRateHz:   binary.LittleEndian.Uint16(b[6:]),
		UptimeSeconds:  binary.LittleEndian.Uint32(b[8:]),
		TotalSamples:   binary.LittleEndian.Uint32(b[12:]),
		InferenceCount: binary.LittleEndian.Uint32(b[16:]),
		HasModel:       b[20] != 0,
		ModelSize:      uint32(b[21]) | uint32(b[22])<<8 | uint32(b[23])<<16,
	}, nil
}
