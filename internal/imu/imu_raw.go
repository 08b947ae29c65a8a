package imu

// Scale factors applied by the sensor drivers before samples leave the chip
// abstraction: int16 / AccelScale = g (±4 g), int16 / GyroScale = °/s (±2000 °/s).
const (
	AccelScale = 8192.0
	GyroScale  = 16.4
)

// Chip type identifiers reported in the device info record.
const (
	ChipLSM9DS1   byte = 0
	ChipBMI270    byte = 1
	ChipMPU9250   byte = 2
	ChipSynthetic byte = 255
)

// Sample represents a single scaled 6-axis IMU reading.
type Sample struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Sequence  uint16 `json:"seq"` // wraps at 65535
	Timestamp uint16 `json:"ts"`  // milliseconds mod 65536
}

// Reader is a sensor driver. One implementation exists per supported chip.
type Reader interface {
	// Begin initializes the hardware. It reports false when the chip is unusable.
	Begin() bool
	// Read returns a new sample, or false when none is available this tick.
	Read() (Sample, bool)
	ChipName() string
	ChipType() byte
}

// ScaleAccel converts an acceleration in g to the scaled int16 representation.
func ScaleAccel(g float64) int16 {
	return clampInt16(g * AccelScale)
}

// ScaleGyro converts an angular rate in °/s to the scaled int16 representation.
func ScaleGyro(dps float64) int16 {
	return clampInt16(dps * GyroScale)
}

func clampInt16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
