// Package window accumulates normalized IMU samples into the fixed-size
// input vector the classifier consumes.
package window

import (
	"fmt"

	"github.com/relabs-tech/gesture_node/internal/imu"
)

const (
	// Size is the number of samples in one window (4 s at 25 Hz).
	Size = 100
	// Channels per sample: ax, ay, az, gx, gy, gz.
	Channels = 6
	// InputSize is the length of a flattened window.
	InputSize = Size * Channels

	// Stride25 favours responsiveness, Stride50 favours fewer, more distinct predictions.
	Stride25 = 25
	Stride50 = 50

	// gyroRangeDivisor brings °/s into the same numeric range as g.
	gyroRangeDivisor = 100.0
)

// Buffer is a fixed-capacity sliding window. The zero value is not usable; call New.
type Buffer struct {
	samples [Size][Channels]float32
	filled  int
	stride  int
}

// New returns an empty window that drops stride samples on every Slide.
func New(stride int) (*Buffer, error) {
	if stride <= 0 || stride > Size {
		return nil, fmt.Errorf("window stride must be 1-%d, got %d", Size, stride)
	}
	return &Buffer{stride: stride}, nil
}

// Append normalizes s and stores it in the next free slot. It is a no-op
// once the window is full.
func (b *Buffer) Append(s imu.Sample) {
	if b.filled >= Size {
		return
	}
	row := &b.samples[b.filled]
	row[0] = float32(s.Ax) / imu.AccelScale
	row[1] = float32(s.Ay) / imu.AccelScale
	row[2] = float32(s.Az) / imu.AccelScale
	row[3] = float32(s.Gx) / imu.GyroScale / gyroRangeDivisor
	row[4] = float32(s.Gy) / imu.GyroScale / gyroRangeDivisor
	row[5] = float32(s.Gz) / imu.GyroScale / gyroRangeDivisor
	b.filled++
}

// IsReady reports whether the window holds Size samples.
func (b *Buffer) IsReady() bool {
	return b.filled == Size
}

// Count returns the number of samples currently held.
func (b *Buffer) Count() int {
	return b.filled
}

// Stride returns the number of samples dropped by Slide.
func (b *Buffer) Stride() int {
	return b.stride
}

// Flatten writes the window in sample-major order (all six channels of
// sample 0, then sample 1, ...). The model weights are trained on this
// exact ordering. dst is reused when it has room for InputSize values.
// Slots past Count are zero.
func (b *Buffer) Flatten(dst []float32) []float32 {
	if cap(dst) < InputSize {
		dst = make([]float32, InputSize)
	}
	dst = dst[:InputSize]
	for i := range b.samples {
		copy(dst[i*Channels:(i+1)*Channels], b.samples[i][:])
	}
	return dst
}

// Slide moves the newest Size-stride samples to the front and continues
// filling after them.
func (b *Buffer) Slide() {
	keep := Size - b.stride
	if b.filled < Size {
		// partial window: keep whatever overlaps the retained tail
		keep = b.filled - b.stride
		if keep < 0 {
			keep = 0
		}
	}
	copy(b.samples[:keep], b.samples[b.filled-keep:b.filled])
	for i := keep; i < Size; i++ {
		b.samples[i] = [Channels]float32{}
	}
	b.filled = keep
}

// Reset empties the window.
func (b *Buffer) Reset() {
	b.samples = [Size][Channels]float32{}
	b.filled = 0
}
