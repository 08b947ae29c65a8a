// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"

	"github.com/relabs-tech/gesture_node/internal/imu"
)

// Gesture is a motion pattern produced by Synthetic.
type Gesture int

const (
	GestureRest Gesture = iota
	GestureWave
	GestureShake
	GestureCircle
	numGestures
)

func (g Gesture) String() string {
	switch g {
	case GestureRest:
		return "rest"
	case GestureWave:
		return "wave"
	case GestureShake:
		return "shake"
	case GestureCircle:
		return "circle"
	}
	return "unknown"
}

// Synthetic generates deterministic gesture-like motion for bench runs
// without an IMU. Each gesture lasts Period samples, then the next one
// starts.
type Synthetic struct {
	RateHz int
	Period int

	n     int
	fixed bool
	g     Gesture
	fail  func(n int) bool
}

// NewSynthetic returns a generator cycling through all gestures.
func NewSynthetic(rateHz int) *Synthetic {
	return &Synthetic{RateHz: rateHz, Period: 200}
}

// Hold makes the generator produce only g.
func (s *Synthetic) Hold(g Gesture) {
	s.g = g
	s.fixed = true
}

// FailWhen makes Read report no sample whenever f returns true for the
// sample index.
func (s *Synthetic) FailWhen(f func(n int) bool) { s.fail = f }

func (s *Synthetic) Begin() bool { return true }

// Current returns the gesture the next sample belongs to.
func (s *Synthetic) Current() Gesture {
	if s.fixed || s.Period <= 0 {
		return s.g
	}
	return Gesture((s.n / s.Period) % int(numGestures))
}

func (s *Synthetic) Read() (imu.Sample, bool) {
	n := s.n
	g := s.Current()
	s.n++
	if s.fail != nil && s.fail(n) {
		return imu.Sample{}, false
	}

	rate := float64(s.RateHz)
	if rate <= 0 {
		rate = 50
	}
	t := float64(n) / rate
	// gravity on Z plus a little deterministic tremor
	tremor := 0.01 * math.Sin(2*math.Pi*7.3*t)
	ax, ay, az := tremor, -tremor, 1.0
	var gx, gy, gz float64

	switch g {
	case GestureWave:
		gz = 180 * math.Sin(2*math.Pi*1.5*t)
		ay += 0.4 * math.Sin(2*math.Pi*1.5*t)
	case GestureShake:
		ax += 1.5 * math.Sin(2*math.Pi*4*t)
		gy = 60 * math.Cos(2*math.Pi*4*t)
	case GestureCircle:
		ax += 0.6 * math.Cos(2*math.Pi*t)
		ay += 0.6 * math.Sin(2*math.Pi*t)
		gx = 90 * math.Sin(2*math.Pi*t)
		gy = 90 * math.Cos(2*math.Pi*t)
	}

	return imu.Sample{
		Ax: imu.ScaleAccel(ax),
		Ay: imu.ScaleAccel(ay),
		Az: imu.ScaleAccel(az),
		Gx: imu.ScaleGyro(gx),
		Gy: imu.ScaleGyro(gy),
		Gz: imu.ScaleGyro(gz),
	}, true
}

func (s *Synthetic) ChipName() string { return "Synthetic" }
func (s *Synthetic) ChipType() byte   { return imu.ChipSynthetic }
