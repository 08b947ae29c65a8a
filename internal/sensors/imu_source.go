// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors provides the imu.Reader implementations.
package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gesture_node/internal/imu"
)

// Full-scale selections matching imu.AccelScale and imu.GyroScale.
const (
	accelRange4G     byte = 1 // ±4 g, 8192 LSB/g
	gyroRange2000DPS byte = 3 // ±2000 °/s, 16.4 LSB/(°/s)
)

// errorLogEvery limits read error logging at high sample rates.
const errorLogEvery = 100

// MPU9250 reads an MPU9250 over SPI.
type MPU9250 struct {
	spiDev string
	csPin  string

	dev    *mpu9250.MPU9250
	errors int
}

// NewMPU9250 returns a reader for the chip on spiDev with chip select csPin.
// Nothing touches the hardware until Begin.
func NewMPU9250(spiDev, csPin string) *MPU9250 {
	return &MPU9250{spiDev: spiDev, csPin: csPin}
}

// Begin initializes the chip, runs self-test and calibration, then sets and
// verifies the ranges the scale constants assume. Self-test or calibration
// failures are logged but not fatal; a range mismatch is.
func (s *MPU9250) Begin() bool {
	if err := s.init(); err != nil {
		log.Printf("imu: %v", err)
		return false
	}
	return true
}

func (s *MPU9250) init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(s.csPin)
	if cs == nil {
		return fmt.Errorf("CS pin %q not found", s.csPin)
	}

	tr, err := mpu9250.NewSpiTransport(s.spiDev, cs)
	if err != nil {
		return fmt.Errorf("SPI transport (%s): %w", s.spiDev, err)
	}

	dev, err := configure(tr)
	if err != nil {
		return err
	}
	log.Printf("imu: MPU9250 on %s ranges set to ±4g / ±2000°/s", s.spiDev)

	s.dev = dev
	return nil
}

// configure brings up the chip behind tr and leaves it at the full-scale
// ranges imu.AccelScale and imu.GyroScale assume. Self-test and calibration
// both reset ACCEL_CONFIG and GYRO_CONFIG to zero, so the ranges go last.
func configure(tr *mpu9250.Transport) (*mpu9250.MPU9250, error) {
	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("initialization: %w", err)
	}

	if _, err := dev.SelfTest(); err != nil {
		log.Printf("imu: WARNING: self-test failed: %v", err)
	}
	if err := dev.Calibrate(); err != nil {
		log.Printf("imu: WARNING: calibration failed: %v", err)
	} else {
		log.Printf("imu: calibration complete")
	}

	if err := setRanges(dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// setRanges writes the full-scale selections and reads them back.
// SetAccelRange takes the FS_SEL field already in register position while
// SetGyroRange shifts its argument itself.
func setRanges(dev *mpu9250.MPU9250) error {
	if err := dev.SetAccelRange(accelRange4G << 3); err != nil {
		return fmt.Errorf("set accel range: %w", err)
	}
	if err := dev.SetGyroRange(gyroRange2000DPS); err != nil {
		return fmt.Errorf("set gyro range: %w", err)
	}

	accel, err := dev.GetAccelRange()
	if err != nil {
		return fmt.Errorf("read accel range: %w", err)
	}
	gyro, err := dev.GetGyroRange()
	if err != nil {
		return fmt.Errorf("read gyro range: %w", err)
	}
	if accel != accelRange4G || gyro != gyroRange2000DPS {
		return fmt.Errorf("range readback: accel FS_SEL %d want %d, gyro FS_SEL %d want %d",
			accel, accelRange4G, gyro, gyroRange2000DPS)
	}
	return nil
}

// Read returns one accel/gyro sample. Sequence and Timestamp are left for
// the caller to stamp.
func (s *MPU9250) Read() (imu.Sample, bool) {
	if s.dev == nil {
		return imu.Sample{}, false
	}
	v, err := s.readAxes()
	if err != nil {
		if s.errors%errorLogEvery == 0 {
			log.Printf("imu: read error (%d so far): %v", s.errors+1, err)
		}
		s.errors++
		return imu.Sample{}, false
	}
	return imu.Sample{Ax: v[0], Ay: v[1], Az: v[2], Gx: v[3], Gy: v[4], Gz: v[5]}, true
}

func (s *MPU9250) readAxes() ([6]int16, error) {
	var v [6]int16
	reads := [6]struct {
		name string
		get  func() (int16, error)
	}{
		{"accel X", s.dev.GetAccelerationX},
		{"accel Y", s.dev.GetAccelerationY},
		{"accel Z", s.dev.GetAccelerationZ},
		{"gyro X", s.dev.GetRotationX},
		{"gyro Y", s.dev.GetRotationY},
		{"gyro Z", s.dev.GetRotationZ},
	}
	for i, r := range reads {
		x, err := r.get()
		if err != nil {
			return v, fmt.Errorf("%s: %w", r.name, err)
		}
		v[i] = x
	}
	return v, nil
}

func (s *MPU9250) ChipName() string { return "MPU9250" }
func (s *MPU9250) ChipType() byte   { return imu.ChipMPU9250 }
