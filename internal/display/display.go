// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display draws the device status on a 128x64 SSD1306 panel.
package display

import (
	"fmt"
	"image"
	"log"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

const (
	Width  = 128
	Height = 64
	// lineHeight matches basicfont.Face7x13.
	lineHeight = 13
)

// View is what the panel shows.
type View struct {
	Mode       string
	HasModel   bool
	Classes    int
	Label      string
	Confidence float32
	Fallback   bool

	Uploading bool
	Progress  uint8
	Status    string
}

// Panel is an output for View.
type Panel interface {
	Show(v View) error
	Close() error
}

// Lines returns the text rows drawn for v, top to bottom.
func Lines(v View) []string {
	if v.Uploading {
		return []string{
			"Model upload",
			fmt.Sprintf("%3d%%", v.Progress),
			progressBar(v.Progress, 16),
			v.Status,
		}
	}
	model := "no model"
	if v.HasModel {
		model = fmt.Sprintf("%d classes", v.Classes)
	}
	out := []string{"Mode: " + v.Mode, model}
	if v.Mode == "inference" && v.Label != "" {
		out = append(out, v.Label)
		conf := fmt.Sprintf("%.0f%%", v.Confidence*100)
		if v.Fallback {
			conf += " (fallback)"
		}
		out = append(out, conf)
	}
	return out
}

func progressBar(p uint8, width int) string {
	if p > 100 {
		p = 100
	}
	filled := int(p) * width / 100
	b := make([]byte, width+2)
	b[0], b[width+1] = '[', ']'
	for i := 0; i < width; i++ {
		if i < filled {
			b[i+1] = '#'
		} else {
			b[i+1] = '.'
		}
	}
	return string(b)
}

// Render draws v into a new 1-bit image.
func Render(v View) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range Lines(v) {
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawString(line)
	}
	return img
}

// SSD1306 is a Panel on an I2C SSD1306.
type SSD1306 struct {
	bus  i2c.BusCloser
	dev  *ssd1306.Dev
	last View
	have bool
}

// OpenSSD1306 opens the panel at addr on the named I2C bus ("" for the
// first one).
func OpenSSD1306(busName string, addr uint16) (*SSD1306, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	dev, err := ssd1306.NewI2C(bus, addr, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", addr)
	return &SSD1306{bus: bus, dev: dev}, nil
}

// Show redraws the panel when v differs from what is on screen.
func (p *SSD1306) Show(v View) error {
	if p.have && p.last == v {
		return nil
	}
	img := Render(v)
	if err := p.dev.Draw(p.dev.Bounds(), img, image.Point{}); err != nil {
		return err
	}
	p.last, p.have = v, true
	return nil
}

func (p *SSD1306) Close() error {
	if err := p.dev.Halt(); err != nil {
		log.Printf("display: halt error: %v", err)
	}
	return p.bus.Close()
}
