// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/protocol"
	"github.com/relabs-tech/gesture_node/internal/sensors"
	"github.com/relabs-tech/gesture_node/internal/store"
)

// RunMockConsole runs a device on synthetic motion with an in-memory link
// and prints everything it publishes until ctx is done.
func RunMockConsole(ctx context.Context, w io.Writer, mode protocol.Mode) error {
	pipe := link.NewPipe()
	dev, err := New(Options{
		Name:   "mock-node",
		Reader: sensors.NewSynthetic(protocol.DefaultSampleRateHz),
		Link:   pipe,
		Store:  store.New(nil),
		Mode:   mode,
	})
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			printAll(w, pipe.Drain())
			return err
		case <-ticker.C:
			printAll(w, pipe.Drain())
		}
	}
}

func printAll(w io.Writer, msgs []link.Message) {
	for _, m := range msgs {
		fmt.Fprintln(w, Describe(m, nil))
	}
}
