// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/gesture_node/internal/app"
	"github.com/relabs-tech/gesture_node/internal/protocol"
)

func main() {
	modeName := flag.String("mode", "inference", "start mode: collect or inference")
	flag.Parse()

	log.Println("starting gesture node (mock console, synthetic IMU)")

	mode, err := protocol.ParseModeName(*modeName)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunMockConsole(ctx, os.Stdout, mode); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
