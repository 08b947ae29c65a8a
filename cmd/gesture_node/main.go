// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/gesture_node/internal/app"
	"github.com/relabs-tech/gesture_node/internal/config"
)

func main() {
	configPath := flag.String("config", "./gesture_config.txt", "path to configuration file")
	clearModel := flag.Bool("clear-model", false, "erase the stored model before starting")
	flag.Parse()

	log.Println("starting gesture node (IMU -> classifier -> MQTT/serial/web)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunNode(config.Get(), app.NodeOptions{ClearModel: *clearModel}); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
