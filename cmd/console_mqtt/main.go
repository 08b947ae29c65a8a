package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/relabs-tech/gesture_node/internal/app"
	"github.com/relabs-tech/gesture_node/internal/config"
)

func main() {
	configPath := flag.String("config", "./gesture_config.txt", "path to configuration file")
	labels := flag.String("labels", "", "comma separated class labels for inference records")
	flag.Parse()

	log.Println("starting gesture console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var names []string
	if *labels != "" {
		names = strings.Split(*labels, ",")
	}
	if err := app.RunConsoleMQTT(config.Get(), os.Stdout, names); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
