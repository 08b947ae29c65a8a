package app

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/gesture_node/internal/config"
	"github.com/relabs-tech/gesture_node/internal/display"
	"github.com/relabs-tech/gesture_node/internal/imu"
	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/protocol"
	"github.com/relabs-tech/gesture_node/internal/sensors"
	"github.com/relabs-tech/gesture_node/internal/store"
)

// NodeOptions are the command line switches of the node binary.
type NodeOptions struct {
	// ClearModel erases the persisted model before the loop starts.
	ClearModel bool
}

// RunNode brings up the device described by cfg and runs it until SIGINT
// or SIGTERM.
func RunNode(cfg *config.Config, opts NodeOptions) error {
	log.Printf("starting gesture node %q (%s, %d Hz)", cfg.DeviceName, cfg.IMUChip, cfg.SampleRateHz)

	reader, err := openReader(cfg)
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	l, ws, err := openLinks(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	var panel display.Panel
	if cfg.DisplayEnabled {
		p, err := display.OpenSSD1306(cfg.DisplayI2CBus, cfg.DisplayI2CAddr)
		if err != nil {
			// the panel is optional; keep running without it
			log.Printf("display unavailable: %v", err)
		} else {
			panel = p
			defer p.Close()
		}
	}

	mode, err := protocol.ParseModeName(cfg.StartMode)
	if err != nil {
		return err
	}

	dev, err := New(Options{
		Name:            cfg.DeviceName,
		Reader:          reader,
		Link:            l,
		Store:           store.New(backend),
		SampleRateHz:    cfg.SampleRateHz,
		WindowStride:    cfg.WindowStride,
		Mode:            mode,
		Panel:           panel,
		DisplayInterval: time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond,
		StatsInterval:   time.Duration(cfg.StatsLogInterval) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	if ws != nil {
		ws.SetStatusFunc(func() any { return dev.Snapshot() })
	}

	if err := dev.Start(); err != nil {
		return err
	}
	if opts.ClearModel {
		if err := dev.ClearModel(); err != nil {
			return fmt.Errorf("clear model: %w", err)
		}
		log.Println("stored model cleared")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = dev.Run(ctx)
	s := dev.Stats()
	log.Printf("gesture node stopped after %ds, %d samples, %d inferences", s.UptimeSeconds, s.TotalSamples, s.InferenceCount)
	return err
}

func openReader(cfg *config.Config) (imu.Reader, error) {
	switch cfg.IMUChip {
	case "mpu9250":
		return sensors.NewMPU9250(cfg.IMUSPIDevice, cfg.IMUCSPin), nil
	case "synthetic":
		return sensors.NewSynthetic(cfg.SampleRateHz), nil
	default:
		return nil, fmt.Errorf("unsupported IMU chip %q", cfg.IMUChip)
	}
}

func openBackend(cfg *config.Config) (store.Backend, error) {
	var b store.Backend
	switch cfg.ModelBackend {
	case "memory":
		b = store.NewMemoryBackend()
	case "file":
		b = store.NewFileBackend(cfg.ModelPath)
	case "sqlite":
		b = store.NewSQLiteBackend(cfg.ModelPath)
	default:
		return nil, fmt.Errorf("unsupported model backend %q", cfg.ModelBackend)
	}
	if err := b.Init(); err != nil {
		return nil, fmt.Errorf("model backend %s: %w", cfg.ModelBackend, err)
	}
	return b, nil
}

// openLinks opens every enabled transport. The web link is returned
// separately so its status endpoint can be bound to the device.
func openLinks(cfg *config.Config) (link.Link, *link.WebSocket, error) {
	var (
		links []link.Link
		ws    *link.WebSocket
	)
	fail := func(err error) (link.Link, *link.WebSocket, error) {
		for _, l := range links {
			l.Close()
		}
		return nil, nil, err
	}

	if cfg.MQTTEnabled {
		m, err := link.DialMQTT(link.MQTTConfig{
			Broker:    cfg.MQTTBroker,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Prefix:    cfg.MQTTTopicPrefix,
			Device:    cfg.DeviceName,
			QoS:       cfg.MQTTQoS,
			InboxSize: cfg.InboxSize,
		})
		if err != nil {
			return fail(err)
		}
		links = append(links, m)
	}
	if cfg.SerialEnabled {
		s, err := link.OpenSerial(link.SerialConfig{
			Port:      cfg.SerialPort,
			BaudRate:  uint(cfg.SerialBaudRate),
			InboxSize: cfg.InboxSize,
		})
		if err != nil {
			return fail(err)
		}
		links = append(links, s)
	}
	if cfg.WebEnabled {
		ws = link.NewWebSocket(cfg.InboxSize)
		ws.Serve(fmt.Sprintf(":%d", cfg.WebServerPort))
		links = append(links, ws)
	}
	if len(links) == 0 {
		return nil, nil, fmt.Errorf("no transport enabled")
	}
	return link.Join(links...), ws, nil
}
