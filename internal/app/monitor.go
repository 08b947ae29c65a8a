package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/gesture_node/internal/config"
	"github.com/relabs-tech/gesture_node/internal/link"
	"github.com/relabs-tech/gesture_node/internal/protocol"
	"github.com/relabs-tech/gesture_node/internal/store"
)

const monitorPoll = 5 * time.Millisecond

// Describe renders one device record as a console line. labels names the
// classes of inference records and may be nil.
func Describe(msg link.Message, labels []string) string {
	switch msg.Channel {
	case link.ChannelSensor:
		s, err := protocol.DecodeSensorPacket(msg.Payload)
		if err != nil {
			return fmt.Sprintf("[SENSOR] bad packet: %v", err)
		}
		return fmt.Sprintf("[SENSOR] seq=%5d t=%5dms  ax=%6d ay=%6d az=%6d  gx=%6d gy=%6d gz=%6d",
			s.Sequence, s.Timestamp, s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz)

	case link.ChannelInference:
		r, err := protocol.DecodeInference(msg.Payload)
		if err != nil {
			return fmt.Sprintf("[INFER ] bad record: %v", err)
		}
		label := fmt.Sprintf("class %d", r.Class)
		if int(r.Class) < len(labels) && labels[r.Class] != "" {
			label = labels[r.Class]
		}
		// the wire carries whole percent
		return fmt.Sprintf("[INFER ] %-16s %3d%%", label, msg.Payload[1])

	case link.ChannelStatus:
		s, err := protocol.DecodeStatus(msg.Payload)
		if err != nil {
			return fmt.Sprintf("[STATUS] bad record: %v", err)
		}
		return fmt.Sprintf("[STATUS] state=%s progress=%3d%% code=%s", store.State(s.State), s.Progress, s.Code)

	case link.ChannelDeviceInfo:
		d, err := protocol.DecodeDeviceInfo(msg.Payload)
		if err != nil {
			return fmt.Sprintf("[INFO  ] bad record: %v", err)
		}
		battery := "usb"
		if d.Battery != batteryUSB {
			battery = fmt.Sprintf("%d%%", d.Battery)
		}
		return fmt.Sprintf("[INFO  ] fw=%d.%d chip=%d battery=%s window=%d rate=%dHz uptime=%ds samples=%d inferences=%d model=%t size=%d",
			d.VersionMajor, d.VersionMinor, d.ChipType, battery, d.WindowSize, d.SampleRateHz,
			d.UptimeSeconds, d.TotalSamples, d.InferenceCount, d.HasModel, d.ModelSize)

	case link.ChannelConfig:
		c, err := protocol.DecodeConfig(msg.Payload)
		if err != nil {
			return fmt.Sprintf("[CONFIG] bad record: %v", err)
		}
		return fmt.Sprintf("[CONFIG] rate=%dHz window=%d", c.SampleRateHz, c.WindowSize)

	case link.ChannelMode:
		m, err := protocol.ParseMode(msg.Payload)
		if err != nil {
			return fmt.Sprintf("[MODE  ] bad record: %v", err)
		}
		return fmt.Sprintf("[MODE  ] %s", m)

	default:
		return fmt.Sprintf("[%s] %d bytes", msg.Channel, len(msg.Payload))
	}
}

// Monitor prints every record received on l to w until ctx is done.
func Monitor(ctx context.Context, l link.Link, w io.Writer, labels []string) error {
	for {
		msg, ok := l.Poll()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(monitorPoll):
			}
			continue
		}
		if _, err := fmt.Fprintln(w, Describe(msg, labels)); err != nil {
			return err
		}
	}
}

// DialHost opens a host side MQTT link to the configured device.
func DialHost(cfg *config.Config, role string) (*link.MQTT, error) {
	return link.DialMQTT(link.MQTTConfig{
		Broker:    cfg.MQTTBroker,
		ClientID:  link.DefaultClientID(role),
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		Prefix:    cfg.MQTTTopicPrefix,
		Device:    cfg.DeviceName,
		QoS:       cfg.MQTTQoS,
		Host:      true,
		InboxSize: cfg.InboxSize,
	})
}

// RunConsoleMQTT subscribes to the device topics and prints decoded records
// until Ctrl+C.
func RunConsoleMQTT(cfg *config.Config, w io.Writer, labels []string) error {
	h, err := DialHost(cfg, "gesture-console")
	if err != nil {
		return err
	}
	defer h.Close()
	log.Printf("console: watching %s/%s on %s", cfg.MQTTTopicPrefix, cfg.DeviceName, cfg.MQTTBroker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = Monitor(ctx, h, w, labels)
	log.Println("console: shutting down")
	return err
}
