package link

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/gesture_node/internal/monitoring"
)

// MQTTConfig configures an MQTT link. The device publishes on
// <Prefix>/<Device>/<channel> and hosts write to the same topic with a
// /set suffix. With Host set the roles are swapped.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	Device   string
	QoS      byte
	Host     bool

	InboxSize      int
	PublishTimeout time.Duration
}

// writeChannels are the channels a host writes.
var writeChannels = []Channel{ChannelMode, ChannelConfig, ChannelUpload}

// readChannels are the channels a device publishes.
var readChannels = []Channel{ChannelMode, ChannelSensor, ChannelInference, ChannelDeviceInfo, ChannelConfig, ChannelStatus}

const setSuffix = "/set"

const defaultPublishTimeout = 250 * time.Millisecond

// Topic returns the topic the device publishes channel ch on.
func Topic(prefix, device string, ch Channel) string {
	return prefix + "/" + device + "/" + ch.String()
}

// SetTopic returns the topic a host writes channel ch to.
func SetTopic(prefix, device string, ch Channel) string {
	return Topic(prefix, device, ch) + setSuffix
}

// DefaultClientID returns a unique client id for role.
func DefaultClientID(role string) string {
	return role + "-" + uuid.NewString()[:8]
}

// MQTT is a Link over an MQTT broker. A device link polls host writes and
// notifies records; a host link does the opposite.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	in     *inbox

	mu     sync.Mutex
	closed bool
}

// DialMQTT connects to the broker and subscribes to the topics of the
// other side.
// Subscriptions are renewed on every reconnect.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.ClientID == "" {
		role := "gesture-node"
		if cfg.Host {
			role = "gesture-host"
		}
		cfg.ClientID = DefaultClientID(role)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	m := &MQTT{cfg: cfg, in: newInbox(cfg.InboxSize)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("link: MQTT connection lost: %v", err)
	})

	m.client = mqtt.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", cfg.Broker, token.Error())
	}
	monitoring.Logf("link: MQTT connected to %s as %s", cfg.Broker, cfg.ClientID)
	return m, nil
}

// subscriptions returns the topic filters this side listens on.
func (m *MQTT) subscriptions() map[string]byte {
	filters := make(map[string]byte)
	if m.cfg.Host {
		for _, ch := range readChannels {
			filters[Topic(m.cfg.Prefix, m.cfg.Device, ch)] = m.cfg.QoS
		}
		return filters
	}
	for _, ch := range writeChannels {
		filters[SetTopic(m.cfg.Prefix, m.cfg.Device, ch)] = m.cfg.QoS
	}
	return filters
}

func (m *MQTT) onConnect(c mqtt.Client) {
	filters := m.subscriptions()
	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		m.handle(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		monitoring.Logf("link: MQTT subscribe error: %v", token.Error())
		return
	}
	monitoring.Logf("link: MQTT subscribed to %d topics under %s/%s", len(filters), m.cfg.Prefix, m.cfg.Device)
}

// handle routes a received publish into the inbox.
func (m *MQTT) handle(topic string, payload []byte) {
	base := m.cfg.Prefix + "/" + m.cfg.Device + "/"
	if !strings.HasPrefix(topic, base) {
		return
	}
	name := strings.TrimPrefix(topic, base)
	if !m.cfg.Host {
		if !strings.HasSuffix(name, setSuffix) {
			return
		}
		name = strings.TrimSuffix(name, setSuffix)
	} else if strings.HasSuffix(name, setSuffix) {
		return
	}
	ch, ok := ParseChannel(name)
	if !ok {
		monitoring.Logf("link: MQTT message on unknown topic %s", topic)
		return
	}
	m.in.push(ch, payload)
}

func (m *MQTT) Poll() (Message, bool) { return m.in.poll() }

// Notify publishes payload. On a device link status, device info and config
// are retained so a host that subscribes late still sees the latest values.
// Host writes are never retained.
func (m *MQTT) Notify(ch Channel, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	topic := Topic(m.cfg.Prefix, m.cfg.Device, ch)
	retained := ch == ChannelStatus || ch == ChannelDeviceInfo || ch == ChannelConfig
	if m.cfg.Host {
		topic = SetTopic(m.cfg.Prefix, m.cfg.Device, ch)
		retained = false
	}
	token := m.client.Publish(topic, m.cfg.QoS, retained, payload)
	if !m.waitsFor(ch) {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				return fmt.Errorf("MQTT publish %s: %w", ch, err)
			}
		default:
		}
		return nil
	}
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		return fmt.Errorf("MQTT publish %s: timeout", ch)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish %s: %w", ch, err)
	}
	return nil
}

// waitsFor reports whether Notify blocks on the broker for ch. Sensor and
// inference records are superseded by the next one, so the device does not
// stall its loop on them.
func (m *MQTT) waitsFor(ch Channel) bool {
	if m.cfg.Host {
		return true
	}
	return ch != ChannelSensor && ch != ChannelInference
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.client.Disconnect(250)
	monitoring.Logf("link: MQTT disconnected")
	return nil
}
