package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Config holds all device configuration values.
type Config struct {
	// Identity
	DeviceName string

	// Sensor
	IMUChip      string // "mpu9250" or "synthetic"
	IMUSPIDevice string
	IMUCSPin     string
	SampleRateHz int // 10..50
	WindowStride int // 25 or 50
	StartMode    string

	// Model storage
	ModelBackend string // "memory", "file" or "sqlite"
	ModelPath    string

	// MQTT
	MQTTEnabled     bool
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
	MQTTQoS         byte

	// Serial
	SerialEnabled  bool
	SerialPort     string
	SerialBaudRate int

	// Web Server
	WebEnabled    bool
	WebServerPort int

	// Display
	DisplayEnabled        bool
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// Timing
	InboxSize        int
	StatsLogInterval int // milliseconds, 0 disables
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		DeviceName:   "gesture-node",
		IMUChip:      "mpu9250",
		IMUSPIDevice: "/dev/spidev0.0",
		IMUCSPin:     "8",
		SampleRateHz: 25,
		WindowStride: 50,
		StartMode:    "collect",

		ModelBackend: "file",
		ModelPath:    "/var/lib/gesture_node/model.bin",

		MQTTEnabled:     true,
		MQTTBroker:      "tcp://localhost:1883",
		MQTTTopicPrefix: "gesture",
		MQTTQoS:         1,

		SerialBaudRate: 115200,

		WebServerPort: 8080,

		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 200,

		InboxSize:        512,
		StatsLogInterval: 10000,
	}
}

// Load reads a KEY=VALUE configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
			return nil, fmt.Errorf("config %s: %w", key, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key. Unknown keys are ignored.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "DEVICE_NAME":
		c.DeviceName = value

	// Sensor
	case "IMU_CHIP":
		c.IMUChip = strings.ToLower(value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "SAMPLE_RATE_HZ":
		c.SampleRateHz, err = strconv.Atoi(value)
	case "WINDOW_STRIDE":
		c.WindowStride, err = strconv.Atoi(value)
	case "START_MODE":
		c.StartMode = strings.ToLower(value)

	// Model storage
	case "MODEL_BACKEND":
		c.ModelBackend = strings.ToLower(value)
	case "MODEL_PATH":
		c.ModelPath = value

	// MQTT
	case "MQTT_ENABLED":
		c.MQTTEnabled, err = strconv.ParseBool(value)
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_USERNAME":
		c.MQTTUsername = value
	case "MQTT_PASSWORD":
		c.MQTTPassword = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = strings.Trim(value, "/")
	case "MQTT_QOS":
		var v uint64
		v, err = strconv.ParseUint(value, 10, 8)
		c.MQTTQoS = byte(v)

	// Serial
	case "SERIAL_ENABLED":
		c.SerialEnabled, err = strconv.ParseBool(value)
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = strconv.Atoi(value)

	// Web Server
	case "WEB_ENABLED":
		c.WebEnabled, err = strconv.ParseBool(value)
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = strconv.ParseBool(value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		var v uint64
		v, err = strconv.ParseUint(value, 0, 16)
		c.DisplayI2CAddr = uint16(v)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = strconv.Atoi(value)

	// Timing
	case "INBOX_SIZE":
		c.InboxSize, err = strconv.Atoi(value)
	case "STATS_LOG_INTERVAL":
		c.StatsLogInterval, err = strconv.Atoi(value)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	return nil
}

// validate checks ranges and that the enabled components are configured.
func (c *Config) validate() error {
	if c.DeviceName == "" || strings.ContainsAny(c.DeviceName, "/+#") {
		return fmt.Errorf("DEVICE_NAME must be set and contain no MQTT wildcards or '/'")
	}
	switch c.IMUChip {
	case "mpu9250":
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for IMU_CHIP=mpu9250")
		}
	case "synthetic":
	default:
		return fmt.Errorf("IMU_CHIP %q is not supported", c.IMUChip)
	}
	if c.SampleRateHz < 10 || c.SampleRateHz > 50 {
		return fmt.Errorf("SAMPLE_RATE_HZ must be 10-50, got %d", c.SampleRateHz)
	}
	if c.WindowStride != 25 && c.WindowStride != 50 {
		return fmt.Errorf("WINDOW_STRIDE must be 25 or 50, got %d", c.WindowStride)
	}
	if c.StartMode != "collect" && c.StartMode != "inference" {
		return fmt.Errorf("START_MODE must be collect or inference, got %q", c.StartMode)
	}
	switch c.ModelBackend {
	case "memory":
	case "file", "sqlite":
		if c.ModelPath == "" {
			return fmt.Errorf("MODEL_PATH is required for MODEL_BACKEND=%s", c.ModelBackend)
		}
	default:
		return fmt.Errorf("MODEL_BACKEND %q is not supported", c.ModelBackend)
	}
	if c.MQTTEnabled && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.MQTTQoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0-2, got %d", c.MQTTQoS)
	}
	if c.SerialEnabled && (c.SerialPort == "" || c.SerialBaudRate <= 0) {
		return fmt.Errorf("SERIAL_PORT and SERIAL_BAUD_RATE are required")
	}
	if c.WebEnabled && (c.WebServerPort <= 0 || c.WebServerPort > 65535) {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	if !c.MQTTEnabled && !c.SerialEnabled && !c.WebEnabled {
		return fmt.Errorf("at least one of MQTT_ENABLED, SERIAL_ENABLED, WEB_ENABLED is required")
	}
	if c.DisplayEnabled && c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
