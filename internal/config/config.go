// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override key,
// e.g. FISHCTL_ROS_ADDRESS.
const EnvPrefix = "FISHCTL_"

// Output message variants for the control topic.
const (
	OutTypeFloat32 = "float32"
	OutTypeString  = "string"
)

// IMU header stamp modes.
const (
	// StampLegacy takes seconds from the wall clock and nanoseconds from the
	// monotonic clock, as deployed controllers always have.
	StampLegacy = "legacy"
	// StampWall takes both fields from the wall clock.
	StampWall = "wall"
)

// Sensor backends.
const (
	BackendMock    = "mock"
	BackendIIO     = "iio"
	BackendMPU9250 = "mpu9250"
	BackendSerial  = "serial"
)

// Config holds all application configuration values.
type Config struct {
	ROS     ROSConfig     `yaml:"ros"`
	Timing  TimingConfig  `yaml:"timing"`
	Sensors SensorsConfig `yaml:"sensors"`
	Web     WebConfig     `yaml:"web"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Display DisplayConfig `yaml:"display"`
	Logging LoggingConfig `yaml:"logging"`
}

// ROSConfig describes the rosbridge server and the three fixed topics.
type ROSConfig struct {
	// Address is the WebSocket URL, used verbatim (e.g. ws://10.0.0.2:9090).
	Address     string `yaml:"address"`
	AutoConnect bool   `yaml:"auto_connect"`
	FrameID     string `yaml:"frame_id"`
	StampMode   string `yaml:"stamp_mode"`

	IMUTopic string `yaml:"imu_topic"`
	IMUType  string `yaml:"imu_type"`
	OutTopic string `yaml:"out_topic"`
	OutType  string `yaml:"out_type"` // "float32" or "string"
	InTopic  string `yaml:"in_topic"`
	InType   string `yaml:"in_type"`
}

// TimingConfig holds loop intervals in milliseconds.
type TimingConfig struct {
	PublishIntervalMS int `yaml:"publish_interval_ms"`
	GestureIntervalMS int `yaml:"gesture_interval_ms"`
}

// SensorsConfig selects and configures the sensor backend.
type SensorsConfig struct {
	Backend string `yaml:"backend"`
	RateHz  int    `yaml:"rate_hz"`

	IIO struct {
		Path string `yaml:"path"`
		Name string `yaml:"name"`
	} `yaml:"iio"`

	MPU9250 struct {
		SPIDevice string `yaml:"spi_device"`
		CSPin     string `yaml:"cs_pin"`
	} `yaml:"mpu9250"`

	Serial struct {
		Port     string `yaml:"port"`
		BaudRate int    `yaml:"baud_rate"`
	} `yaml:"serial"`
}

// WebConfig configures the local control API. Empty Addr disables it.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig configures the status mirror. Empty Broker disables it.
type MQTTConfig struct {
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	TopicPrefix      string `yaml:"topic_prefix"`
	StatusIntervalMS int    `yaml:"status_interval_ms"`
}

// DisplayConfig configures the SSD1306 status display.
type DisplayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	I2CBus     string `yaml:"i2c_bus"`
	I2CAddr    uint16 `yaml:"i2c_addr"`
	IntervalMS int    `yaml:"interval_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	cfg := &Config{
		ROS: ROSConfig{
			StampMode: StampLegacy,
			IMUTopic:  "/fish/ctrl/imu",
			IMUType:   "sensor_msgs/msg/Imu",
			OutTopic:  "/fish/ctrl/out",
			OutType:   OutTypeFloat32,
			InTopic:   "/fish/ctrl/in",
			InType:    "std_msgs/msg/String",
		},
		Timing: TimingConfig{
			PublishIntervalMS: 100,
			GestureIntervalMS: 10,
		},
		Sensors: SensorsConfig{
			Backend: BackendMock,
			RateHz:  50,
		},
		Web: WebConfig{Addr: ":8080"},
		MQTT: MQTTConfig{
			ClientID:         "fishing-controller",
			TopicPrefix:      "fish/controller",
			StatusIntervalMS: 500,
		},
		Display: DisplayConfig{
			I2CAddr:    0x3C,
			IntervalMS: 250,
		},
		Logging: LoggingConfig{Level: "info"},
	}
	cfg.Sensors.Serial.BaudRate = 115200
	cfg.Sensors.MPU9250.SPIDevice = "/dev/spidev0.0"
	cfg.Sensors.MPU9250.CSPin = "8"
	return cfg
}

// Load reads the YAML file at path on top of Default, applies FISHCTL_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeys lists every key accepted by setValue.
var envKeys = []string{
	"ROS_ADDRESS", "ROS_AUTO_CONNECT", "ROS_FRAME_ID", "ROS_STAMP_MODE", "ROS_OUT_TYPE",
	"PUBLISH_INTERVAL_MS", "GESTURE_INTERVAL_MS",
	"SENSOR_BACKEND", "SENSOR_RATE_HZ", "IIO_PATH", "IIO_NAME",
	"MPU9250_SPI_DEVICE", "MPU9250_CS_PIN", "SERIAL_PORT", "SERIAL_BAUD_RATE",
	"WEB_ADDR",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC_PREFIX", "MQTT_STATUS_INTERVAL_MS",
	"DISPLAY_ENABLED", "DISPLAY_I2C_BUS", "DISPLAY_I2C_ADDR", "DISPLAY_INTERVAL_MS",
	"LOG_LEVEL", "LOG_DIR",
}

// ApplyEnv applies FISHCTL_<KEY> overrides found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range envKeys {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		if err := c.setValue(key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
	}
	return nil
}

// Set applies a single KEY=VALUE override, using the same keys as the
// environment without the prefix.
func (c *Config) Set(key, value string) error {
	return c.setValue(strings.ToUpper(strings.TrimSpace(key)), strings.TrimSpace(value))
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// ROS
	case "ROS_ADDRESS":
		c.ROS.Address = value
	case "ROS_AUTO_CONNECT":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid ROS_AUTO_CONNECT %q: %w", value, err)
		}
		c.ROS.AutoConnect = b
	case "ROS_FRAME_ID":
		c.ROS.FrameID = value
	case "ROS_STAMP_MODE":
		c.ROS.StampMode = value
	case "ROS_OUT_TYPE":
		c.ROS.OutType = value

	// Timing
	case "PUBLISH_INTERVAL_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PUBLISH_INTERVAL_MS %q: %w", value, err)
		}
		c.Timing.PublishIntervalMS = v
	case "GESTURE_INTERVAL_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GESTURE_INTERVAL_MS %q: %w", value, err)
		}
		c.Timing.GestureIntervalMS = v

	// Sensors
	case "SENSOR_BACKEND":
		c.Sensors.Backend = value
	case "SENSOR_RATE_HZ":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_RATE_HZ %q: %w", value, err)
		}
		c.Sensors.RateHz = v
	case "IIO_PATH":
		c.Sensors.IIO.Path = value
	case "IIO_NAME":
		c.Sensors.IIO.Name = value
	case "MPU9250_SPI_DEVICE":
		c.Sensors.MPU9250.SPIDevice = value
	case "MPU9250_CS_PIN":
		c.Sensors.MPU9250.CSPin = value
	case "SERIAL_PORT":
		c.Sensors.Serial.Port = value
	case "SERIAL_BAUD_RATE":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.Sensors.Serial.BaudRate = v

	// Web
	case "WEB_ADDR":
		c.Web.Addr = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTT.Broker = value
	case "MQTT_CLIENT_ID":
		c.MQTT.ClientID = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTT.TopicPrefix = value
	case "MQTT_STATUS_INTERVAL_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MQTT_STATUS_INTERVAL_MS %q: %w", value, err)
		}
		c.MQTT.StatusIntervalMS = v

	// Display
	case "DISPLAY_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, err)
		}
		c.Display.Enabled = b
	case "DISPLAY_I2C_BUS":
		c.Display.I2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.Display.I2CAddr = uint16(addr)
	case "DISPLAY_INTERVAL_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_INTERVAL_MS %q: %w", value, err)
		}
		c.Display.IntervalMS = v

	// Logging
	case "LOG_LEVEL":
		c.Logging.Level = value
	case "LOG_DIR":
		c.Logging.Dir = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.ROS.IMUTopic == "" || c.ROS.OutTopic == "" || c.ROS.InTopic == "" {
		return fmt.Errorf("ros topics are required")
	}
	if c.ROS.IMUType == "" || c.ROS.InType == "" {
		return fmt.Errorf("ros.imu_type and ros.in_type are required")
	}
	switch c.ROS.OutType {
	case OutTypeFloat32, OutTypeString:
	default:
		return fmt.Errorf("ros.out_type must be %q or %q, got %q", OutTypeFloat32, OutTypeString, c.ROS.OutType)
	}
	switch c.ROS.StampMode {
	case StampLegacy, StampWall:
	default:
		return fmt.Errorf("ros.stamp_mode must be %q or %q, got %q", StampLegacy, StampWall, c.ROS.StampMode)
	}
	if c.ROS.AutoConnect && c.ROS.Address == "" {
		return fmt.Errorf("ros.address is required when ros.auto_connect is set")
	}
	if c.Timing.PublishIntervalMS <= 0 {
		return fmt.Errorf("timing.publish_interval_ms must be positive, got %d", c.Timing.PublishIntervalMS)
	}
	if c.Timing.GestureIntervalMS <= 0 {
		return fmt.Errorf("timing.gesture_interval_ms must be positive, got %d", c.Timing.GestureIntervalMS)
	}

	switch c.Sensors.Backend {
	case BackendMock, BackendIIO:
	case BackendMPU9250:
		if c.Sensors.MPU9250.SPIDevice == "" || c.Sensors.MPU9250.CSPin == "" {
			return fmt.Errorf("sensors.mpu9250.spi_device and cs_pin are required")
		}
	case BackendSerial:
		if c.Sensors.Serial.Port == "" {
			return fmt.Errorf("sensors.serial.port is required")
		}
		if c.Sensors.Serial.BaudRate <= 0 {
			return fmt.Errorf("sensors.serial.baud_rate must be positive, got %d", c.Sensors.Serial.BaudRate)
		}
	default:
		return fmt.Errorf("unknown sensors.backend %q", c.Sensors.Backend)
	}
	if c.Sensors.RateHz <= 0 {
		return fmt.Errorf("sensors.rate_hz must be positive, got %d", c.Sensors.RateHz)
	}

	if c.MQTT.Broker != "" && c.MQTT.StatusIntervalMS <= 0 {
		return fmt.Errorf("mqtt.status_interval_ms must be positive, got %d", c.MQTT.StatusIntervalMS)
	}
	if c.Display.Enabled && c.Display.IntervalMS <= 0 {
		return fmt.Errorf("display.interval_ms must be positive, got %d", c.Display.IntervalMS)
	}
	return nil
}

// OutMessageType is the ROS message type advertised on the control topic.
func (c *Config) OutMessageType() string {
	if c.ROS.OutType == OutTypeString {
		return "std_msgs/msg/String"
	}
	return "std_msgs/msg/Float32"
}

// PublishInterval is the IMU/control publish period.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Timing.PublishIntervalMS) * time.Millisecond
}

// GestureInterval is the gesture sampling period.
func (c *Config) GestureInterval() time.Duration {
	return time.Duration(c.Timing.GestureIntervalMS) * time.Millisecond
}

// SensorInterval is the nominal period between backend samples.
func (c *Config) SensorInterval() time.Duration {
	return time.Second / time.Duration(c.Sensors.RateHz)
}

// StatusInterval is the MQTT status publish period.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.MQTT.StatusIntervalMS) * time.Millisecond
}

// DisplayInterval is the display refresh period.
func (c *Config) DisplayInterval() time.Duration {
	return time.Duration(c.Display.IntervalMS) * time.Millisecond
}
