package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/quadrotor-fc/internal/control"
	"github.com/roman-kulish/quadrotor-fc/internal/drone"
	"github.com/roman-kulish/quadrotor-fc/internal/imu"
)

const (
	IMUTypeLSM6DS3TR = "lsm6ds3tr"
	IMUTypeMPU6050   = "mpu6050"
	IMUTypeSim       = "sim"

	BatterySourceIIO = "iio"
	BatterySourceSim = "sim"

	LinkTransportUDP    = "udp"
	LinkTransportSerial = "serial"

	MotorsTypePWM = "pwm"
	MotorsTypeLog = "log"
)

// Config represents the main application configuration
type Config struct {
	Settings    Settings          `yaml:"settings" json:"settings"`
	Airframe    string            `yaml:"airframe" json:"airframe"`
	Control     ControlConfig     `yaml:"control" json:"control"`
	Battery     BatteryConfig     `yaml:"battery" json:"battery"`
	Link        LinkConfig        `yaml:"link" json:"link"`
	IMU         IMUConfig         `yaml:"imu" json:"imu"`
	Rangefinder RangefinderConfig `yaml:"rangefinder" json:"rangefinder"`
	Motors      MotorsConfig      `yaml:"motors" json:"motors"`
	Indicators  IndicatorsConfig  `yaml:"indicators" json:"indicators"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Status      StatusConfig      `yaml:"status" json:"status"`
	MQTT        MQTTConfig        `yaml:"mqtt" json:"mqtt"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// ControlConfig represents the control loop tuning
type ControlConfig struct {
	Period            Duration      `yaml:"period" json:"period"`
	CalibrationWindow Duration      `yaml:"calibrationWindow" json:"calibrationWindow"`
	GyroThreshold     float64       `yaml:"gyroThreshold" json:"gyroThreshold"`   // deg/s
	AccelThreshold    float64       `yaml:"accelThreshold" json:"accelThreshold"` // g
	Pitch             control.Gains `yaml:"pitch" json:"pitch"`
	Roll              control.Gains `yaml:"roll" json:"roll"`
	Yaw               control.Gains `yaml:"yaw" json:"yaw"`
	MinThrust         float64       `yaml:"minThrust" json:"minThrust"` // percent
	FloorDuty         float64       `yaml:"floorDuty" json:"floorDuty"` // percent
	Landing           LandingConfig `yaml:"landing" json:"landing"`
}

// LandingConfig represents the landing descent
type LandingConfig struct {
	RampPerSecond   float64 `yaml:"rampPerSecond" json:"rampPerSecond"`     // thrust units per second
	TouchdownHeight float64 `yaml:"touchdownHeight" json:"touchdownHeight"` // cm
}

// BatteryConfig represents battery monitoring settings
type BatteryConfig struct {
	Source             string  `yaml:"source" json:"source"`
	Path               string  `yaml:"path" json:"path"`
	Divider            float64 `yaml:"divider" json:"divider"`
	LowMillivolts      int     `yaml:"lowMillivolts" json:"lowMillivolts"`
	CriticalMillivolts int     `yaml:"criticalMillivolts" json:"criticalMillivolts"`
	Every              int     `yaml:"every" json:"every"` // ticks between reads
	SimMillivolts      int     `yaml:"simMillivolts" json:"simMillivolts"`
}

// LinkConfig represents the ground station link
type LinkConfig struct {
	Transport      string   `yaml:"transport" json:"transport"`
	Address        string   `yaml:"address" json:"address"`
	Device         string   `yaml:"device" json:"device"`
	BaudRate       int      `yaml:"baudRate" json:"baudRate"`
	Timeout        Duration `yaml:"timeout" json:"timeout"`
	TxQueueSize    uint64   `yaml:"txQueueSize" json:"txQueueSize"`
	TelemetryEvery int      `yaml:"telemetryEvery" json:"telemetryEvery"` // ticks between telemetry packets
}

// IMUConfig represents the inertial sensor
type IMUConfig struct {
	Type    string            `yaml:"type" json:"type"`
	Bus     string            `yaml:"bus" json:"bus"`
	MPU6050 imu.MPU6050Config `yaml:"mpu6050" json:"mpu6050"`
}

// RangefinderConfig represents the downward distance sensor
type RangefinderConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Device  string   `yaml:"device" json:"device"`
	MaxAge  Duration `yaml:"maxAge" json:"maxAge"`
}

// MotorsConfig represents the motor outputs
type MotorsConfig struct {
	Type     string `yaml:"type" json:"type"`
	Chip     string `yaml:"chip" json:"chip"`
	Channels [4]int `yaml:"channels" json:"channels"`
	Period   int    `yaml:"period" json:"period"` // ns
}

// IndicatorsConfig represents the status LEDs. Empty paths leave the LED
// unconnected.
type IndicatorsConfig struct {
	Status        string   `yaml:"status" json:"status"`
	Link          string   `yaml:"link" json:"link"`
	Battery       string   `yaml:"battery" json:"battery"`
	BlinkInterval Duration `yaml:"blinkInterval" json:"blinkInterval"`
}

// StorageConfig represents flight recording settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory"`
	MaxBatchSize  int    `yaml:"maxBatchSize" json:"maxBatchSize"`
	Every         int    `yaml:"every" json:"every"` // keep one snapshot in N
}

// StatusConfig represents the HTTP status server
type StatusConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Listen         string   `yaml:"listen" json:"listen"`
	StreamInterval Duration `yaml:"streamInterval" json:"streamInterval"`
}

// MQTTConfig represents the MQTT bridge
type MQTTConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	Broker          string   `yaml:"broker" json:"broker"`
	ClientID        string   `yaml:"clientId" json:"clientId"`
	Username        string   `yaml:"username" json:"username"`
	Password        string   `yaml:"password" json:"-"`
	TopicPrefix     string   `yaml:"topicPrefix" json:"topicPrefix"`
	PublishInterval Duration `yaml:"publishInterval" json:"publishInterval"`
	QoS             byte     `yaml:"qos" json:"qos"`
}

// DefaultConfig returns a configuration that flies the simulated sensors and
// logs motor output.
func DefaultConfig() *Config {
	d := drone.DefaultConfig()
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Airframe: "quadrotor",
		Control: ControlConfig{
			Period:            Duration(d.Period),
			CalibrationWindow: Duration(d.CalibrationWindow),
			GyroThreshold:     d.GyroThreshold,
			AccelThreshold:    d.AccelThreshold,
			Pitch:             d.Pitch,
			Roll:              d.Roll,
			Yaw:               d.Yaw,
			MinThrust:         d.MinThrust,
			FloorDuty:         d.FloorDuty,
			Landing: LandingConfig{
				RampPerSecond:   d.LandingRampPerSecond,
				TouchdownHeight: d.TouchdownHeight,
			},
		},
		Battery: BatteryConfig{
			Source:             BatterySourceSim,
			Divider:            2,
			LowMillivolts:      d.LowBatteryMillivolts,
			CriticalMillivolts: d.CriticalBatteryMillivolts,
			Every:              d.BatteryEvery,
			SimMillivolts:      4000,
		},
		Link: LinkConfig{
			Transport:      LinkTransportUDP,
			Address:        ":2390",
			BaudRate:       57600,
			Timeout:        Duration(500 * time.Millisecond),
			TxQueueSize:    8,
			TelemetryEvery: d.TelemetryEvery,
		},
		IMU: IMUConfig{
			Type: IMUTypeSim,
			Bus:  "/dev/i2c-1",
			MPU6050: imu.MPU6050Config{
				Address:       imu.DefaultMPU6050Address,
				LowPassFilter: 3,
			},
		},
		Rangefinder: RangefinderConfig{
			MaxAge: Duration(100 * time.Millisecond),
		},
		Motors: MotorsConfig{
			Type:     MotorsTypeLog,
			Chip:     "/sys/class/pwm/pwmchip0",
			Channels: [4]int{0, 1, 2, 3},
		},
		Indicators: IndicatorsConfig{
			BlinkInterval: Duration(500 * time.Millisecond),
		},
		Storage: StorageConfig{
			DataDirectory: "data",
			MaxBatchSize:  100,
			Every:         10,
		},
		Status: StatusConfig{
			Listen:         ":8080",
			StreamInterval: Duration(100 * time.Millisecond),
		},
		MQTT: MQTTConfig{
			ClientID:        "flightctl",
			TopicPrefix:     "quadrotor",
			PublishInterval: Duration(time.Second),
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	config := DefaultConfig()
	if err = yaml.NewDecoder(f).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return config, nil
}

// Drone maps the control, battery and link sections onto the lifecycle
// configuration.
func (c *Config) Drone() drone.Config {
	return drone.Config{
		Period:                    time.Duration(c.Control.Period),
		CalibrationWindow:         time.Duration(c.Control.CalibrationWindow),
		GyroThreshold:             c.Control.GyroThreshold,
		AccelThreshold:            c.Control.AccelThreshold,
		Pitch:                     c.Control.Pitch,
		Roll:                      c.Control.Roll,
		Yaw:                       c.Control.Yaw,
		MinThrust:                 c.Control.MinThrust,
		FloorDuty:                 c.Control.FloorDuty,
		LowBatteryMillivolts:      c.Battery.LowMillivolts,
		CriticalBatteryMillivolts: c.Battery.CriticalMillivolts,
		BatteryEvery:              c.Battery.Every,
		TelemetryEvery:            c.Link.TelemetryEvery,
		LandingRampPerSecond:      c.Control.Landing.RampPerSecond,
		TouchdownHeight:           c.Control.Landing.TouchdownHeight,
	}
}

func (c *Config) Validate() error {
	validators := []struct {
		section string
		fn      func() error
	}{
		{section: "settings", fn: c.Settings.Validate},
		{section: "control", fn: func() error { return c.Drone().Validate() }},
		{section: "battery", fn: c.Battery.Validate},
		{section: "link", fn: c.Link.Validate},
		{section: "imu", fn: c.IMU.Validate},
		{section: "rangefinder", fn: c.Rangefinder.Validate},
		{section: "motors", fn: c.Motors.Validate},
		{section: "indicators", fn: c.Indicators.Validate},
		{section: "storage", fn: c.Storage.Validate},
		{section: "status", fn: c.Status.Validate},
		{section: "mqtt", fn: c.MQTT.Validate},
	}

	var errs []error
	for _, v := range validators {
		if err := v.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.section, err))
		}
	}
	if c.Airframe == "" {
		errs = append(errs, errors.New("airframe must not be empty"))
	}
	return errors.Join(errs...)
}

func (s *Settings) Validate() error {
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level '%s'", s.LogLevel)
	}
}

func (b *BatteryConfig) Validate() error {
	switch b.Source {
	case BatterySourceIIO:
		if b.Path == "" {
			return errors.New("iio source requires a path")
		}
		if b.Divider <= 0 {
			return fmt.Errorf("divider must be positive: %v given", b.Divider)
		}
	case BatterySourceSim:
	default:
		return fmt.Errorf("unknown source '%s'", b.Source)
	}
	return nil
}

func (l *LinkConfig) Validate() error {
	switch l.Transport {
	case LinkTransportUDP:
		if l.Address == "" {
			return errors.New("udp transport requires an address")
		}
	case LinkTransportSerial:
		if l.Device == "" {
			return errors.New("serial transport requires a device")
		}
		if l.BaudRate <= 0 {
			return fmt.Errorf("baud rate must be positive: %d given", l.BaudRate)
		}
	default:
		return fmt.Errorf("unknown transport '%s'", l.Transport)
	}
	if l.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if l.TxQueueSize == 0 {
		return errors.New("tx queue size must be positive")
	}
	return nil
}

func (i *IMUConfig) Validate() error {
	switch i.Type {
	case IMUTypeLSM6DS3TR, IMUTypeMPU6050:
		if i.Bus == "" {
			return fmt.Errorf("%s requires an i2c bus", i.Type)
		}
	case IMUTypeSim:
	default:
		return fmt.Errorf("unknown type '%s'", i.Type)
	}
	return nil
}

func (r *RangefinderConfig) Validate() error {
	if r.Enabled && r.Device == "" {
		return errors.New("enabled rangefinder requires a device")
	}
	if r.MaxAge < 0 {
		return errors.New("max age must not be negative")
	}
	return nil
}

func (m *MotorsConfig) Validate() error {
	switch m.Type {
	case MotorsTypePWM:
		if m.Chip == "" {
			return errors.New("pwm motors require a chip")
		}
		if m.Period < 0 {
			return fmt.Errorf("period must not be negative: %d given", m.Period)
		}
	case MotorsTypeLog:
	default:
		return fmt.Errorf("unknown type '%s'", m.Type)
	}
	return nil
}

func (i *IndicatorsConfig) Validate() error {
	if i.BlinkInterval <= 0 {
		return errors.New("blink interval must be positive")
	}
	return nil
}

func (s *StorageConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive: %d given", s.MaxBatchSize)
	}
	if s.Every < 1 {
		return fmt.Errorf("every must be at least 1: %d given", s.Every)
	}
	return nil
}

func (s *StatusConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if s.StreamInterval <= 0 {
		return errors.New("stream interval must be positive")
	}
	return nil
}

func (m *MQTTConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return errors.New("broker must not be empty")
	}
	if m.TopicPrefix == "" {
		return errors.New("topic prefix must not be empty")
	}
	if m.PublishInterval <= 0 {
		return errors.New("publish interval must be positive")
	}
	if m.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2: %d given", m.QoS)
	}
	return nil
}

// Duration is a time.Duration written as "5ms" or "10s" in YAML and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
