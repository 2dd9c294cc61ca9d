// Package config loads and validates the ruckd configuration.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the ruckd configuration.
type Config struct {
	LogLevel string `json:"log_level"`

	// GPS validation
	AccuracyThresholdM  float64 `json:"accuracy_threshold_m"`
	MaxPlausibleSpeedMS float64 `json:"max_plausible_speed_ms"`
	WarmupDistanceM     float64 `json:"warmup_distance_m"`
	ElevationEMAAlpha   float64 `json:"elevation_ema_alpha"`
	OutlierDeviation    float64 `json:"outlier_deviation"`
	SpeedWindowSize     int     `json:"speed_window_size"`

	// Track aggregation
	ElevationNoiseFloorM float64 `json:"elevation_noise_floor_m"`
	PaceWindowS          int     `json:"pace_window_s"`

	// Calorie defaults
	ExpectedHRIntervalS int     `json:"expected_hr_interval_s"`
	HRWeightFloor       float64 `json:"hr_weight_floor"`
	HRWeightMax         float64 `json:"hr_weight_max"`
	TerrainMultiplier   float64 `json:"terrain_multiplier"`

	// Sensors
	SensorBufferSize int `json:"sensor_buffer_size"`

	// Resilience supervisor
	HeartbeatIntervalS int `json:"heartbeat_interval_s"`
	WakeLockDurationS  int `json:"wake_lock_duration_s"`

	// Persistence
	StatePath   string `json:"state_path"`
	ArchivePath string `json:"archive_path"`

	// Live publishing
	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTClientID    string `json:"mqtt_client_id"`
	MQTTUsername    string `json:"mqtt_username"`
	MQTTPassword    string `json:"mqtt_password"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
	MQTTQoS         int    `json:"mqtt_qos"`
	PublishIntervalS int   `json:"publish_interval_s"`

	// Metrics listener
	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		AccuracyThresholdM:  20.0,
		MaxPlausibleSpeedMS: 5.0,
		WarmupDistanceM:     50.0,
		ElevationEMAAlpha:   0.3,
		OutlierDeviation:    3.0,
		SpeedWindowSize:     10,

		ElevationNoiseFloorM: 1.0,
		PaceWindowS:          30,

		ExpectedHRIntervalS: 5,
		HRWeightFloor:       0.3,
		HRWeightMax:         0.9,
		TerrainMultiplier:   1.0,

		SensorBufferSize: 256,

		HeartbeatIntervalS: 900,
		WakeLockDurationS:  1800,

		StatePath:   "/var/lib/ruckd/state.db",
		ArchivePath: "/var/lib/ruckd/sessions.db",

		MQTTEnabled:      false,
		MQTTBroker:       "localhost",
		MQTTPort:         1883,
		MQTTClientID:     "ruckd",
		MQTTTopicPrefix:  "ruck",
		MQTTQoS:          1,
		PublishIntervalS: 5,

		MetricsListener: false,
		MetricsPort:     9321,
	}
}

// Load reads configuration from a "key = value" file, falling back to
// defaults for missing keys. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNo, line)
		}
		if err := cfg.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "log_level":
		c.LogLevel = value
	case "accuracy_threshold_m":
		return setFloat(&c.AccuracyThresholdM, value)
	case "max_plausible_speed_ms":
		return setFloat(&c.MaxPlausibleSpeedMS, value)
	case "warmup_distance_m":
		return setFloat(&c.WarmupDistanceM, value)
	case "elevation_ema_alpha":
		return setFloat(&c.ElevationEMAAlpha, value)
	case "outlier_deviation":
		return setFloat(&c.OutlierDeviation, value)
	case "speed_window_size":
		return setInt(&c.SpeedWindowSize, value)
	case "elevation_noise_floor_m":
		return setFloat(&c.ElevationNoiseFloorM, value)
	case "pace_window_s":
		return setInt(&c.PaceWindowS, value)
	case "expected_hr_interval_s":
		return setInt(&c.ExpectedHRIntervalS, value)
	case "hr_weight_floor":
		return setFloat(&c.HRWeightFloor, value)
	case "hr_weight_max":
		return setFloat(&c.HRWeightMax, value)
	case "terrain_multiplier":
		return setFloat(&c.TerrainMultiplier, value)
	case "sensor_buffer_size":
		return setInt(&c.SensorBufferSize, value)
	case "heartbeat_interval_s":
		return setInt(&c.HeartbeatIntervalS, value)
	case "wake_lock_duration_s":
		return setInt(&c.WakeLockDurationS, value)
	case "state_path":
		c.StatePath = value
	case "archive_path":
		c.ArchivePath = value
	case "mqtt_enabled":
		return setBool(&c.MQTTEnabled, value)
	case "mqtt_broker":
		c.MQTTBroker = value
	case "mqtt_port":
		return setInt(&c.MQTTPort, value)
	case "mqtt_client_id":
		c.MQTTClientID = value
	case "mqtt_username":
		c.MQTTUsername = value
	case "mqtt_password":
		c.MQTTPassword = value
	case "mqtt_topic_prefix":
		c.MQTTTopicPrefix = value
	case "mqtt_qos":
		return setInt(&c.MQTTQoS, value)
	case "publish_interval_s":
		return setInt(&c.PublishIntervalS, value)
	case "metrics_listener":
		return setBool(&c.MetricsListener, value)
	case "metrics_port":
		return setInt(&c.MetricsPort, value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// Validate checks configuration ranges.
func (c *Config) Validate() error {
	if c.AccuracyThresholdM <= 0 {
		return fmt.Errorf("accuracy_threshold_m must be positive")
	}
	if c.MaxPlausibleSpeedMS <= 0 {
		return fmt.Errorf("max_plausible_speed_ms must be positive")
	}
	if c.WarmupDistanceM < 0 {
		return fmt.Errorf("warmup_distance_m must not be negative")
	}
	if c.ElevationEMAAlpha <= 0 || c.ElevationEMAAlpha > 1 {
		return fmt.Errorf("elevation_ema_alpha must be in (0, 1]")
	}
	if c.SpeedWindowSize < 3 {
		return fmt.Errorf("speed_window_size must be at least 3")
	}
	if c.PaceWindowS <= 0 {
		return fmt.Errorf("pace_window_s must be positive")
	}
	if c.HRWeightFloor < 0 || c.HRWeightMax > 1 || c.HRWeightFloor > c.HRWeightMax {
		return fmt.Errorf("hr_weight_floor/hr_weight_max must satisfy 0 <= floor <= max <= 1")
	}
	if c.SensorBufferSize < 16 {
		return fmt.Errorf("sensor_buffer_size must be at least 16")
	}
	if c.HeartbeatIntervalS < 60 {
		return fmt.Errorf("heartbeat_interval_s must be at least 60")
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2")
	}
	return nil
}

func setFloat(dst *float64, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid float %q", value)
	}
	*dst = v
	return nil
}

func setInt(dst *int, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer %q", value)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, value string) error {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("invalid boolean %q", value)
	}
	return nil
}
