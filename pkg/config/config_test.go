package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ruckd.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultConfig()
	if cfg.AccuracyThresholdM != def.AccuracyThresholdM || cfg.HeartbeatIntervalS != def.HeartbeatIntervalS {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadOverridesAndComments(t *testing.T) {
	path := writeConfig(t, `
# validation
accuracy_threshold_m = 12.5
max_plausible_speed_ms = 4.2

log_level = debug
mqtt_enabled = true
mqtt_broker = broker.local
heartbeat_interval_s = 600
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccuracyThresholdM != 12.5 {
		t.Errorf("accuracy = %f, want 12.5", cfg.AccuracyThresholdM)
	}
	if cfg.MaxPlausibleSpeedMS != 4.2 {
		t.Errorf("max speed = %f, want 4.2", cfg.MaxPlausibleSpeedMS)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if !cfg.MQTTEnabled || cfg.MQTTBroker != "broker.local" {
		t.Errorf("mqtt settings not applied: %+v", cfg)
	}
	if cfg.HeartbeatIntervalS != 600 {
		t.Errorf("heartbeat = %d, want 600", cfg.HeartbeatIntervalS)
	}
	// Untouched keys keep defaults.
	if cfg.WarmupDistanceM != DefaultConfig().WarmupDistanceM {
		t.Errorf("warmup = %f, want default", cfg.WarmupDistanceM)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "no_such_key = 1\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeConfig(t, "accuracy_threshold_m 20\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a line without '='")
	}
}

func TestLoadRejectsBadValue(t *testing.T) {
	path := writeConfig(t, "accuracy_threshold_m = twenty\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a non-numeric value")
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero accuracy threshold", func(c *Config) { c.AccuracyThresholdM = 0 }},
		{"negative max speed", func(c *Config) { c.MaxPlausibleSpeedMS = -1 }},
		{"alpha above one", func(c *Config) { c.ElevationEMAAlpha = 1.5 }},
		{"tiny speed window", func(c *Config) { c.SpeedWindowSize = 1 }},
		{"hr weight floor above max", func(c *Config) { c.HRWeightFloor = 0.95 }},
		{"heartbeat too short", func(c *Config) { c.HeartbeatIntervalS = 5 }},
		{"invalid qos", func(c *Config) { c.MQTTQoS = 7 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
