package hub

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")

	cfg := NewDefaultConfig()
	cfg.Hub.Name = "lab-hub"
	cfg.Hub.Listen = "127.0.0.1:40000"
	cfg.Hub.HeartbeatInterval = -1
	cfg.Scenario.Autostart = true
	cfg.Scenario.AutostartDelay = 5
	cfg.Scenario.Duration = 120
	cfg.Logging.DistributedLevel = "warn"

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\nsaved:  %+v\nloaded: %+v", cfg, loaded)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
		if err == nil {
			t.Fatal("expected an error for a missing file")
		}
	})

	t.Run("Garbled", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hub.yml")
		if err := os.WriteFile(path, []byte("hub: [not: closed"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := LoadConfig(path)
		if err == nil || !strings.Contains(err.Error(), "failed to parse") {
			t.Fatalf("expected a parse error, got %v", err)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "hub.yml")
		if err := os.WriteFile(path, []byte("hub:\n  name: x\n"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := LoadConfig(path)
		if err == nil || !strings.Contains(err.Error(), "validation failed") {
			t.Fatalf("expected a validation error, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"MissingName", func(c *Config) { c.Hub.Name = "" }, "hub.name is required"},
		{"MissingListen", func(c *Config) { c.Hub.Listen = "" }, "hub.listen is required"},
		{"BadListen", func(c *Config) { c.Hub.Listen = "localhost" }, "host:port"},
		{"ZeroHeartbeat", func(c *Config) { c.Hub.HeartbeatInterval = 0 }, "heartbeat_interval"},
		{"NegativeHeartbeat", func(c *Config) { c.Hub.HeartbeatInterval = -5 }, "heartbeat_interval"},
		{"MissingServicesPath", func(c *Config) { c.Services.Path = "" }, "services.path is required"},
		{"NegativeDelay", func(c *Config) { c.Scenario.AutostartDelay = -1 }, "autostart_delay"},
		{"NegativeDuration", func(c *Config) { c.Scenario.Duration = -1 }, "duration"},
		{"BadLevel", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"BadDistLevel", func(c *Config) { c.Logging.DistributedLevel = "loud" }, "logging.distributed_level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("DisabledHeartbeat", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Hub.HeartbeatInterval = -1
		if err := cfg.Validate(); err != nil {
			t.Errorf("-1 disables heartbeats and must validate: %v", err)
		}
	})
}
