// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config represents the hub configuration structure
type Config struct {
	Hub          HubConfig          `yaml:"hub"`
	Services     ServicesConfig     `yaml:"services"`
	Environments EnvironmentsConfig `yaml:"environments"`
	Scenario     ScenarioConfig     `yaml:"scenario"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// HubConfig contains hub identity and listener settings
type HubConfig struct {
	Name              string `yaml:"name"`
	Listen            string `yaml:"listen"`             // host:port to accept node connections on
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds between heartbeats (-1 disables)
}

// ServicesConfig locates the service catalog on disk
type ServicesConfig struct {
	Path string `yaml:"path"`
}

// EnvironmentsConfig locates the environment definitions on disk
type EnvironmentsConfig struct {
	Path string `yaml:"path"`
}

// ScenarioConfig contains experiment scenario settings
type ScenarioConfig struct {
	Autostart      bool `yaml:"autostart"`
	AutostartDelay int  `yaml:"autostart_delay"` // seconds to wait after startup
	Duration       int  `yaml:"duration"`        // seconds, 0 = unlimited
}

// LoggingConfig contains log level settings for the local and
// distributed loggers
type LoggingConfig struct {
	Level            string `yaml:"level"`
	DistributedLevel string `yaml:"distributed_level"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Hub.Name == "" {
		return fmt.Errorf("hub.name is required")
	}
	if c.Hub.Listen == "" {
		return fmt.Errorf("hub.listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Hub.Listen); err != nil {
		return fmt.Errorf("hub.listen is not a valid host:port address: %w", err)
	}
	if c.Hub.HeartbeatInterval == 0 || c.Hub.HeartbeatInterval < -1 {
		return fmt.Errorf("hub.heartbeat_interval must be a positive number of seconds, or -1 to disable")
	}

	if c.Services.Path == "" {
		return fmt.Errorf("services.path is required")
	}

	if c.Scenario.AutostartDelay < 0 {
		return fmt.Errorf("scenario.autostart_delay cannot be negative")
	}
	if c.Scenario.Duration < 0 {
		return fmt.Errorf("scenario.duration cannot be negative")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level is not a valid log level: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Logging.DistributedLevel); err != nil {
		return fmt.Errorf("logging.distributed_level is not a valid log level: %w", err)
	}

	return nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save(filepath string) error {
	return SaveConfig(c, filepath)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration template
func NewDefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Name:              "hub",
			Listen:            "0.0.0.0:32051",
			HeartbeatInterval: 10,
		},
		Services: ServicesConfig{
			Path: "services",
		},
		Environments: EnvironmentsConfig{
			Path: "environments",
		},
		Scenario: ScenarioConfig{
			Autostart:      false,
			AutostartDelay: 0,
			Duration:       0,
		},
		Logging: LoggingConfig{
			Level:            "info",
			DistributedLevel: "info",
		},
	}
}
