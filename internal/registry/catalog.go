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

package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// moduleFileName is the descriptor every service module directory must carry.
const moduleFileName = "module.yml"

// DirCatalog discovers service modules and environments from directories on
// disk.  It also serves as the registry's lazy ConfigSource.
type DirCatalog struct {
	servicesPath string
	envsPath     string
}

// NewDirCatalog creates a catalog rooted at the given paths.  envsPath may be
// empty if no environments are deployed.
func NewDirCatalog(servicesPath, envsPath string) *DirCatalog {
	return &DirCatalog{
		servicesPath: servicesPath,
		envsPath:     envsPath,
	}
}

type moduleFile struct {
	DisplayName string   `yaml:"display_name"`
	Classes     []string `yaml:"classes"`
}

type configFile struct {
	Class       string   `yaml:"class"`
	SendTo      []string `yaml:"send_to"`
	ReceiveFrom []string `yaml:"receive_from"`
}

type envFile struct {
	Keys []string `yaml:"keys"`
}

// Discover scans the services path for module directories.  Directories that
// are not well-formed modules are skipped with a warning, never a failure.
func (c *DirCatalog) Discover(log zerolog.Logger) ([]ModuleSpec, error) {
	entries, err := os.ReadDir(c.servicesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read services path: %w", err)
	}

	var specs []ModuleSpec
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		name := entry.Name()
		data, err := os.ReadFile(filepath.Join(c.servicesPath, name, moduleFileName))
		if err != nil {
			log.Warn().
				Str("service", name).
				Err(err).
				Msg("Service directory has no readable module descriptor, skipping")
			continue
		}

		var mf moduleFile
		if err := yaml.Unmarshal(data, &mf); err != nil {
			log.Warn().
				Str("service", name).
				Err(err).
				Msg("Service module descriptor cannot be parsed, skipping")
			continue
		}

		if len(mf.Classes) == 0 {
			log.Warn().
				Str("service", name).
				Msg("Service module descriptor declares no classes, skipping")
			continue
		}

		displayName := mf.DisplayName
		if displayName == "" {
			displayName = name
		}

		specs = append(specs, ModuleSpec{
			Name:        name,
			DisplayName: displayName,
			Classes:     mf.Classes,
		})
	}

	return specs, nil
}

// LoadConfig reads and parses one service configuration file.  A filename
// without an extension resolves to "<filename>.yml".
func (c *DirCatalog) LoadConfig(module, filename string) (*ConfigSpec, error) {
	resolved := filename
	if filepath.Ext(resolved) == "" {
		resolved += ".yml"
	}

	data, err := os.ReadFile(filepath.Join(c.servicesPath, module, resolved))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cf.Class == "" {
		return nil, fmt.Errorf("config %q does not name a service class", filename)
	}

	return &ConfigSpec{
		Class:       cf.Class,
		SendTo:      cf.SendTo,
		ReceiveFrom: cf.ReceiveFrom,
	}, nil
}

// DiscoverEnvironments scans the environments path for *.yml descriptors.  An
// unset or missing path yields no environments.
func (c *DirCatalog) DiscoverEnvironments(log zerolog.Logger) ([]EnvSpec, error) {
	if c.envsPath == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(c.envsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read environments path: %w", err)
	}

	var specs []EnvSpec
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".yml")
		data, err := os.ReadFile(filepath.Join(c.envsPath, entry.Name()))
		if err != nil {
			log.Warn().
				Str("environment", name).
				Err(err).
				Msg("Environment descriptor cannot be read, skipping")
			continue
		}

		var ef envFile
		if err := yaml.Unmarshal(data, &ef); err != nil {
			log.Warn().
				Str("environment", name).
				Err(err).
				Msg("Environment descriptor cannot be parsed, skipping")
			continue
		}

		specs = append(specs, EnvSpec{Name: name, Keys: ef.Keys})
	}

	return specs, nil
}
