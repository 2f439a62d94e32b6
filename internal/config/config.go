// Copyright 2024 ChunkVFS Authors
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

// Package config locates the chunkvfs configuration directory and loads
// its settings, falling back to the defaults embedded in the binary.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"chunkvfs/internal/artifacts"
	"chunkvfs/internal/storage"
)

// getConfigDir returns the config directory path.
// Uses CHUNKVFS_CONFIG_DIR env var if set, otherwise defaults to ~/.chunkvfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("CHUNKVFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chunkvfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// LockPath returns the path of the lock file guarding dir
func LockPath(dir string) string {
	return filepath.Join(dir, ".chunkvfs.lock")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if there is none yet.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := SettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings are the user-tunable knobs of the CLI
type Settings struct {
	StorageDir    string   `yaml:"storage_dir"`    // default: "storage", relative to the config dir
	StoragePrefix string   `yaml:"storage_prefix"` // default: "storage-"
	SizeLimit     uint64   `yaml:"size_limit"`     // bytes per storage file, 0 = unlimited
	LogLevel      string   `yaml:"log_level"`      // trace, debug, info, warn, off (default: off)
	Gitignore     *bool    `yaml:"gitignore"`      // default: true (pointer to detect missing)
	Excludes      []string `yaml:"excludes"`       // extra gitignore patterns for imports
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.StorageDir == "" {
		s.StorageDir = "storage"
	}
	if s.StoragePrefix == "" {
		s.StoragePrefix = "storage-"
	}
	if s.Gitignore == nil {
		t := true
		s.Gitignore = &t
	}
}

// Validate rejects settings the VFS would refuse later.
func (s *Settings) Validate() error {
	if s.SizeLimit != 0 && s.SizeLimit < storage.MinStorageSize {
		return fmt.Errorf("size_limit %d is below the minimum of %d bytes", s.SizeLimit, storage.MinStorageSize)
	}
	if strings.Contains(s.StoragePrefix, "/") {
		return fmt.Errorf("storage_prefix %q must not contain a slash", s.StoragePrefix)
	}
	switch strings.ToLower(s.LogLevel) {
	case "", "off", "none", "trace", "debug", "info", "warn":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}

// GitignoreEnabled returns whether gitignore filtering is enabled (defaults to true).
func (s *Settings) GitignoreEnabled() bool {
	if s.Gitignore == nil {
		return true
	}
	return *s.Gitignore
}

// ResolveStorageDir returns the storage directory as an absolute path.
func (s *Settings) ResolveStorageDir() string {
	if filepath.IsAbs(s.StorageDir) {
		return s.StorageDir
	}
	return filepath.Join(getConfigDir(), s.StorageDir)
}

// loadDefaultSettings parses default settings from embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return settings
}

// LoadSettings reads the settings file, falling back to embedded defaults
// when it doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFromPath(SettingsPath())
}

// LoadSettingsFromPath reads settings from a specific file.
func LoadSettingsFromPath(path string) (*Settings, error) {
	settings := loadDefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return &settings, nil
}

// SaveSettings writes settings to the settings file
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# chunkvfs settings\n# See: chunkvfs --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}

// ConfigureLogging points logrus at w with the given level. An empty,
// "off" or "none" level discards all output.
func ConfigureLogging(level string, w io.Writer) {
	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(w)
}
