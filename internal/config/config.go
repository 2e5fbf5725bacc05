// Package config handles tunesync configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./tunesync.yaml, ~/.config/tunesync/config.yaml,
// /etc/tunesync/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"tunesync.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tunesync", "config.yaml"))
	}

	paths = append(paths, "/etc/tunesync/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all tunesync configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	Ngenic   NgenicConfig  `yaml:"ngenic"`
	Netatmo  NetatmoConfig `yaml:"netatmo"`
	Sync     SyncConfig    `yaml:"sync"`
	Mapping  []RoomMapping `yaml:"mapping"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the control API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// NgenicConfig defines the source-system (Ngenic Tune) connection.
// Ngenic uses a static web client for the refresh-token grant, so the
// client id and secret have working defaults; only the refresh token
// is per-installation.
type NgenicConfig struct {
	URL          string `yaml:"url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// NetatmoConfig defines the target-system (Netatmo Energy) connection.
// Netatmo uses the OAuth2 password grant with a per-developer client.
type NetatmoConfig struct {
	URL          string `yaml:"url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

// SyncConfig defines the reconciliation cadence. The override expiry
// horizon is deliberately not configurable; see bridge.OverrideHorizon.
type SyncConfig struct {
	// IntervalSeconds is the delay between reconciliation passes.
	// The fixed cadence doubles as the retry backoff for failed writes.
	IntervalSeconds int `yaml:"interval_seconds"`
	// StartupDelaySeconds is the grace period before the first pass,
	// giving the process time to finish coming up.
	StartupDelaySeconds int `yaml:"startup_delay_seconds"`
}

// Interval returns the pass interval as a duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// StartupDelay returns the startup grace period as a duration.
func (s SyncConfig) StartupDelay() time.Duration {
	return time.Duration(s.StartupDelaySeconds) * time.Second
}

// RoomMapping pairs one Ngenic room with one Netatmo room. The mapping
// is produced once by the setup wizard and is immutable at runtime.
type RoomMapping struct {
	NgenicRoomUUID string `yaml:"ngenic_room_uuid"`
	NetatmoHomeID  string `yaml:"netatmo_home_id"`
	NetatmoRoomID  string `yaml:"netatmo_room_id"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded, so secrets can be referenced as ${NGENIC_REFRESH_TOKEN}
// instead of being written into the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with working defaults. Credentials
// and the room mapping still have to come from the file, secrets
// directory, or environment.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Ngenic: NgenicConfig{
			URL: "https://api.ngenic.com",
			// Static web client, shared by every installation.
			ClientID: "tune_web",
		},
		Netatmo: NetatmoConfig{
			URL: "https://api.netatmo.com",
		},
		Sync: SyncConfig{
			IntervalSeconds:     300,
			StartupDelaySeconds: 15,
		},
	}
}

// Validate checks that the configuration is complete enough to run.
// Room uniqueness within the mapping is assumed (the setup wizard
// guarantees it), but identifier formats are checked here so a
// mangled mapping fails at startup instead of mid-pass.
func (c *Config) Validate() error {
	if len(c.Mapping) == 0 {
		return fmt.Errorf("no room mapping configured")
	}
	for i, m := range c.Mapping {
		if _, err := uuid.Parse(m.NgenicRoomUUID); err != nil {
			return fmt.Errorf("mapping[%d]: ngenic_room_uuid %q is not a UUID: %w", i, m.NgenicRoomUUID, err)
		}
		if m.NetatmoHomeID == "" {
			return fmt.Errorf("mapping[%d]: netatmo_home_id is empty", i)
		}
		if m.NetatmoRoomID == "" {
			return fmt.Errorf("mapping[%d]: netatmo_room_id is empty", i)
		}
	}
	if c.Ngenic.RefreshToken == "" {
		return fmt.Errorf("ngenic refresh token is not set")
	}
	if c.Netatmo.ClientID == "" || c.Netatmo.ClientSecret == "" {
		return fmt.Errorf("netatmo client credentials are not set")
	}
	if c.Netatmo.Username == "" || c.Netatmo.Password == "" {
		return fmt.Errorf("netatmo account credentials are not set")
	}
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync interval must be positive, got %d", c.Sync.IntervalSeconds)
	}
	return nil
}
