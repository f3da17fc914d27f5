// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Kassenwerk configuration file.
//
// Configuration comes from a single YAML file specified by the
// --config flag or the KASSENWERK_CONFIG environment variable. There
// are no search paths or automatic discovery; configuration stays
// deterministic and auditable.
//
// The Matrix section is optional. When it is absent or incomplete the
// chat mirror degrades to a logged no-op: work orders remain fully
// usable through the admin socket, they just stop appearing in chat.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path
// when --config is not given.
const EnvVar = "KASSENWERK_CONFIG"

// Config is the top-level configuration.
type Config struct {
	// Matrix configures the chat mirror. Optional; see
	// MatrixConfig.Enabled.
	Matrix MatrixConfig `yaml:"matrix"`

	// Database configures local storage.
	Database DatabaseConfig `yaml:"database"`

	// Listener configures the inbound reaction listener.
	Listener ListenerConfig `yaml:"listener"`

	// Socket configures the admin socket.
	Socket SocketConfig `yaml:"socket"`
}

// MatrixConfig holds homeserver connection settings.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g. "https://matrix.example.org").
	HomeserverURL string `yaml:"homeserver_url"`

	// RoomID is the room the mirror posts into (e.g. "!abc:example.org").
	RoomID string `yaml:"room_id"`

	// AccessToken authenticates the bot account. Mutually exclusive
	// with AccessTokenFile.
	AccessToken string `yaml:"access_token"`

	// AccessTokenFile is a file whose trimmed contents are the access
	// token. Preferred over inlining the token in the config file.
	AccessTokenFile string `yaml:"access_token_file"`
}

// Enabled reports whether the Matrix section is complete enough to
// talk to a homeserver.
func (m MatrixConfig) Enabled() bool {
	return m.HomeserverURL != "" && m.RoomID != "" && (m.AccessToken != "" || m.AccessTokenFile != "")
}

// Token resolves the access token, reading AccessTokenFile if set.
func (m MatrixConfig) Token() (string, error) {
	if m.AccessTokenFile != "" {
		data, err := os.ReadFile(m.AccessTokenFile)
		if err != nil {
			return "", fmt.Errorf("config: reading access token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("config: access token file %s is empty", m.AccessTokenFile)
		}
		return token, nil
	}
	return m.AccessToken, nil
}

// DatabaseConfig holds local storage settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Required.
	Path string `yaml:"path"`
}

// ListenerConfig holds reaction listener settings.
type ListenerConfig struct {
	// Cycles is the number of poll cycles to run. Zero means run
	// until shutdown (daemon mode).
	Cycles int `yaml:"cycles"`

	// PauseMS is the pause between cycles in bounded mode, in
	// milliseconds. Daemon mode ignores it: the long poll paces the
	// loop. Default 500.
	PauseMS int `yaml:"pause_ms"`

	// PollTimeoutMS is the long-poll timeout passed to the
	// homeserver, in milliseconds. Default 30000.
	PollTimeoutMS int `yaml:"poll_timeout_ms"`
}

// SocketConfig holds admin socket settings.
type SocketConfig struct {
	// Path is the Unix socket the admin surface listens on.
	// Default "/run/kassenwerk/admin.sock".
	Path string `yaml:"path"`
}

// Load reads the configuration from explicitPath, or from the
// KASSENWERK_CONFIG environment variable when explicitPath is empty.
// Missing optional fields receive defaults; an invalid file or a
// missing database path is an error.
func Load(explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file: pass --config or set %s", EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listener.PauseMS == 0 {
		c.Listener.PauseMS = 500
	}
	if c.Listener.PollTimeoutMS == 0 {
		c.Listener.PollTimeoutMS = 30000
	}
	if c.Socket.Path == "" {
		c.Socket.Path = "/run/kassenwerk/admin.sock"
	}
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Listener.Cycles < 0 {
		return fmt.Errorf("listener.cycles must be >= 0")
	}
	if c.Matrix.AccessToken != "" && c.Matrix.AccessTokenFile != "" {
		return fmt.Errorf("matrix.access_token and matrix.access_token_file are mutually exclusive")
	}
	// A partially filled Matrix section is almost certainly a mistake;
	// distinguish it from a deliberately absent one.
	partial := c.Matrix.HomeserverURL != "" || c.Matrix.RoomID != "" ||
		c.Matrix.AccessToken != "" || c.Matrix.AccessTokenFile != ""
	if partial && !c.Matrix.Enabled() {
		return fmt.Errorf("matrix section is incomplete: homeserver_url, room_id, and an access token are all required")
	}
	return nil
}
