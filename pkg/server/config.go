package server

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Endpoint       string        // TCP listen address
	ReadBufferSize int           // Size of each read from a client connection
	AuthTimeout    time.Duration // Time a new connection has to authenticate
	WriteTimeout   time.Duration // Deadline for each write to a client
	DatabasePath   string        // Client directory; empty disables it
	MetricsAddr    string        // HTTP listen address for /metrics, /health and /ws; empty disables it
	WebSocket      bool          // Serve /ws on MetricsAddr
	Debug          bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Endpoint:       "127.0.0.1:7878",
		ReadBufferSize: 2048,
		AuthTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
		DatabasePath:   "~/.relaychat/relaychat.db",
		MetricsAddr:    "127.0.0.1:9478",
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	HTTP    HTTPSection    `toml:"http"`
	Logging LoggingSection `toml:"logging"`
}

type ServerSection struct {
	Endpoint             string `toml:"endpoint"`
	ReadBufferSize       int    `toml:"read_buffer_size"`
	AcceptTimeoutSeconds int    `toml:"accept_timeout_seconds"`
	WriteTimeoutSeconds  int    `toml:"write_timeout_seconds"`
	DatabasePath         string `toml:"database_path"`
}

type HTTPSection struct {
	MetricsAddr string `toml:"metrics_addr"`
	WebSocket   bool   `toml:"websocket"`
}

type LoggingSection struct {
	Debug bool `toml:"debug"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	d := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			Endpoint:             d.Endpoint,
			ReadBufferSize:       d.ReadBufferSize,
			AcceptTimeoutSeconds: int(d.AuthTimeout / time.Second),
			WriteTimeoutSeconds:  int(d.WriteTimeout / time.Second),
			DatabasePath:         d.DatabasePath,
		},
		HTTP: HTTPSection{
			MetricsAddr: d.MetricsAddr,
			WebSocket:   d.WebSocket,
		},
	}
}

// LoadConfig loads configuration from a TOML file. A missing file is created
// with defaults. A file that cannot be read or parsed is logged and the
// defaults are used, so a bad config never keeps the server from starting.
func LoadConfig(path string) TOMLConfig {
	defaults := DefaultTOMLConfig()

	path, err := ExpandPath(path)
	if err != nil {
		log.Printf("Config: %v, using defaults", err)
		return defaults
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultConfig(path, defaults); err != nil {
			// Might be a permissions issue, we can still run
			log.Printf("Config: could not write default config: %v", err)
		}
		return defaults
	}

	// Decode over the defaults so omitted keys keep their default values
	config := defaults
	if _, err := toml.DecodeFile(path, &config); err != nil {
		log.Printf("Config: failed to parse %s: %v, using defaults", path, err)
		return defaults
	}

	return config
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# relaychat server configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect
# Set database_path or metrics_addr to "" to disable them

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig. Zero or negative
// numbers fall back to the defaults; empty strings are kept because they
// disable optional features.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Endpoint) != "" {
		cfg.Endpoint = strings.TrimSpace(c.Server.Endpoint)
	}

	if c.Server.ReadBufferSize > 0 {
		cfg.ReadBufferSize = c.Server.ReadBufferSize
	}

	if c.Server.AcceptTimeoutSeconds > 0 {
		cfg.AuthTimeout = time.Duration(c.Server.AcceptTimeoutSeconds) * time.Second
	}

	if c.Server.WriteTimeoutSeconds > 0 {
		cfg.WriteTimeout = time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
	}

	cfg.DatabasePath = strings.TrimSpace(c.Server.DatabasePath)
	cfg.MetricsAddr = strings.TrimSpace(c.HTTP.MetricsAddr)
	cfg.WebSocket = c.HTTP.WebSocket
	cfg.Debug = c.Logging.Debug

	return cfg
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
