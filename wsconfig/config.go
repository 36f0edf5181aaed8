// Package wsconfig loads the configuration for the framewire-echo example
// binary from a TOML file, the way the broader pack's services (timpani)
// layer their settings on top of flags and environment variables.
package wsconfig

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level shape of a framewire-echo configuration file.
type Config struct {
	ListenAddr  string        `toml:"listen_addr"`
	LogLevel    string        `toml:"log_level"`
	IdleTimeout time.Duration `toml:"-"`

	// RawIdleTimeout is the TOML-facing string form of IdleTimeout (TOML
	// has no native duration type); Load parses it with time.ParseDuration.
	RawIdleTimeout string `toml:"idle_timeout"`
}

// Defaults a Config falls back to when a file omits a field.
var Defaults = Config{
	ListenAddr:     "localhost:8080",
	LogLevel:       "info",
	IdleTimeout:    60 * time.Second,
	RawIdleTimeout: "60s",
}

// Load reads and decodes the TOML file at path, applying Defaults for any
// field the file leaves unset, and parsing RawIdleTimeout into IdleTimeout.
func Load(path string) (Config, error) {
	cfg := Defaults
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("wsconfig: decoding %s: %w", path, err)
	}

	idle, err := time.ParseDuration(cfg.RawIdleTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("wsconfig: invalid idle_timeout %q: %w", cfg.RawIdleTimeout, err)
	}
	cfg.IdleTimeout = idle

	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("wsconfig: listen_addr must not be empty")
	}

	return cfg, nil
}
