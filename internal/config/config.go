package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatlink/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server    Server    `toml:"server"`
	Reconnect Reconnect `toml:"reconnect"`
	Session   Session   `toml:"session"`
}

// Server holds the backend endpoints.
type Server struct {
	WebSocketURL string `toml:"websocket_url"`
	APIBaseURL   string `toml:"api_base_url"`
}

// Reconnect controls automatic redial after an unexpected close. Disabled by
// default: out of the box the connection lifecycle is driven purely by
// identity changes, and a dropped socket stays disconnected.
type Reconnect struct {
	Enabled    bool     `toml:"enabled"`
	MinBackoff Duration `toml:"min_backoff"`
	MaxBackoff Duration `toml:"max_backoff"`
}

// Session holds session-lifecycle tuning.
type Session struct {
	// ForceLogoutDelay is how long a server-initiated logout waits before
	// teardown, giving a frontend time to show the countdown prompt.
	ForceLogoutDelay Duration `toml:"force_logout_delay"`
}

// Duration is a time.Duration that decodes from TOML strings like "5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a config with documented defaults filled in.
func Default() *Config {
	return &Config{
		Server: Server{
			WebSocketURL: "ws://localhost:8081",
			APIBaseURL:   "http://localhost:8080/api",
		},
		Reconnect: Reconnect{
			Enabled:    false,
			MinBackoff: Duration(time.Second),
			MaxBackoff: Duration(30 * time.Second),
		},
		Session: Session{
			ForceLogoutDelay: Duration(10 * time.Second),
		},
	}
}

// Load reads config from the given path, layering the file over defaults.
// Returns defaults and the error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
