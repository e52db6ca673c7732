package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Global represents ~/.fbdash/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile represents a per-profile profile.toml.
type Profile struct {
	Backend BackendConfig `toml:"backend"`
	Gateway GatewayConfig `toml:"gateway"`
	Channel ChannelConfig `toml:"channel"`
	Notify  NotifyConfig  `toml:"notify"`
}

// BackendConfig points at the external dashboard API.
type BackendConfig struct {
	BaseURL        string `toml:"base_url"`
	SocketURL      string `toml:"socket_url"`
	Device         string `toml:"device"`
	VAPIDPublicKey string `toml:"vapid_public_key"`
}

// GatewayConfig configures the local HTTP surface the browser UI calls.
type GatewayConfig struct {
	Listen string `toml:"listen"`
}

// ChannelConfig tunes the realtime channel's heartbeat and reconnection.
type ChannelConfig struct {
	HeartbeatSeconds  int `toml:"heartbeat_seconds"`
	HeartbeatGraceSec int `toml:"heartbeat_grace_seconds"`
	BackoffInitialMS  int `toml:"backoff_initial_ms"`
	BackoffMaxMS      int `toml:"backoff_max_ms"`
}

// NotifyConfig holds notification dispatcher settings.
type NotifyConfig struct {
	Muted bool   `toml:"muted"`
	Sound string `toml:"sound"`
}

// Heartbeat returns the keep-alive interval.
func (c ChannelConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Grace returns the margin past the heartbeat interval after which a silent
// connection is treated as stale.
func (c ChannelConfig) Grace() time.Duration {
	return time.Duration(c.HeartbeatGraceSec) * time.Second
}

// BackoffInitial returns the first reconnect delay.
func (c ChannelConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

// BackoffMax returns the reconnect delay cap.
func (c ChannelConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// DefaultProfileConfig returns a profile config with the documented
// defaults: quick-recovery bounded backoff and a 10s heartbeat.
func DefaultProfileConfig() *Profile {
	return &Profile{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:3000",
			SocketURL: "ws://localhost:3000/socket",
			Device:    "desktop",
		},
		Gateway: GatewayConfig{
			Listen: "127.0.0.1:8790",
		},
		Channel: ChannelConfig{
			HeartbeatSeconds:  10,
			HeartbeatGraceSec: 5,
			BackoffInitialMS:  1000,
			BackoffMaxMS:      3000,
		},
	}
}

// LoadGlobal reads the global config. Returns an error if the file is
// missing; callers fall back to defaults.
func LoadGlobal(path string) (*Global, error) {
	var cfg Global
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads a profile config, applying defaults for absent fields.
func LoadProfile(path string) (*Profile, error) {
	cfg := DefaultProfileConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return DefaultProfileConfig(), nil
		}
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Profile) {
	def := DefaultProfileConfig()
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = def.Backend.BaseURL
	}
	if cfg.Backend.SocketURL == "" {
		cfg.Backend.SocketURL = def.Backend.SocketURL
	}
	if cfg.Backend.Device == "" {
		cfg.Backend.Device = def.Backend.Device
	}
	if cfg.Gateway.Listen == "" {
		cfg.Gateway.Listen = def.Gateway.Listen
	}
	if cfg.Channel.HeartbeatSeconds <= 0 {
		cfg.Channel.HeartbeatSeconds = def.Channel.HeartbeatSeconds
	}
	if cfg.Channel.HeartbeatGraceSec <= 0 {
		cfg.Channel.HeartbeatGraceSec = def.Channel.HeartbeatGraceSec
	}
	if cfg.Channel.BackoffInitialMS <= 0 {
		cfg.Channel.BackoffInitialMS = def.Channel.BackoffInitialMS
	}
	if cfg.Channel.BackoffMaxMS <= 0 {
		cfg.Channel.BackoffMaxMS = def.Channel.BackoffMaxMS
	}
}

// SaveGlobal writes the global config, creating parent dirs as needed.
func SaveGlobal(path string, cfg *Global) error {
	return save(path, cfg)
}

// SaveProfile writes a profile config, creating parent dirs as needed.
func SaveProfile(path string, cfg *Profile) error {
	return save(path, cfg)
}

func save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
