package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestGlobalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := SaveGlobal(path, &Global{DefaultProfile: "work"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadGlobal(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultProfile != "work" {
		t.Errorf("default_profile = %q, want work", cfg.DefaultProfile)
	}
}

func TestLoadGlobalMissingFile(t *testing.T) {
	_, err := LoadGlobal(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Error("expected error for missing global config")
	}
}

func TestLoadProfileMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadProfile(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.Heartbeat() != 10*time.Second {
		t.Errorf("heartbeat = %v, want 10s", cfg.Channel.Heartbeat())
	}
	if cfg.Channel.BackoffInitial() != time.Second || cfg.Channel.BackoffMax() != 3*time.Second {
		t.Errorf("backoff = %v..%v, want 1s..3s", cfg.Channel.BackoffInitial(), cfg.Channel.BackoffMax())
	}
	if cfg.Gateway.Listen == "" {
		t.Error("gateway listen default missing")
	}
}

func TestLoadProfileAppliesDefaultsForAbsentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := SaveProfile(path, &Profile{
		Backend: BackendConfig{BaseURL: "https://dash.example.com"},
	}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "https://dash.example.com" {
		t.Errorf("base_url = %q, want the saved value", cfg.Backend.BaseURL)
	}
	if cfg.Channel.HeartbeatSeconds != 10 {
		t.Errorf("heartbeat_seconds = %d, want default 10", cfg.Channel.HeartbeatSeconds)
	}
	if cfg.Backend.Device != "desktop" {
		t.Errorf("device = %q, want default desktop", cfg.Backend.Device)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	in := DefaultProfileConfig()
	in.Notify.Muted = true
	in.Channel.BackoffMaxMS = 2500

	if err := SaveProfile(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Notify.Muted {
		t.Error("muted flag lost in round trip")
	}
	if out.Channel.BackoffMax() != 2500*time.Millisecond {
		t.Errorf("backoff max = %v, want 2.5s", out.Channel.BackoffMax())
	}
}
