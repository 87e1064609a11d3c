package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}

	if cfg.Tracker.PollInterval != "300ms" {
		t.Errorf("poll interval = %s, want 300ms", cfg.Tracker.PollInterval)
	}
	if cfg.Policy.StartupDelay != "10s" {
		t.Errorf("startup delay = %s, want 10s", cfg.Policy.StartupDelay)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("storage type = %s, want bolt", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Port != 6379 {
		t.Errorf("redis port = %d, want 6379", cfg.Storage.Redis.Port)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kscreen.yaml")
	content := `
tracker:
  poll_interval: 1s
policy:
  startup_delay: 5s
  location: UTC
storage:
  type: sqlite
  path: /tmp/kscreen.db
presenter:
  type: console
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Tracker.PollInterval != "1s" {
		t.Errorf("poll interval = %s, want 1s", cfg.Tracker.PollInterval)
	}
	if cfg.Tracker.WindowWidth != "300ms" {
		t.Errorf("window width = %s, want default 300ms", cfg.Tracker.WindowWidth)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Presenter.Type != "console" {
		t.Errorf("unexpected storage/presenter: %s/%s", cfg.Storage.Type, cfg.Presenter.Type)
	}

	loc, err := cfg.Policy.LoadLocation()
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	if loc != time.UTC {
		t.Errorf("location = %v, want UTC", loc)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown storage", "storage:\n  type: etcd\n"},
		{"unknown source", "source:\n  type: kernel\n"},
		{"bad poll interval", "tracker:\n  poll_interval: soon\n"},
		{"zero window width", "tracker:\n  window_width: 0s\n"},
		{"bad location", "policy:\n  location: Mars/Olympus\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kscreen.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidKeys(t *testing.T) {
	keys := ValidKeys()
	for _, key := range []string{"tracker.poll_interval", "storage.redis.host", "history.heartbeat_interval"} {
		if !keys[key] {
			t.Errorf("expected %s to be a valid key", key)
		}
	}
	if keys["dns.upstream_servers"] {
		t.Error("unexpected key dns.upstream_servers")
	}
}

func TestParseDuration(t *testing.T) {
	if got := ParseDuration("2m", time.Second); got != 2*time.Minute {
		t.Errorf("ParseDuration(2m) = %s", got)
	}
	if got := ParseDuration("nope", time.Second); got != time.Second {
		t.Errorf("ParseDuration fallback = %s", got)
	}
}
