package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "t", "main_admin_id": 42},
		"logging": {"level": "DEBUG", "console": true, "file": {"enabled": false}},
		"database": {"driver": "sqlite", "dsn": "./marzban.db"},
		"state": {"driver": "file", "path": "./state"},
		"settings": {"path": "./settings.json"},
		"notify": {"enabled": true, "users_schedule": "30m"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.MainAdminID != 42 {
		t.Fatalf("MainAdminID = %d, want 42", cfg.Telegram.MainAdminID)
	}
	if cfg.Notify.UsersSchedule != "30m" {
		t.Fatalf("UsersSchedule = %q", cfg.Notify.UsersSchedule)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: t
  main_admin_id: 7
logging:
  level: INFO
  console: true
  file:
    enabled: false
database:
  driver: postgres
  dsn: postgres://localhost/marzban
state:
  driver: sqlite
  path: ./state.db
settings: {}
notify:
  enabled: true
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("Driver = %q", cfg.Database.Driver)
	}
	if cfg.Telegram.MainAdminID != 7 {
		t.Fatalf("MainAdminID = %d", cfg.Telegram.MainAdminID)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}, "bogus": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}}{"x": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "15m"); err != nil || d.Minutes() != 15 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be 0, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative should error")
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("garbage should error")
	}
}
