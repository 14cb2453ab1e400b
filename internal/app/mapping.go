package app

import (
	"fmt"
	"strings"

	"github.com/ARES11430/marzban-user-info-bot/internal/config"
	"github.com/ARES11430/marzban-user-info-bot/internal/notify"
	"github.com/ARES11430/marzban-user-info-bot/internal/state"
)

const defaultSettingsPath = "./data/config.json"

func settingsPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Settings.Path); p != "" {
		return p
	}
	return defaultSettingsPath
}

func mapStateConfig(cfg *config.Config) (state.Config, error) {
	busy, err := config.ParseDurationOrDefault("state.busy_timeout", cfg.State.BusyTimeout, 0)
	if err != nil {
		return state.Config{}, err
	}
	return state.Config{
		Driver:      cfg.State.Driver,
		Path:        cfg.State.Path,
		BusyTimeout: busy,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Enabled:        cfg.Notify.Enabled,
		MainAdminID:    cfg.Telegram.MainAdminID,
		UsersSchedule:  cfg.Notify.UsersSchedule,
		NodesSchedule:  cfg.Notify.NodesSchedule,
		DigestSchedule: cfg.Notify.DigestSchedule,
	}
}

// validateConfig rejects configs that would break a running component if
// hot-reloaded. Boot-only settings (database, state driver) are still
// checked so a bad edit is reported at reload time, not at the next restart.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.MainAdminID < 0 {
		return fmt.Errorf("telegram.main_admin_id must be >= 0")
	}
	if cfg.Telegram.RatePerSec < 0 {
		return fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	if _, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if _, err := mapStateConfig(cfg); err != nil {
		return err
	}

	for _, s := range []struct{ name, raw string }{
		{"notify.users_schedule", cfg.Notify.UsersSchedule},
		{"notify.nodes_schedule", cfg.Notify.NodesSchedule},
	} {
		if strings.TrimSpace(s.raw) == "" {
			continue
		}
		if _, err := notify.ParseSchedule(s.raw); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	if d := strings.TrimSpace(cfg.Notify.DigestSchedule); d != "" && d != "off" {
		if _, err := notify.ParseSchedule(d); err != nil {
			return fmt.Errorf("notify.digest_schedule: %w", err)
		}
	}
	return nil
}
