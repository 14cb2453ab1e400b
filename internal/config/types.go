package config

// Config is the process configuration loaded from a JSON or YAML file.
//
// It holds bootstrap/wiring settings only. Operator-mutable settings
// (traffic threshold, admin registry, ...) live in internal/settings and are
// changed through bot commands, not by editing this file.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	State    StateConfig    `json:"state"`
	Settings SettingsConfig `json:"settings"`
	Notify   NotifyConfig   `json:"notify"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// MainAdminID is the single operator chat that receives node alerts and
	// digests, and that may manage admins/settings.
	MainAdminID int64 `json:"main_admin_id"`

	// PollTimeout is a Go duration string for the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// RatePerSec bounds outbound messages per second (default 3).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DatabaseConfig points at the Marzban panel database (read-only access).
//
// Driver values: "sqlite" (DSN is a file path) or "postgres" (DSN is a
// connection URL).
type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// StateConfig controls where notification state is persisted.
//
// Driver values: "file" (snapshot + journal) or "sqlite".
type StateConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SettingsConfig struct {
	// Path of the operator-settings JSON document (default "./data/config.json").
	Path string `json:"path,omitempty"`
}

// NotifyConfig controls the notification engines.
//
// Schedules accept a Go duration ("55m"), HH:MM ("01:30"), or a cron
// expression ("*/15 * * * *"). The digest defaults to a daily cron.
type NotifyConfig struct {
	Enabled bool `json:"enabled"`

	// UsersSchedule drives the low-traffic user engine (default "60m").
	UsersSchedule string `json:"users_schedule,omitempty"`

	// NodesSchedule drives the node health engine (default "15m").
	NodesSchedule string `json:"nodes_schedule,omitempty"`

	// DigestSchedule drives the expiring-users digest (default "0 9 * * *").
	// Empty string keeps the default; "off" disables the digest.
	DigestSchedule string `json:"digest_schedule,omitempty"`
}
