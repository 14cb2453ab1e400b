// Package notify runs the two notification engines against the panel
// database: per-user low-traffic alerts routed to the owning admin, and node
// health alerts for the main admin. Both are tick-driven and keep their
// de-duplication state in a persistent store so restarts do not re-alert.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/settings"
)

// Sink delivers a rendered message to a Telegram chat.
type Sink interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Panel is the subset of the data access service the engines query.
type Panel interface {
	LowTrafficUsers(ctx context.Context, thresholdBytes int64, adminID int64) ([]panel.TrafficUser, error)
	UserDetail(ctx context.Context, username string, adminID int64) (panel.UserDetail, error)
	Usernames(ctx context.Context) (map[string]struct{}, error)
	Nodes(ctx context.Context) ([]panel.Node, error)
	ExpiringUsers(ctx context.Context, loc *time.Location, adminID int64) (panel.ExpiringUsers, error)
}

// SettingsSource exposes the operator-mutable knobs the engines read each
// tick, so threshold changes apply without a restart.
type SettingsSource interface {
	TrafficThresholdGB() float64
	AdminByID(id int64) (settings.Admin, bool)
	Location() *time.Location
}

// Config controls the tick schedules. Schedules accept a Go duration, a
// daily HH:MM time, or a cron expression (see ParseSchedule).
type Config struct {
	Enabled        bool
	MainAdminID    int64
	UsersSchedule  string // default "60m"
	NodesSchedule  string // default "15m"
	DigestSchedule string // default "0 9 * * *"; "off" disables
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.UsersSchedule) == "" {
		c.UsersSchedule = "60m"
	}
	if strings.TrimSpace(c.NodesSchedule) == "" {
		c.NodesSchedule = "15m"
	}
	if strings.TrimSpace(c.DigestSchedule) == "" {
		c.DigestSchedule = "0 9 * * *"
	}
	return c
}
