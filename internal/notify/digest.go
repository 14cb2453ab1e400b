package notify

import (
	"context"
	"fmt"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
	"github.com/ARES11430/marzban-user-info-bot/pkg/tgui"
)

// Digest sends the main admin a daily list of users expiring today and
// tomorrow. Quiet days send nothing.
type Digest struct {
	log      logx.Logger
	panel    Panel
	settings SettingsSource
	sink     Sink
	target   func() int64
}

func NewDigest(p Panel, set SettingsSource, sink Sink, target func() int64, log logx.Logger) *Digest {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Digest{log: log, panel: p, settings: set, sink: sink, target: target}
}

func (d *Digest) Run(ctx context.Context) error {
	chatID := d.target()
	if chatID == 0 {
		return ErrNoMainAdmin
	}
	exp, err := d.panel.ExpiringUsers(ctx, d.settings.Location(), 0)
	if err != nil {
		return fmt.Errorf("expiring query: %w", err)
	}
	if len(exp.Today) == 0 && len(exp.Tomorrow) == 0 {
		d.log.Debug("no expiring users, digest skipped")
		return nil
	}
	return d.sink.SendText(ctx, chatID, ExpiringMessage(exp))
}

// ExpiringMessage renders the expiring-users list. Shared with the router's
// on-demand query.
func ExpiringMessage(exp panel.ExpiringUsers) string {
	parts := []tgui.H{tgui.Raw("📅 ") + tgui.B("Expiring Users")}
	parts = append(parts, userSection("Today", exp.Today))
	parts = append(parts, userSection("Tomorrow", exp.Tomorrow))
	return tgui.JoinH("\n\n", parts...).String()
}

func userSection(title string, names []string) tgui.H {
	if len(names) == 0 {
		return tgui.B(title) + tgui.Esc(": none")
	}
	lines := make([]tgui.H, 0, len(names)+1)
	lines = append(lines, tgui.B(title)+tgui.Esc(":"))
	for _, n := range names {
		lines = append(lines, tgui.Raw("• ")+tgui.Code(n))
	}
	return tgui.JoinH("\n", lines...)
}
