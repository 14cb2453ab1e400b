package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/state"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
	"github.com/ARES11430/marzban-user-info-bot/pkg/tgui"
)

// UserEngine sends one low-traffic alert per user to the admin owning it and
// clears the flag once the user is back above the threshold.
type UserEngine struct {
	log      logx.Logger
	panel    Panel
	store    state.Store
	settings SettingsSource
	sink     Sink
}

func NewUserEngine(p Panel, st state.Store, set SettingsSource, sink Sink, log logx.Logger) *UserEngine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &UserEngine{log: log, panel: p, store: st, settings: set, sink: sink}
}

// Tick runs one full pass: alert, reset, reconcile. A failed panel query
// aborts the pass; per-user routing or delivery failures only skip that user
// so one unreachable admin cannot starve the rest.
func (e *UserEngine) Tick(ctx context.Context) error {
	thresholdGB := e.settings.TrafficThresholdGB()
	thresholdBytes := panel.GBToBytes(thresholdGB)

	low, err := e.panel.LowTrafficUsers(ctx, thresholdBytes, 0)
	if err != nil {
		return fmt.Errorf("low traffic query: %w", err)
	}

	lowSet := make(map[string]struct{}, len(low))
	for _, u := range low {
		lowSet[u.Username] = struct{}{}
	}

	sent := 0
	for _, u := range low {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st, ok, err := e.store.GetUserState(ctx, u.Username)
		if err != nil {
			return fmt.Errorf("user state %s: %w", u.Username, err)
		}
		if ok && st.Notified {
			continue
		}

		detail, err := e.panel.UserDetail(ctx, u.Username, 0)
		if errors.Is(err, panel.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("user detail %s: %w", u.Username, err)
		}

		admin, ok := e.settings.AdminByID(detail.AdminID)
		if !ok {
			e.log.Debug("no telegram admin for panel admin, skipping alert",
				logx.String("user", u.Username), logx.Int64("admin_id", detail.AdminID))
			continue
		}

		msg := lowTrafficMessage(u, thresholdGB, detail.AdminUsername)
		if err := e.sink.SendText(ctx, admin.TelegramID, msg); err != nil {
			e.log.Warn("low traffic alert failed",
				logx.String("user", u.Username), logx.Int64("chat_id", admin.TelegramID), logx.Err(err))
			continue
		}
		if err := e.store.PutUserState(ctx, state.UserState{
			UserID:   u.Username,
			Notified: true,
			AdminID:  detail.AdminID,
		}); err != nil {
			return fmt.Errorf("mark notified %s: %w", u.Username, err)
		}
		sent++
	}

	if err := e.resetRecovered(ctx, lowSet, thresholdBytes); err != nil {
		return err
	}
	if err := e.reconcile(ctx); err != nil {
		return err
	}

	if sent > 0 {
		e.log.Info("low traffic alerts sent", logx.Int("count", sent))
	}
	return nil
}

// resetRecovered clears the notified flag for users whose remaining traffic
// is back at or above the threshold. Users still in the below-threshold set
// cannot have recovered, so only the rest are re-checked.
func (e *UserEngine) resetRecovered(ctx context.Context, lowSet map[string]struct{}, thresholdBytes int64) error {
	states, err := e.store.ListUserStates(ctx)
	if err != nil {
		return fmt.Errorf("list user states: %w", err)
	}
	for _, st := range states {
		if !st.Notified {
			continue
		}
		if _, stillLow := lowSet[st.UserID]; stillLow {
			continue
		}
		detail, err := e.panel.UserDetail(ctx, st.UserID, 0)
		if errors.Is(err, panel.ErrNotFound) {
			continue // reconcile will drop the row
		}
		if err != nil {
			return fmt.Errorf("user detail %s: %w", st.UserID, err)
		}
		// Unlimited users have no remaining counter; treat as recovered.
		if detail.DataLimit != nil && detail.RemainingBytes < thresholdBytes {
			continue
		}
		st.Notified = false
		st.AdminID = detail.AdminID
		if err := e.store.PutUserState(ctx, st); err != nil {
			return fmt.Errorf("clear notified %s: %w", st.UserID, err)
		}
	}
	return nil
}

// reconcile drops state rows for users no longer present in the panel.
func (e *UserEngine) reconcile(ctx context.Context) error {
	names, err := e.panel.Usernames(ctx)
	if err != nil {
		return fmt.Errorf("usernames query: %w", err)
	}
	states, err := e.store.ListUserStates(ctx)
	if err != nil {
		return fmt.Errorf("list user states: %w", err)
	}
	for _, st := range states {
		if _, ok := names[st.UserID]; ok {
			continue
		}
		if err := e.store.DeleteUserState(ctx, st.UserID); err != nil {
			return fmt.Errorf("delete stale state %s: %w", st.UserID, err)
		}
		e.log.Debug("dropped state for removed user", logx.String("user", st.UserID))
	}
	return nil
}

func lowTrafficMessage(u panel.TrafficUser, thresholdGB float64, adminName string) string {
	head := tgui.Raw("⚠️ ") + tgui.B("Low Traffic Alert!")
	body := tgui.JoinH("\n",
		tgui.Raw("User: ")+tgui.Code(u.Username),
		tgui.Esc(fmt.Sprintf("Remaining Traffic: %.2f GB", u.RemainingGB())),
		tgui.Esc(fmt.Sprintf("Threshold: %g GB", thresholdGB)),
	)
	owner := tgui.Raw("Belongs to: #") + tgui.Esc(adminName)
	return tgui.JoinH("\n\n", head, body, owner).String()
}
