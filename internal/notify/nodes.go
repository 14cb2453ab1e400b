package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/state"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
	"github.com/ARES11430/marzban-user-info-bot/pkg/tgui"
)

// ErrNoMainAdmin aborts a node tick when no alert target is configured.
var ErrNoMainAdmin = errors.New("main admin chat is not configured")

// NodeEngine watches node health rows and alerts the main admin on status
// transitions: one alert per degraded episode, a fresh alert when the
// degraded status itself changes, one recovery message when the node comes
// back.
type NodeEngine struct {
	log      logx.Logger
	panel    Panel
	store    state.Store
	settings SettingsSource
	sink     Sink

	mainAdminID    atomic.Int64
	warnedNoTarget atomic.Bool
}

func NewNodeEngine(p Panel, st state.Store, set SettingsSource, sink Sink, mainAdminID int64, log logx.Logger) *NodeEngine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &NodeEngine{log: log, panel: p, store: st, settings: set, sink: sink}
	e.mainAdminID.Store(mainAdminID)
	return e
}

// SetMainAdminID applies a config reload.
func (e *NodeEngine) SetMainAdminID(id int64) {
	old := e.mainAdminID.Swap(id)
	if old != id {
		e.warnedNoTarget.Store(false)
	}
}

// Tick runs one pass over all nodes. A per-node delivery failure skips that
// node without touching its stored state, so the next tick retries.
func (e *NodeEngine) Tick(ctx context.Context) error {
	target := e.mainAdminID.Load()
	if target == 0 {
		if e.warnedNoTarget.CompareAndSwap(false, true) {
			e.log.Error("node alerts disabled", logx.Err(ErrNoMainAdmin))
		}
		return ErrNoMainAdmin
	}

	nodes, err := e.panel.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("nodes query: %w", err)
	}
	loc := e.settings.Location()

	for _, n := range nodes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st, _, err := e.store.GetNodeState(ctx, n.ID)
		if err != nil {
			return fmt.Errorf("node state %d: %w", n.ID, err)
		}
		prev := panel.NodeStatus(st.LastStatus)

		switch {
		case n.Status == panel.NodeConnected && prev.IsAlert():
			msg := nodeMessage("✅ Node Recovered!", n, loc)
			if err := e.sink.SendText(ctx, target, msg); err != nil {
				e.log.Warn("node recovery message failed", logx.String("node", n.Name), logx.Err(err))
				continue
			}
			if err := e.putNodeState(ctx, n, false); err != nil {
				return err
			}

		case n.Status.IsAlert():
			if st.Notified && prev == n.Status {
				continue // already alerted for this episode
			}
			msg := nodeMessage("🚨 Node Alert!", n, loc)
			if err := e.sink.SendText(ctx, target, msg); err != nil {
				e.log.Warn("node alert failed", logx.String("node", n.Name), logx.Err(err))
				continue
			}
			if err := e.putNodeState(ctx, n, true); err != nil {
				return err
			}

		default:
			// Non-alert steady state; clear stale flags silently.
			if st.Notified || st.LastStatus != string(n.Status) {
				if err := e.putNodeState(ctx, n, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *NodeEngine) putNodeState(ctx context.Context, n panel.Node, notified bool) error {
	err := e.store.PutNodeState(ctx, state.NodeState{
		NodeID:     n.ID,
		LastStatus: string(n.Status),
		Notified:   notified,
	})
	if err != nil {
		return fmt.Errorf("node state %d: %w", n.ID, err)
	}
	return nil
}

func nodeMessage(title string, n panel.Node, loc *time.Location) string {
	msg := n.Message
	if strings.TrimSpace(msg) == "" {
		msg = "None"
	}
	head := tgui.B(title)
	body := tgui.JoinH("\n",
		tgui.Raw("Name: ")+tgui.Code(n.Name),
		tgui.Raw("Node Address: ")+tgui.Code(n.Address),
		tgui.Esc("Status: "+strings.ToUpper(string(n.Status))),
		tgui.Raw("Message: ")+tgui.Esc(msg),
	)
	change := tgui.Esc("Last Change: " + n.LastStatusChange.In(loc).Format("2006-01-02 15:04:05"))
	return tgui.JoinH("\n\n", head, body, change).String()
}
