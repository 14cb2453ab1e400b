// Package router dispatches Telegram updates to the bot's query and
// management flows: role-dependent menus, ad-hoc panel queries, the admin
// registry and the threshold/session flows.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	rtsup "github.com/ARES11430/marzban-user-info-bot/internal/runtime/supervisor"
	"github.com/ARES11430/marzban-user-info-bot/internal/settings"
	kit "github.com/ARES11430/marzban-user-info-bot/internal/transport"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

const handlerTimeout = 30 * time.Second

// Panel is the data access surface the router queries.
type Panel interface {
	LowTrafficUsers(ctx context.Context, thresholdBytes int64, adminID int64) ([]panel.TrafficUser, error)
	ExpiringUsers(ctx context.Context, loc *time.Location, adminID int64) (panel.ExpiringUsers, error)
	OutdatedSubscriptionUsers(ctx context.Context, olderThanDays int, adminID int64) ([]panel.SubscriptionUser, error)
	ClientUsers(ctx context.Context, client string, adminID int64) ([]panel.ClientUser, error)
	UserDetail(ctx context.Context, username string, adminID int64) (panel.UserDetail, error)
	AdminID(ctx context.Context, username string) (int64, error)
	Nodes(ctx context.Context) ([]panel.Node, error)
}

// sessionKind is the active multi-step flow for one operator.
type sessionKind int

const (
	sessionNone sessionKind = iota
	sessionThreshold
	sessionOutdatedDays
	sessionUserInfo
	sessionAddAdminUsername
	sessionAddAdminTelegramID
)

type session struct {
	kind     sessionKind
	username string // add-admin flow: panel username entered in step one
	adminID  int64  // add-admin flow: resolved panel admin id
}

// Router consumes adapter updates and replies through it.
type Router struct {
	log      logx.Logger
	adapter  kit.Adapter
	panel    Panel
	settings *settings.Store

	mainAdminID int64

	smu      sync.Mutex
	sessions map[int64]*session

	runMu   sync.Mutex
	sup     *rtsup.Supervisor
	workers int
}

func New(adapter kit.Adapter, p Panel, set *settings.Store, mainAdminID int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:         log,
		adapter:     adapter,
		panel:       p,
		settings:    set,
		mainAdminID: mainAdminID,
		sessions:    map[int64]*session{},
		workers:     4,
	}
}

// SetMainAdminID applies a config reload.
func (r *Router) SetMainAdminID(id int64) {
	r.runMu.Lock()
	r.mainAdminID = id
	r.runMu.Unlock()
}

func (r *Router) isMainAdmin(fromID int64) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.mainAdminID != 0 && fromID == r.mainAdminID
}

func (r *Router) isAuthorized(fromID int64) bool {
	return r.isMainAdmin(fromID) || r.settings.IsTelegramAdmin(fromID)
}

// DispatchLoop consumes updates until ctx is done. Handlers run on a small
// worker pool so one slow query does not block the rest.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	r.runMu.Lock()
	r.sup = sup
	workers := r.workers
	r.runMu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart("router.worker", func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case upd, ok := <-updates:
					if !ok {
						return nil
					}
					r.handle(c, upd)
				}
			}
		}, rtsup.WithStopOnCleanExit(true))
	}

	r.publishMenuCommands(ctx)

	<-ctx.Done()
	return sup.Wait(context.Background())
}

func (r *Router) handle(ctx context.Context, upd kit.Update) {
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	switch upd.Kind {
	case kit.UpdateMessage:
		if upd.Message == nil {
			return
		}
		r.handleMessage(hctx, upd.Message)
	case kit.UpdateCallback:
		if upd.Callback == nil {
			return
		}
		r.handleCallback(hctx, upd.Callback)
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	if !r.isAuthorized(m.FromID) {
		r.reply(ctx, m.ChatID, "You are not authorized to use this bot.")
		return
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		r.clearSession(m.FromID)
		r.handleCommand(ctx, m, text)
		return
	}
	if s := r.takeSession(m.FromID); s != nil {
		r.handleSessionInput(ctx, m, s, text)
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	// Ack first so the button stops spinning even if the query is slow.
	_ = r.adapter.AnswerCallback(ctx, cb.ID, "")

	if !r.isAuthorized(cb.FromID) {
		r.reply(ctx, cb.ChatID, "You are not authorized to use this bot.")
		return
	}
	r.routeCallback(ctx, cb)
}

// Session bookkeeping. takeSession removes the session; flows that need
// another input re-arm it explicitly.
func (r *Router) setSession(userID int64, s *session) {
	r.smu.Lock()
	r.sessions[userID] = s
	r.smu.Unlock()
}

func (r *Router) takeSession(userID int64) *session {
	r.smu.Lock()
	defer r.smu.Unlock()
	s := r.sessions[userID]
	delete(r.sessions, userID)
	return s
}

func (r *Router) clearSession(userID int64) {
	r.smu.Lock()
	delete(r.sessions, userID)
	r.smu.Unlock()
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (r *Router) replyMenu(ctx context.Context, chatID int64, text string, rows [][]kit.InlineButton) {
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode: "HTML",
		Keyboard:  rows,
	})
	if err != nil {
		r.log.Warn("menu reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// replyLong splits oversized results under Telegram's message limit.
func (r *Router) replyLong(ctx context.Context, chatID int64, text string) {
	for _, chunk := range splitLong(text) {
		r.reply(ctx, chatID, chunk)
	}
}

func (r *Router) publishMenuCommands(ctx context.Context) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cmds := []kit.BotCommand{
		{Command: "commands", Description: "See the available commands!"},
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, cmds); err != nil {
		r.log.Debug("menu command update failed", logx.Err(err))
	}
}
