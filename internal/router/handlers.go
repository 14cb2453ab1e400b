package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/settings"
	kit "github.com/ARES11430/marzban-user-info-bot/internal/transport"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

const noAdminRecordMsg = "No admin found in config file with your Telegram ID, please double check config data in server!"

func (r *Router) handleCommand(ctx context.Context, m *kit.Message, text string) {
	cmd := strings.Fields(text)[0]
	// Tolerate the /command@botname form.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		r.replyMenu(ctx, m.ChatID, "Welcome to the Marzban User Management bot!", r.mainMenu(m.FromID))
	case "/commands":
		r.replyMenu(ctx, m.ChatID, "Below is the list of commands available for you:", r.mainMenu(m.FromID))
	case "/set_threshold":
		if !r.isMainAdmin(m.FromID) {
			r.reply(ctx, m.ChatID, "You are not authorized to change settings.")
			return
		}
		r.setSession(m.FromID, &session{kind: sessionThreshold})
		r.reply(ctx, m.ChatID, "Please enter the new traffic threshold (in GB):")
	case "/set_outdated_days":
		if !r.isMainAdmin(m.FromID) {
			r.reply(ctx, m.ChatID, "You are not authorized to change settings.")
			return
		}
		r.setSession(m.FromID, &session{kind: sessionOutdatedDays})
		r.reply(ctx, m.ChatID, "Please enter the outdated-subscription age (in days):")
	default:
		r.reply(ctx, m.ChatID, "Unknown command. Use /commands to see what is available.")
	}
}

func (r *Router) mainMenu(fromID int64) [][]kit.InlineButton {
	if r.isMainAdmin(fromID) {
		return [][]kit.InlineButton{
			{{Text: "Users", Data: "user_management"}},
			{{Text: "User Clients Info", Data: "client_management"}},
			{{Text: "Admins", Data: "admin_management"}},
			{{Text: "Node Status", Data: "node_status"}},
			{{Text: "Settings", Data: "settings"}},
		}
	}
	return [][]kit.InlineButton{
		{{Text: "Expiring Users", Data: "expiring_users"}},
		{{Text: "Low Traffic Users", Data: "low_traffic_users"}},
		{{Text: "User Info", Data: "user_info"}},
	}
}

func (r *Router) routeCallback(ctx context.Context, cb *kit.Callback) {
	data := strings.TrimSpace(cb.Data)

	// Parameterized callbacks first.
	if id, ok := strings.CutPrefix(data, "remove_admin:"); ok {
		r.removeAdmin(ctx, cb, id)
		return
	}
	if rest, ok := strings.CutPrefix(data, "client:"); ok {
		name, scope, found := strings.Cut(rest, ":")
		if !found {
			return
		}
		r.clientUsers(ctx, cb, name, scope == "all")
		return
	}
	if scope, ok := strings.CutPrefix(data, "clients_menu:"); ok {
		r.clientPickMenu(ctx, cb, scope == "all")
		return
	}

	switch data {
	case "user_management":
		r.userManagementMenu(ctx, cb)
	case "admin_management":
		r.adminManagementMenu(ctx, cb)
	case "client_management":
		r.clientManagementMenu(ctx, cb)
	case "settings":
		r.showSettings(ctx, cb)
	case "expiring_users":
		r.expiringUsers(ctx, cb, false)
	case "all_expiring":
		r.expiringUsers(ctx, cb, true)
	case "low_traffic_users":
		r.lowTrafficUsers(ctx, cb, false)
	case "all_low_traffic":
		r.lowTrafficUsers(ctx, cb, true)
	case "outdated_subs":
		r.outdatedSubscriptions(ctx, cb)
	case "node_status":
		r.nodeStatus(ctx, cb)
	case "user_info":
		r.setSession(cb.FromID, &session{kind: sessionUserInfo})
		r.reply(ctx, cb.ChatID, "Please enter the username of the user:")
	case "add_admin":
		if !r.requireMainAdmin(ctx, cb) {
			return
		}
		r.setSession(cb.FromID, &session{kind: sessionAddAdminUsername})
		r.reply(ctx, cb.ChatID, "Please enter the username of the admin in the Marzban panel:\n(an invalid username prevents the bot from working correctly)")
	case "remove_admin":
		r.removeAdminMenu(ctx, cb)
	case "list_admins":
		r.listAdmins(ctx, cb)
	default:
		r.log.Debug("unknown callback", logx.String("data", data))
	}
}

func (r *Router) requireMainAdmin(ctx context.Context, cb *kit.Callback) bool {
	if r.isMainAdmin(cb.FromID) {
		return true
	}
	r.reply(ctx, cb.ChatID, "Unauthorized access.")
	return false
}

// myAdminID resolves the caller's panel admin id from the registry.
// Returns 0 and replies with a hint when the caller is not registered.
func (r *Router) myAdminID(ctx context.Context, chatID, fromID int64) int64 {
	a, ok := r.settings.AdminByTelegramID(fromID)
	if !ok {
		r.reply(ctx, chatID, noAdminRecordMsg)
		return 0
	}
	return a.ID
}

func (r *Router) userManagementMenu(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	r.replyMenu(ctx, cb.ChatID, "User Management Menu:", [][]kit.InlineButton{
		{{Text: "Expiring Users (All)", Data: "all_expiring"}},
		{{Text: "Low Traffic Users (All)", Data: "all_low_traffic"}},
		{{Text: "My Expiring Users", Data: "expiring_users"}},
		{{Text: "My Low Traffic Users", Data: "low_traffic_users"}},
		{{Text: "Outdated Subscriptions", Data: "outdated_subs"}},
		{{Text: "User Info", Data: "user_info"}},
	})
}

func (r *Router) adminManagementMenu(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	r.replyMenu(ctx, cb.ChatID, "Admin Management Menu:", [][]kit.InlineButton{
		{{Text: "Add Admin", Data: "add_admin"}, {Text: "Remove Admin", Data: "remove_admin"}},
		{{Text: "Admin List", Data: "list_admins"}},
	})
}

func (r *Router) clientManagementMenu(ctx context.Context, cb *kit.Callback) {
	rows := [][]kit.InlineButton{
		{{Text: "My Users Client Info", Data: "clients_menu:mine"}},
	}
	if r.isMainAdmin(cb.FromID) {
		rows = append([][]kit.InlineButton{
			{{Text: "User Clients Info (All)", Data: "clients_menu:all"}},
		}, rows...)
	}
	r.replyMenu(ctx, cb.ChatID, "Below are the commands related to client info:", rows)
}

func (r *Router) clientPickMenu(ctx context.Context, cb *kit.Callback, all bool) {
	scope := "mine"
	if all {
		if !r.requireMainAdmin(ctx, cb) {
			return
		}
		scope = "all"
	}
	rows := make([][]kit.InlineButton, 0, len(panel.KnownClients))
	for _, c := range panel.KnownClients {
		rows = append(rows, []kit.InlineButton{{Text: c, Data: "client:" + c + ":" + scope}})
	}
	r.replyMenu(ctx, cb.ChatID, "Select a client to view users associated with it:", rows)
}

func (r *Router) showSettings(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	r.reply(ctx, cb.ChatID, fmt.Sprintf(
		"Current Traffic Threshold: %g GB\nOutdated Subscription Age: %d days\nTime Zone: %s\n\nTo change these use:\n/set_threshold\n/set_outdated_days",
		r.settings.TrafficThresholdGB(), r.settings.OutdatedSubDays(), r.settings.Get().TimeZone))
}

func (r *Router) expiringUsers(ctx context.Context, cb *kit.Callback, all bool) {
	adminID := int64(0)
	if all {
		if !r.requireMainAdmin(ctx, cb) {
			return
		}
	} else {
		if adminID = r.myAdminID(ctx, cb.ChatID, cb.FromID); adminID == 0 {
			return
		}
	}

	exp, err := r.panel.ExpiringUsers(ctx, r.settings.Location(), adminID)
	if err != nil {
		r.log.Warn("expiring query failed", logx.Err(err))
		r.reply(ctx, cb.ChatID, "Error fetching expiring users.")
		return
	}
	r.replyLong(ctx, cb.ChatID, formatExpiring(exp, all))
}

func (r *Router) lowTrafficUsers(ctx context.Context, cb *kit.Callback, all bool) {
	adminID := int64(0)
	if all {
		if !r.requireMainAdmin(ctx, cb) {
			return
		}
	} else {
		if adminID = r.myAdminID(ctx, cb.ChatID, cb.FromID); adminID == 0 {
			return
		}
	}

	thresholdGB := r.settings.TrafficThresholdGB()
	users, err := r.panel.LowTrafficUsers(ctx, panel.GBToBytes(thresholdGB), adminID)
	if err != nil {
		r.log.Warn("low traffic query failed", logx.Err(err))
		r.reply(ctx, cb.ChatID, "Error fetching low traffic users.")
		return
	}
	if len(users) == 0 {
		r.reply(ctx, cb.ChatID, "No low traffic users found.")
		return
	}
	r.replyLong(ctx, cb.ChatID, formatLowTraffic(users, thresholdGB, all))
}

func (r *Router) outdatedSubscriptions(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	days := r.settings.OutdatedSubDays()
	users, err := r.panel.OutdatedSubscriptionUsers(ctx, days, 0)
	if err != nil {
		r.log.Warn("outdated query failed", logx.Err(err))
		r.reply(ctx, cb.ChatID, "Error fetching outdated subscriptions.")
		return
	}
	if len(users) == 0 {
		r.reply(ctx, cb.ChatID, fmt.Sprintf("No subscriptions older than %d days.", days))
		return
	}
	r.replyLong(ctx, cb.ChatID, formatOutdated(users, days, r.settings.Location()))
}

func (r *Router) clientUsers(ctx context.Context, cb *kit.Callback, client string, all bool) {
	known := false
	for _, c := range panel.KnownClients {
		if c == client {
			known = true
			break
		}
	}
	if !known {
		r.reply(ctx, cb.ChatID, "Error: unable to determine the selected client.")
		return
	}

	adminID := int64(0)
	if all {
		if !r.requireMainAdmin(ctx, cb) {
			return
		}
	} else {
		if adminID = r.myAdminID(ctx, cb.ChatID, cb.FromID); adminID == 0 {
			return
		}
	}

	users, err := r.panel.ClientUsers(ctx, client, adminID)
	if err != nil {
		r.log.Warn("client query failed", logx.String("client", client), logx.Err(err))
		r.reply(ctx, cb.ChatID, "Error fetching users for client: "+client)
		return
	}
	if len(users) == 0 {
		r.reply(ctx, cb.ChatID, "No user is using: "+client)
		return
	}
	r.replyLong(ctx, cb.ChatID, formatClientUsers(client, users, all))
}

func (r *Router) nodeStatus(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	nodes, err := r.panel.Nodes(ctx)
	if err != nil {
		r.log.Warn("nodes query failed", logx.Err(err))
		r.reply(ctx, cb.ChatID, "Error fetching node status.")
		return
	}
	if len(nodes) == 0 {
		r.reply(ctx, cb.ChatID, "No nodes found.")
		return
	}
	r.replyLong(ctx, cb.ChatID, formatNodes(nodes, r.settings.Location()))
}

func (r *Router) removeAdminMenu(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	admins := r.settings.Admins()
	if len(admins) == 0 {
		r.reply(ctx, cb.ChatID, "No admins found.")
		return
	}
	rows := make([][]kit.InlineButton, 0, len(admins))
	for _, a := range admins {
		rows = append(rows, []kit.InlineButton{{
			Text: "Remove " + a.Username,
			Data: "remove_admin:" + strconv.FormatInt(a.ID, 10),
		}})
	}
	r.replyMenu(ctx, cb.ChatID, "Select an admin to remove:", rows)
}

func (r *Router) removeAdmin(ctx context.Context, cb *kit.Callback, rawID string) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		r.reply(ctx, cb.ChatID, "Admin not found.")
		return
	}
	var name string
	for _, a := range r.settings.Admins() {
		if a.ID == id {
			name = a.Username
			break
		}
	}
	if name == "" {
		r.reply(ctx, cb.ChatID, "Admin not found.")
		return
	}
	if err := r.settings.RemoveAdmin(id); err != nil {
		r.log.Error("remove admin failed", logx.Int64("admin_id", id), logx.Err(err))
		r.reply(ctx, cb.ChatID, "Error removing admin. Please try again.")
		return
	}
	r.reply(ctx, cb.ChatID, fmt.Sprintf("Admin %s has been removed.", name))
}

func (r *Router) listAdmins(ctx context.Context, cb *kit.Callback) {
	if !r.requireMainAdmin(ctx, cb) {
		return
	}
	admins := r.settings.Admins()
	if len(admins) == 0 {
		r.reply(ctx, cb.ChatID, "Current Admins:\n\nNo admins found.")
		return
	}
	r.replyLong(ctx, cb.ChatID, formatAdminList(admins))
}

func (r *Router) handleSessionInput(ctx context.Context, m *kit.Message, s *session, text string) {
	switch s.kind {
	case sessionThreshold:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || v <= 0 {
			r.setSession(m.FromID, s)
			r.reply(ctx, m.ChatID, "Invalid input. Please provide a valid positive number (in GB):")
			return
		}
		if err := r.settings.SetTrafficThresholdGB(v); err != nil {
			r.reply(ctx, m.ChatID, "Error updating threshold. Please try again.")
			return
		}
		r.reply(ctx, m.ChatID, fmt.Sprintf("Traffic threshold successfully updated to %g GB.", v))

	case sessionOutdatedDays:
		days, err := strconv.Atoi(text)
		if err != nil || days <= 0 {
			r.setSession(m.FromID, s)
			r.reply(ctx, m.ChatID, "Invalid input. Please provide a positive number of days:")
			return
		}
		if err := r.settings.SetOutdatedSubDays(days); err != nil {
			r.reply(ctx, m.ChatID, "Error updating setting. Please try again.")
			return
		}
		r.reply(ctx, m.ChatID, fmt.Sprintf("Outdated subscription age set to %d days.", days))

	case sessionUserInfo:
		r.userInfo(ctx, m, text)

	case sessionAddAdminUsername:
		adminID, err := r.panel.AdminID(ctx, text)
		if err != nil {
			r.log.Warn("admin lookup failed", logx.Err(err))
			r.reply(ctx, m.ChatID, "Error looking up the username. Please try again:")
			r.setSession(m.FromID, s)
			return
		}
		if adminID == 0 {
			r.setSession(m.FromID, s)
			r.reply(ctx, m.ChatID, "Username not found in database. Please try again:")
			return
		}
		r.setSession(m.FromID, &session{kind: sessionAddAdminTelegramID, username: text, adminID: adminID})
		r.reply(ctx, m.ChatID, "Please enter the Telegram ID for this admin:")

	case sessionAddAdminTelegramID:
		tgID, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			r.setSession(m.FromID, s)
			r.reply(ctx, m.ChatID, "Invalid Telegram ID. Please enter a valid number:")
			return
		}
		err = r.settings.AddAdmin(settings.Admin{ID: s.adminID, TelegramID: tgID, Username: s.username})
		if err != nil {
			r.reply(ctx, m.ChatID, "Error adding admin. Please try again.")
			return
		}
		r.reply(ctx, m.ChatID, fmt.Sprintf("Admin %s successfully added!", s.username))
	}
}

func (r *Router) userInfo(ctx context.Context, m *kit.Message, username string) {
	adminID := int64(0)
	if !r.isMainAdmin(m.FromID) {
		a, ok := r.settings.AdminByTelegramID(m.FromID)
		if !ok {
			r.reply(ctx, m.ChatID, noAdminRecordMsg)
			return
		}
		adminID = a.ID
	}

	detail, err := r.panel.UserDetail(ctx, username, adminID)
	if errors.Is(err, panel.ErrNotFound) {
		r.reply(ctx, m.ChatID, fmt.Sprintf("User %s not found.", username))
		return
	}
	if err != nil {
		r.log.Warn("user detail failed", logx.String("user", username), logx.Err(err))
		r.reply(ctx, m.ChatID, "Error fetching user info.")
		return
	}
	r.reply(ctx, m.ChatID, formatUserDetail(detail, r.settings.Location()))
}
