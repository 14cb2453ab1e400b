package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/settings"
	"github.com/ARES11430/marzban-user-info-bot/pkg/tgui"
)

const displayTime = "02 Jan 2006, 15:04"

func splitLong(text string) []string {
	return tgui.SplitMessage(text, tgui.MaxMessageLen)
}

func formatExpiring(exp panel.ExpiringUsers, all bool) string {
	prefix := ""
	if all {
		prefix = "All "
	}
	today := strings.Join(exp.Today, "\n")
	if today == "" {
		today = "None"
	}
	tomorrow := strings.Join(exp.Tomorrow, "\n")
	if tomorrow == "" {
		tomorrow = "None"
	}
	return tgui.JoinH("\n\n",
		tgui.B(prefix+"Users Expiring Today:")+"\n"+tgui.Esc(today),
		tgui.B(prefix+"Users Expiring Tomorrow:")+"\n"+tgui.Esc(tomorrow),
	).String()
}

func formatLowTraffic(users []panel.TrafficUser, thresholdGB float64, all bool) string {
	var b strings.Builder
	title := "Users"
	if all {
		title = "All Users"
	}
	b.WriteString(tgui.B(fmt.Sprintf("%s with Less Than %g GB Traffic:", title, thresholdGB)).String())
	b.WriteString("\n\n")
	for _, u := range users {
		line := fmt.Sprintf("%s - %.2f GB remaining", u.Username, u.RemainingGB())
		b.WriteString(tgui.Esc(line).String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOutdated(users []panel.SubscriptionUser, days int, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(tgui.B(fmt.Sprintf("Subscriptions not updated in %d days:", days)).String())
	b.WriteString("\n\n")
	for _, u := range users {
		when := "never"
		if u.SubUpdatedAt != nil {
			when = u.SubUpdatedAt.In(loc).Format(displayTime)
		}
		b.WriteString(tgui.Esc(fmt.Sprintf("%s - last update: %s", u.Username, when)).String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatClientUsers(client string, users []panel.ClientUser, all bool) string {
	var b strings.Builder
	if all {
		b.WriteString(tgui.B("All users using " + client + ":").String())
	} else {
		b.WriteString(tgui.B("Users using " + client + ":").String())
	}
	b.WriteString("\n\n")
	for _, u := range users {
		b.WriteString((tgui.Raw("Username: ") + tgui.Code(u.Username)).String())
		b.WriteString("\n")
		b.WriteString(tgui.Esc("Client: " + u.Client).String())
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatNodes(nodes []panel.Node, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(tgui.B("Node Status:").String())
	b.WriteString("\n\n")
	for _, n := range nodes {
		icon := "✅"
		if n.Status.IsAlert() {
			icon = "🚨"
		} else if n.Status == panel.NodeDisabled {
			icon = "⏸"
		}
		b.WriteString((tgui.Raw(icon+" ") + tgui.Code(n.Name)).String())
		b.WriteString("\n")
		b.WriteString(tgui.Esc(fmt.Sprintf("Status: %s", strings.ToUpper(string(n.Status)))).String())
		b.WriteString("\n")
		if strings.TrimSpace(n.Message) != "" {
			b.WriteString(tgui.Esc("Message: " + n.Message).String())
			b.WriteString("\n")
		}
		b.WriteString(tgui.Esc("Last Change: " + n.LastStatusChange.In(loc).Format(displayTime)).String())
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAdminList(admins []settings.Admin) string {
	var b strings.Builder
	b.WriteString(tgui.B("Current Admins:").String())
	b.WriteString("\n\n")
	for _, a := range admins {
		b.WriteString(tgui.Esc(fmt.Sprintf("Username: %s\nTelegram ID: %d\nDatabase ID: %d", a.Username, a.TelegramID, a.ID)).String())
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUserDetail(d panel.UserDetail, loc *time.Location) string {
	traffic := "∞"
	if d.DataLimit != nil {
		traffic = fmt.Sprintf("%.2f GB", panel.BytesToGB(d.RemainingBytes))
	}
	expire := "Never"
	if d.ExpireAt != nil {
		expire = d.ExpireAt.In(loc).Format(displayTime)
	}
	online := "never"
	if d.OnlineAt != nil {
		online = d.OnlineAt.In(loc).Format(displayTime)
	}
	subUpdated := "never"
	if d.SubUpdatedAt != nil {
		subUpdated = d.SubUpdatedAt.In(loc).Format(displayTime)
	}
	note := d.Note
	if strings.TrimSpace(note) == "" {
		note = "N/A"
	}
	device := d.SubLastAgent
	if strings.TrimSpace(device) == "" {
		device = "none"
	}

	lines := []tgui.H{
		tgui.B("👤 User Info:"),
		tgui.B("🪪 Username: ") + tgui.Code(d.Username),
		tgui.B("📋 Status: ") + tgui.Esc(d.Status),
		tgui.B("📝 Note: ") + tgui.Esc(note),
		tgui.B("💾 Remaining Traffic: ") + tgui.Esc(traffic),
		tgui.B("📅 Expiration Date: ") + tgui.Esc(expire),
		tgui.B("🕒 Last Online At: ") + tgui.Esc(online),
		tgui.B("🔄 Last Sub Updated: ") + tgui.Esc(subUpdated),
		tgui.B("📱 Last User Device: ") + tgui.Esc(device),
		tgui.B("👤 Belongs to: ") + tgui.Esc("#"+d.AdminUsername),
	}
	return tgui.JoinH("\n\n", lines...).String()
}
