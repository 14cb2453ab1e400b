// Package panel provides read-only queries against the Marzban panel
// database: traffic, expiry, subscription and node-health lookups used by
// both the notification engines and the operator command façade.
package panel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

// Service executes typed queries. All methods are safe for concurrent use.
type Service struct {
	db     *sql.DB
	driver string
	log    logx.Logger
}

func (s *Service) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies connectivity at startup.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LowTrafficUsers returns active users whose remaining traffic is below
// thresholdBytes. Users with no data limit are never low on traffic.
// adminID 0 means all admins.
func (s *Service) LowTrafficUsers(ctx context.Context, thresholdBytes int64, adminID int64) ([]TrafficUser, error) {
	q := `SELECT username, (data_limit - used_traffic) AS remaining
	      FROM users
	      WHERE (data_limit - used_traffic) < ?
	        AND status = 'active'`
	args := []any{thresholdBytes}
	if adminID != 0 {
		q += ` AND admin_id = ?`
		args = append(args, adminID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("panel: low traffic query: %w", err)
	}
	defer rows.Close()

	var out []TrafficUser
	for rows.Next() {
		var u TrafficUser
		if err := rows.Scan(&u.Username, &u.RemainingBytes); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ExpiringUsers returns active users expiring today and tomorrow, with day
// boundaries computed in loc.
func (s *Service) ExpiringUsers(ctx context.Context, loc *time.Location, adminID int64) (ExpiringUsers, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	dayAfterStart := todayStart.AddDate(0, 0, 2)

	today, err := s.expiringBetween(ctx, todayStart.Unix(), tomorrowStart.Unix(), adminID)
	if err != nil {
		return ExpiringUsers{}, err
	}
	tomorrow, err := s.expiringBetween(ctx, tomorrowStart.Unix(), dayAfterStart.Unix(), adminID)
	if err != nil {
		return ExpiringUsers{}, err
	}
	return ExpiringUsers{Today: today, Tomorrow: tomorrow}, nil
}

func (s *Service) expiringBetween(ctx context.Context, fromUnix, toUnix int64, adminID int64) ([]string, error) {
	q := `SELECT username FROM users
	      WHERE expire >= ? AND expire < ? AND status = 'active'`
	args := []any{fromUnix, toUnix}
	if adminID != 0 {
		q += ` AND admin_id = ?`
		args = append(args, adminID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("panel: expiring query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// OutdatedSubscriptionUsers returns active users whose subscription link has
// not been refreshed in olderThanDays (never-refreshed counts as outdated).
//
// The timestamp comparison happens in Go because the column's wire type
// differs between sqlite (text) and postgres (timestamp).
func (s *Service) OutdatedSubscriptionUsers(ctx context.Context, olderThanDays int, adminID int64) ([]SubscriptionUser, error) {
	q := `SELECT username, sub_updated_at FROM users WHERE status = 'active'`
	var args []any
	if adminID != 0 {
		q += ` AND admin_id = ?`
		args = append(args, adminID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("panel: outdated subscription query: %w", err)
	}
	defer rows.Close()

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var out []SubscriptionUser
	for rows.Next() {
		var (
			name string
			raw  any
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, err
		}
		at := asTime(raw)
		if at == nil || at.Before(cutoff) {
			out = append(out, SubscriptionUser{Username: name, SubUpdatedAt: at})
		}
	}
	return out, rows.Err()
}

// ClientUsers returns active users whose last subscription user agent matches
// the given client (prefix match, case-insensitive).
func (s *Service) ClientUsers(ctx context.Context, client string, adminID int64) ([]ClientUser, error) {
	q := `SELECT username, sub_last_user_agent FROM users
	      WHERE status = 'active' AND sub_last_user_agent IS NOT NULL`
	var args []any
	if adminID != 0 {
		q += ` AND admin_id = ?`
		args = append(args, adminID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("panel: client query: %w", err)
	}
	defer rows.Close()

	prefix := strings.ToLower(strings.TrimSpace(client))
	var out []ClientUser
	for rows.Next() {
		var name, agent string
		if err := rows.Scan(&name, &agent); err != nil {
			return nil, err
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(agent), prefix) {
			continue
		}
		out = append(out, ClientUser{Username: name, Client: agent})
	}
	return out, rows.Err()
}

// UserDetail returns a single user's record. adminID 0 means no owner filter.
// Returns ErrNotFound when no row matches.
func (s *Service) UserDetail(ctx context.Context, username string, adminID int64) (UserDetail, error) {
	q := `SELECT u.username, u.status, u.data_limit, u.used_traffic, u.expire,
	             u.admin_id, a.username, u.note, u.online_at, u.sub_updated_at,
	             u.sub_last_user_agent
	      FROM users u
	      LEFT JOIN admins a ON a.id = u.admin_id
	      WHERE u.username = ?`
	args := []any{username}
	if adminID != 0 {
		q += ` AND u.admin_id = ?`
		args = append(args, adminID)
	}

	var (
		d            UserDetail
		dataLimit    sql.NullInt64
		expire       sql.NullInt64
		uAdminID     sql.NullInt64
		adminName    sql.NullString
		note         sql.NullString
		onlineAt     any
		subUpdatedAt any
		agent        sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(q), args...).Scan(
		&d.Username, &d.Status, &dataLimit, &d.UsedTraffic, &expire,
		&uAdminID, &adminName, &note, &onlineAt, &subUpdatedAt, &agent,
	)
	if err == sql.ErrNoRows {
		return UserDetail{}, ErrNotFound
	}
	if err != nil {
		return UserDetail{}, fmt.Errorf("panel: user detail: %w", err)
	}

	if dataLimit.Valid {
		v := dataLimit.Int64
		d.DataLimit = &v
		d.RemainingBytes = v - d.UsedTraffic
	}
	if expire.Valid && expire.Int64 > 0 {
		t := time.Unix(expire.Int64, 0)
		d.ExpireAt = &t
	}
	d.AdminID = uAdminID.Int64
	d.AdminUsername = adminName.String
	d.Note = note.String
	d.OnlineAt = asTime(onlineAt)
	d.SubUpdatedAt = asTime(subUpdatedAt)
	d.SubLastAgent = agent.String
	return d, nil
}

// Usernames returns the set of all usernames currently in the panel,
// regardless of status. Used to reconcile stale notification state.
func (s *Service) Usernames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users`)
	if err != nil {
		return nil, fmt.Errorf("panel: usernames query: %w", err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

// AdminID looks up a panel admin's database id by username.
// Returns 0 when no such admin exists.
func (s *Service) AdminID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM admins WHERE username = ? LIMIT 1`), username).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("panel: admin lookup: %w", err)
	}
	return id, nil
}

// Nodes returns all node health rows.
func (s *Service) Nodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, last_status_change, message, address FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("panel: nodes query: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var (
			n       Node
			status  string
			changed any
			message sql.NullString
			address sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Name, &status, &changed, &message, &address); err != nil {
			return nil, err
		}
		n.Status = NodeStatus(status)
		if t := asTime(changed); t != nil {
			n.LastStatusChange = *t
		}
		n.Message = message.String
		n.Address = address.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// asTime coerces a scanned value into a time, tolerating the representations
// the two drivers produce: time.Time (pgx), text/blob datetime (sqlite), and
// unix seconds.
func asTime(v any) *time.Time {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return &x
	case *time.Time:
		return x
	case int64:
		if x <= 0 {
			return nil
		}
		t := time.Unix(x, 0)
		return &t
	case []byte:
		return parseTimeString(string(x))
	case string:
		return parseTimeString(x)
	default:
		return nil
	}
}

func parseTimeString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
