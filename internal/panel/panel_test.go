package panel

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

const testSchema = `
CREATE TABLE admins (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL
);
CREATE TABLE users (
	username TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	data_limit INTEGER,
	used_traffic INTEGER NOT NULL DEFAULT 0,
	expire INTEGER,
	admin_id INTEGER,
	note TEXT,
	online_at DATETIME,
	sub_updated_at DATETIME,
	sub_last_user_agent TEXT
);
CREATE TABLE nodes (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	last_status_change DATETIME,
	message TEXT,
	address TEXT
);
`

func openTestPanel(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marzban.db")

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	if _, err := raw.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	svc, err := Open(Config{Driver: "sqlite", DSN: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, raw
}

func seedUser(t *testing.T, db *sql.DB, username, status string, dataLimit, used int64, adminID int64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO users(username, status, data_limit, used_traffic, admin_id) VALUES(?,?,?,?,?)`,
		username, status, dataLimit, used, adminID,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
}

func TestLowTrafficUsers(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)

	const gb = int64(1024 * 1024 * 1024)
	seedUser(t, db, "alice", "active", 10*gb, 8*gb, 1)  // 2 GB left -> low
	seedUser(t, db, "bob", "active", 10*gb, 2*gb, 1)    // 8 GB left -> fine
	seedUser(t, db, "carol", "active", 10*gb, 9*gb, 2)  // 1 GB left, admin 2
	seedUser(t, db, "dave", "disabled", 10*gb, 9*gb, 1) // inactive

	got, err := svc.LowTrafficUsers(context.Background(), 5*gb, 0)
	if err != nil {
		t.Fatalf("LowTrafficUsers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d users, want 2: %#v", len(got), got)
	}

	filtered, err := svc.LowTrafficUsers(context.Background(), 5*gb, 2)
	if err != nil {
		t.Fatalf("LowTrafficUsers(admin=2): %v", err)
	}
	if len(filtered) != 1 || filtered[0].Username != "carol" {
		t.Fatalf("admin filter failed: %#v", filtered)
	}
	if g := filtered[0].RemainingGB(); g < 0.9 || g > 1.1 {
		t.Fatalf("RemainingGB = %v, want ~1", g)
	}
}

func TestExpiringUsers(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)

	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	insert := func(name string, expire int64) {
		if _, err := db.Exec(
			`INSERT INTO users(username, status, data_limit, used_traffic, expire, admin_id) VALUES(?, 'active', NULL, 0, ?, 1)`,
			name, expire,
		); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	insert("today-user", todayStart.Add(12*time.Hour).Unix())
	insert("tomorrow-user", todayStart.AddDate(0, 0, 1).Add(12*time.Hour).Unix())
	insert("later-user", todayStart.AddDate(0, 0, 4).Unix())

	got, err := svc.ExpiringUsers(context.Background(), time.UTC, 0)
	if err != nil {
		t.Fatalf("ExpiringUsers: %v", err)
	}
	if len(got.Today) != 1 || got.Today[0] != "today-user" {
		t.Fatalf("Today = %#v", got.Today)
	}
	if len(got.Tomorrow) != 1 || got.Tomorrow[0] != "tomorrow-user" {
		t.Fatalf("Tomorrow = %#v", got.Tomorrow)
	}
}

func TestUserDetail(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)

	if _, err := db.Exec(`INSERT INTO admins(id, username) VALUES(7, 'boss')`); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	const gb = int64(1024 * 1024 * 1024)
	if _, err := db.Exec(
		`INSERT INTO users(username, status, data_limit, used_traffic, expire, admin_id, note, online_at, sub_updated_at, sub_last_user_agent)
		 VALUES('alice', 'active', ?, ?, ?, 7, 'vip', '2024-05-01 10:00:00', '2024-04-01 10:00:00', 'V2ray 1.8')`,
		10*gb, 4*gb, time.Now().Add(24*time.Hour).Unix(),
	); err != nil {
		t.Fatalf("seed alice: %v", err)
	}

	d, err := svc.UserDetail(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("UserDetail: %v", err)
	}
	if d.AdminID != 7 || d.AdminUsername != "boss" {
		t.Fatalf("admin join failed: %+v", d)
	}
	if d.DataLimit == nil || *d.DataLimit != 10*gb {
		t.Fatalf("DataLimit = %v", d.DataLimit)
	}
	if d.RemainingBytes != 6*gb {
		t.Fatalf("RemainingBytes = %d, want %d", d.RemainingBytes, 6*gb)
	}
	if d.OnlineAt == nil || d.SubUpdatedAt == nil {
		t.Fatalf("timestamps not parsed: %+v", d)
	}
	if d.SubLastAgent != "V2ray 1.8" {
		t.Fatalf("SubLastAgent = %q", d.SubLastAgent)
	}

	if _, err := svc.UserDetail(context.Background(), "nobody", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	// Admin filter excludes other owners' users.
	if _, err := svc.UserDetail(context.Background(), "alice", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for foreign admin, got %v", err)
	}
}

func TestOutdatedSubscriptionUsers(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)

	old := time.Now().AddDate(0, 0, -60).Format("2006-01-02 15:04:05")
	fresh := time.Now().AddDate(0, 0, -1).Format("2006-01-02 15:04:05")
	insert := func(name string, subUpdated any) {
		if _, err := db.Exec(
			`INSERT INTO users(username, status, used_traffic, admin_id, sub_updated_at) VALUES(?, 'active', 0, 1, ?)`,
			name, subUpdated,
		); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	insert("stale", old)
	insert("fresh", fresh)
	insert("never", nil)

	got, err := svc.OutdatedSubscriptionUsers(context.Background(), 30, 0)
	if err != nil {
		t.Fatalf("OutdatedSubscriptionUsers: %v", err)
	}
	names := map[string]bool{}
	for _, u := range got {
		names[u.Username] = true
	}
	if !names["stale"] || !names["never"] || names["fresh"] {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestClientUsers(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)

	insert := func(name, agent string) {
		if _, err := db.Exec(
			`INSERT INTO users(username, status, used_traffic, admin_id, sub_last_user_agent) VALUES(?, 'active', 0, 1, ?)`,
			name, agent,
		); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	insert("a", "V2ray 1.8.1")
	insert("b", "v2raySomething")
	insert("c", "Streisand/3.0")

	got, err := svc.ClientUsers(context.Background(), "V2ray", 0)
	if err != nil {
		t.Fatalf("ClientUsers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d, want 2: %#v", len(got), got)
	}
}

func TestNodesAndUsernames(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)

	if _, err := db.Exec(
		`INSERT INTO nodes(id, name, status, last_status_change, message, address)
		 VALUES(1, 'de-1', 'connected', '2024-05-01 10:00:00', NULL, '10.0.0.1'),
		       (2, 'nl-1', 'error', '2024-05-02 12:30:00', 'tls handshake failed', '10.0.0.2')`,
	); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
	seedUser(t, db, "alice", "active", 0, 0, 1)
	seedUser(t, db, "bob", "disabled", 0, 0, 1)

	nodes, err := svc.Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes", len(nodes))
	}
	if nodes[1].Status != NodeError || nodes[1].Message != "tls handshake failed" {
		t.Fatalf("node row: %+v", nodes[1])
	}
	if nodes[0].LastStatusChange.IsZero() {
		t.Fatal("LastStatusChange not parsed")
	}
	if !nodes[1].Status.IsAlert() || nodes[0].Status.IsAlert() {
		t.Fatal("IsAlert misclassifies")
	}

	names, err := svc.Usernames(context.Background())
	if err != nil {
		t.Fatalf("Usernames: %v", err)
	}
	if _, ok := names["bob"]; !ok {
		t.Fatal("Usernames must include inactive users")
	}
}

func TestAdminID(t *testing.T) {
	t.Parallel()
	svc, db := openTestPanel(t)
	if _, err := db.Exec(`INSERT INTO admins(id, username) VALUES(3, 'ops')`); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	id, err := svc.AdminID(context.Background(), "ops")
	if err != nil || id != 3 {
		t.Fatalf("AdminID = %d, %v", id, err)
	}
	id, err = svc.AdminID(context.Background(), "ghost")
	if err != nil || id != 0 {
		t.Fatalf("missing admin should be (0, nil), got %d, %v", id, err)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	s := &Service{driver: "postgres"}
	got := s.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`)
	want := `SELECT a FROM t WHERE x = $1 AND y = $2`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	s2 := &Service{driver: "sqlite"}
	if got := s2.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}
