package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetUserState(ctx context.Context, userID string) (UserState, bool, error) {
	var st UserState
	var notified int
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, notified, admin_id FROM user_state WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &notified, &st.AdminID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserState{}, false, nil
	}
	if err != nil {
		return UserState{}, false, err
	}
	st.Notified = notified != 0
	return st, true, nil
}

func (s *sqliteStore) PutUserState(ctx context.Context, st UserState) error {
	if strings.TrimSpace(st.UserID) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_state(user_id, notified, admin_id) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET notified=excluded.notified, admin_id=excluded.admin_id`,
		st.UserID, boolToInt(st.Notified), st.AdminID,
	)
	return err
}

func (s *sqliteStore) ListUserStates(ctx context.Context) ([]UserState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, notified, admin_id FROM user_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserState
	for rows.Next() {
		var st UserState
		var notified int
		if err := rows.Scan(&st.UserID, &notified, &st.AdminID); err != nil {
			return nil, err
		}
		st.Notified = notified != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteUserState(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_state WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) GetNodeState(ctx context.Context, nodeID int64) (NodeState, bool, error) {
	var st NodeState
	var notified int
	err := s.db.QueryRowContext(ctx,
		`SELECT node_id, last_status, notified FROM node_state WHERE node_id = ?`, nodeID,
	).Scan(&st.NodeID, &st.LastStatus, &notified)
	if errors.Is(err, sql.ErrNoRows) {
		return NodeState{}, false, nil
	}
	if err != nil {
		return NodeState{}, false, err
	}
	st.Notified = notified != 0
	return st, true, nil
}

func (s *sqliteStore) PutNodeState(ctx context.Context, st NodeState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_state(node_id, last_status, notified) VALUES(?,?,?)
		 ON CONFLICT(node_id) DO UPDATE SET last_status=excluded.last_status, notified=excluded.notified`,
		st.NodeID, st.LastStatus, boolToInt(st.Notified),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
