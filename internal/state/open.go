package state

import (
	"context"
	"errors"
	"strings"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

// Store is the persistence API used by the notification engines.
// All writes are upserts keyed by the record's id; last writer wins.
type Store interface {
	GetUserState(ctx context.Context, userID string) (UserState, bool, error)
	PutUserState(ctx context.Context, s UserState) error
	ListUserStates(ctx context.Context) ([]UserState, error)
	DeleteUserState(ctx context.Context, userID string) error

	GetNodeState(ctx context.Context, nodeID int64) (NodeState, bool, error)
	PutNodeState(ctx context.Context, s NodeState) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown state driver: " + driver)
	}
}
