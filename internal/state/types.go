package state

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("state store closed")

// Config configures the notification state store.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// UserState tracks whether a user has already been notified about low
// remaining traffic. One record per user; absence means never notified.
type UserState struct {
	UserID   string `json:"user_id"`
	Notified bool   `json:"notified"`
	AdminID  int64  `json:"admin_id"`
}

// NodeState tracks the last observed node status and whether an alert for it
// has been sent. One record per node; absence means never seen.
type NodeState struct {
	NodeID     int64  `json:"node_id"`
	LastStatus string `json:"last_status"`
	Notified   bool   `json:"notified"`
}
