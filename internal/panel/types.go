package panel

import (
	"errors"
	"time"
)

// ErrNotFound is returned by UserDetail when no row matches (either the user
// does not exist or the caller's admin filter excludes it).
var ErrNotFound = errors.New("panel: user not found")

const bytesPerGB = 1024 * 1024 * 1024

// GBToBytes converts a threshold expressed in gigabytes to bytes.
func GBToBytes(gb float64) int64 { return int64(gb * bytesPerGB) }

// BytesToGB converts a byte count to gigabytes.
func BytesToGB(b int64) float64 { return float64(b) / bytesPerGB }

// TrafficUser is a user below the traffic threshold.
type TrafficUser struct {
	Username       string
	RemainingBytes int64
}

// RemainingGB is the remaining traffic in gigabytes.
func (u TrafficUser) RemainingGB() float64 { return BytesToGB(u.RemainingBytes) }

// UserDetail is a single user's record joined with the owning admin.
type UserDetail struct {
	Username       string
	Status         string
	DataLimit      *int64 // nil means unlimited
	UsedTraffic    int64
	AdminID        int64
	AdminUsername  string
	Note           string
	ExpireAt       *time.Time
	OnlineAt       *time.Time
	SubUpdatedAt   *time.Time
	SubLastAgent   string
	RemainingBytes int64 // 0 when DataLimit is nil
}

// ExpiringUsers groups usernames by expiry day in the display time zone.
type ExpiringUsers struct {
	Today    []string
	Tomorrow []string
}

// SubscriptionUser is a user whose subscription link has not been refreshed recently.
type SubscriptionUser struct {
	Username     string
	SubUpdatedAt *time.Time // nil means never updated
}

// ClientUser maps a username to the client application it last used.
type ClientUser struct {
	Username string
	Client   string
}

// NodeStatus is the panel's node health state.
type NodeStatus string

const (
	NodeConnected  NodeStatus = "connected"
	NodeConnecting NodeStatus = "connecting"
	NodeError      NodeStatus = "error"
	NodeDisabled   NodeStatus = "disabled"
)

// IsAlert reports whether the status is a degraded state worth alerting on.
func (s NodeStatus) IsAlert() bool { return s == NodeError || s == NodeConnecting }

// Node is one node health row.
type Node struct {
	ID               int64
	Name             string
	Status           NodeStatus
	LastStatusChange time.Time
	Message          string
	Address          string
}

// KnownClients are the client applications the per-client query recognizes.
var KnownClients = []string{"V2ray", "V2box", "Streisand", "Nekoray"}
