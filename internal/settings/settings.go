// Package settings is the operator-mutable configuration store. Unlike the
// process config file it is written by the bot itself (threshold changes,
// admin registry edits) as a whole-file atomic JSON rewrite.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

// Admin links a panel admin to the Telegram account that receives alerts for
// the panel users it owns.
type Admin struct {
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
}

// Settings is the persisted document.
type Settings struct {
	TrafficThresholdGB float64 `json:"traffic_threshold_gb"`
	OutdatedSubDays    int     `json:"outdated_sub_days"`
	TimeZone           string  `json:"time_zone"`
	TelegramAdminIDs   []int64 `json:"telegram_admin_ids"`
	DatabaseAdmins     []Admin `json:"database_admins"`
}

func defaults() Settings {
	return Settings{
		TrafficThresholdGB: 5,
		OutdatedSubDays:    30,
		TimeZone:           "UTC",
	}
}

// Store holds the settings document in memory and persists every mutation.
type Store struct {
	log  logx.Logger
	path string

	mu  sync.RWMutex
	cur Settings
}

// Open loads the document, applying defaults when the file is missing or a
// field is unset. A corrupt file is an error; a missing one is not.
func Open(path string, log logx.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &Store{log: log, path: path, cur: defaults()}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run. Persist defaults so operators can inspect the file.
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		var doc Settings
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("settings: parse %s: %w", path, err)
		}
		if doc.TrafficThresholdGB <= 0 {
			doc.TrafficThresholdGB = defaults().TrafficThresholdGB
		}
		if doc.OutdatedSubDays <= 0 {
			doc.OutdatedSubDays = defaults().OutdatedSubDays
		}
		if strings.TrimSpace(doc.TimeZone) == "" {
			doc.TimeZone = defaults().TimeZone
		}
		s.cur = doc
	}
	return s, nil
}

// Get returns a copy of the current document.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) TrafficThresholdGB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.TrafficThresholdGB
}

func (s *Store) SetTrafficThresholdGB(v float64) error {
	if v <= 0 {
		return errors.New("threshold must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.TrafficThresholdGB = v
	return s.saveLocked()
}

func (s *Store) OutdatedSubDays() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.OutdatedSubDays
}

func (s *Store) SetOutdatedSubDays(days int) error {
	if days <= 0 {
		return errors.New("days must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.OutdatedSubDays = days
	return s.saveLocked()
}

// Location resolves the configured display time zone, falling back to UTC
// when the zone name is unknown.
func (s *Store) Location() *time.Location {
	s.mu.RLock()
	name := s.cur.TimeZone
	s.mu.RUnlock()

	loc, err := time.LoadLocation(name)
	if err != nil {
		s.log.Warn("bad time zone, using UTC", logx.String("zone", name))
		return time.UTC
	}
	return loc
}

func (s *Store) SetTimeZone(name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return fmt.Errorf("settings: unknown time zone %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.TimeZone = name
	return s.saveLocked()
}

// Admins returns a copy of the database admin registry.
func (s *Store) Admins() []Admin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Admin, len(s.cur.DatabaseAdmins))
	copy(out, s.cur.DatabaseAdmins)
	return out
}

// AddAdmin registers a panel admin and grants its Telegram account access.
// Adding an id that already exists replaces the record.
func (s *Store) AddAdmin(a Admin) error {
	if a.ID == 0 || a.TelegramID == 0 {
		return errors.New("admin id and telegram id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, cur := range s.cur.DatabaseAdmins {
		if cur.ID == a.ID {
			s.cur.DatabaseAdmins[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		s.cur.DatabaseAdmins = append(s.cur.DatabaseAdmins, a)
	}
	s.rebuildTelegramIDsLocked()
	return s.saveLocked()
}

// RemoveAdmin drops a panel admin by id. Removing an unknown id is a no-op.
func (s *Store) RemoveAdmin(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.cur.DatabaseAdmins[:0]
	for _, a := range s.cur.DatabaseAdmins {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.cur.DatabaseAdmins = kept
	s.rebuildTelegramIDsLocked()
	return s.saveLocked()
}

// AdminByID returns the registry record for a panel admin id.
func (s *Store) AdminByID(id int64) (Admin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.cur.DatabaseAdmins {
		if a.ID == id {
			return a, true
		}
	}
	return Admin{}, false
}

// AdminByTelegramID returns the registry record for a Telegram account.
func (s *Store) AdminByTelegramID(tgID int64) (Admin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.cur.DatabaseAdmins {
		if a.TelegramID == tgID {
			return a, true
		}
	}
	return Admin{}, false
}

// IsTelegramAdmin reports whether the Telegram account is in the registry.
// The main admin is authorized separately by the router.
func (s *Store) IsTelegramAdmin(tgID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.cur.TelegramAdminIDs {
		if id == tgID {
			return true
		}
	}
	return false
}

func (s *Store) rebuildTelegramIDsLocked() {
	ids := make([]int64, 0, len(s.cur.DatabaseAdmins))
	seen := map[int64]bool{}
	for _, a := range s.cur.DatabaseAdmins {
		if a.TelegramID != 0 && !seen[a.TelegramID] {
			ids = append(ids, a.TelegramID)
			seen[a.TelegramID] = true
		}
	}
	s.cur.TelegramAdminIDs = ids
}

func (s *Store) copyLocked() Settings {
	out := s.cur
	out.TelegramAdminIDs = append([]int64(nil), s.cur.TelegramAdminIDs...)
	out.DatabaseAdmins = append([]Admin(nil), s.cur.DatabaseAdmins...)
	return out
}

// saveLocked writes the document via tmp file + rename so readers never see
// a partial write.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
