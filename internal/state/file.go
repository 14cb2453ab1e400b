package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of both maps)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	users map[string]UserState
	nodes map[int64]NodeState

	writes int
}

// journalRecord is one journal line. Exactly one of the payload pointers is
// set; Delete marks a user-state removal.
type journalRecord struct {
	User   *UserState `json:"user,omitempty"`
	Node   *NodeState `json:"node,omitempty"`
	Delete string     `json:"delete,omitempty"`
}

type snapshot struct {
	Users []UserState `json:"users"`
	Nodes []NodeState `json:"nodes"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		users:        map[string]UserState{},
		nodes:        map[int64]NodeState{},
	}
	_ = st.loadSnapshot(snapPath)
	_ = st.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Snapshot on close so the journal stays short across restarts.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("state compact on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) GetUserState(ctx context.Context, userID string) (UserState, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[userID]
	return st, ok, nil
}

func (s *fileStore) PutUserState(ctx context.Context, st UserState) error {
	_ = ctx
	if strings.TrimSpace(st.UserID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[st.UserID] = st
	return s.appendLocked(journalRecord{User: &st})
}

func (s *fileStore) ListUserStates(ctx context.Context) ([]UserState, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserState, 0, len(s.users))
	for _, st := range s.users {
		out = append(out, st)
	}
	return out, nil
}

func (s *fileStore) DeleteUserState(ctx context.Context, userID string) error {
	_ = ctx
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil
	}
	delete(s.users, userID)
	return s.appendLocked(journalRecord{Delete: userID})
}

func (s *fileStore) GetNodeState(ctx context.Context, nodeID int64) (NodeState, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.nodes[nodeID]
	return st, ok, nil
}

func (s *fileStore) PutNodeState(ctx context.Context, st NodeState) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[st.NodeID] = st
	return s.appendLocked(journalRecord{Node: &st})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{
		Users: make([]UserState, 0, len(s.users)),
		Nodes: make([]NodeState, 0, len(s.nodes)),
	}
	for _, st := range s.users {
		snap.Users = append(snap.Users, st)
	}
	for _, st := range s.nodes {
		snap.Nodes = append(snap.Nodes, st)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, st := range snap.Users {
		s.users[st.UserID] = st
	}
	for _, st := range snap.Nodes {
		s.nodes[st.NodeID] = st
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch {
		case r.User != nil && r.User.UserID != "":
			s.users[r.User.UserID] = *r.User
		case r.Node != nil:
			s.nodes[r.Node.NodeID] = *r.Node
		case r.Delete != "":
			delete(s.users, r.Delete)
		}
	}
	return sc.Err()
}
