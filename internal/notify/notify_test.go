package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/internal/panel"
	"github.com/ARES11430/marzban-user-info-bot/internal/settings"
	"github.com/ARES11430/marzban-user-info-bot/internal/state"
)

// fakePanel serves canned query results.
type fakePanel struct {
	mu       sync.Mutex
	low      []panel.TrafficUser
	lowErr   error
	details  map[string]panel.UserDetail
	nodes    []panel.Node
	nodesErr error
	expiring panel.ExpiringUsers
}

func (f *fakePanel) LowTrafficUsers(ctx context.Context, thresholdBytes int64, adminID int64) ([]panel.TrafficUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lowErr != nil {
		return nil, f.lowErr
	}
	return append([]panel.TrafficUser(nil), f.low...), nil
}

func (f *fakePanel) UserDetail(ctx context.Context, username string, adminID int64) (panel.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[username]
	if !ok {
		return panel.UserDetail{}, panel.ErrNotFound
	}
	return d, nil
}

func (f *fakePanel) Usernames(ctx context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for name := range f.details {
		out[name] = struct{}{}
	}
	return out, nil
}

func (f *fakePanel) Nodes(ctx context.Context) ([]panel.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodesErr != nil {
		return nil, f.nodesErr
	}
	return append([]panel.Node(nil), f.nodes...), nil
}

func (f *fakePanel) ExpiringUsers(ctx context.Context, loc *time.Location, adminID int64) (panel.ExpiringUsers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiring, nil
}

// memStore is an in-memory state.Store.
type memStore struct {
	mu    sync.Mutex
	users map[string]state.UserState
	nodes map[int64]state.NodeState
}

func newMemStore() *memStore {
	return &memStore{users: map[string]state.UserState{}, nodes: map[int64]state.NodeState{}}
}

func (m *memStore) GetUserState(ctx context.Context, id string) (state.UserState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[id]
	return st, ok, nil
}

func (m *memStore) PutUserState(ctx context.Context, st state.UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[st.UserID] = st
	return nil
}

func (m *memStore) ListUserStates(ctx context.Context) ([]state.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]state.UserState, 0, len(m.users))
	for _, st := range m.users {
		out = append(out, st)
	}
	return out, nil
}

func (m *memStore) DeleteUserState(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *memStore) GetNodeState(ctx context.Context, id int64) (state.NodeState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.nodes[id]
	return st, ok, nil
}

func (m *memStore) PutNodeState(ctx context.Context, st state.NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[st.NodeID] = st
	return nil
}

func (m *memStore) Close() error { return nil }

// fakeSink records sends and can fail on demand.
type sentMsg struct {
	ChatID int64
	Text   string
}

type fakeSink struct {
	mu   sync.Mutex
	sent []sentMsg
	fail error
}

func (f *fakeSink) SendText(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMsg{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeSink) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSink) last() (sentMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMsg{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// fakeSettings is a fixed-knob SettingsSource.
type fakeSettings struct {
	thresholdGB float64
	admins      map[int64]settings.Admin
}

func (f *fakeSettings) TrafficThresholdGB() float64 { return f.thresholdGB }

func (f *fakeSettings) AdminByID(id int64) (settings.Admin, bool) {
	a, ok := f.admins[id]
	return a, ok
}

func (f *fakeSettings) Location() *time.Location { return time.UTC }

var errSendFailed = errors.New("telegram: send failed")
