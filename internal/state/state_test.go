package state

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "state.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestUserStateRoundTrip(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t) {
		ctx := context.Background()

		if _, ok, err := st.GetUserState(ctx, "alice"); err != nil || ok {
			t.Fatalf("%s: missing user should be (_, false, nil): ok=%v err=%v", driver, ok, err)
		}
		if err := st.PutUserState(ctx, UserState{UserID: "alice", Notified: true, AdminID: 7}); err != nil {
			t.Fatalf("%s: put: %v", driver, err)
		}
		got, ok, err := st.GetUserState(ctx, "alice")
		if err != nil || !ok {
			t.Fatalf("%s: get after put: ok=%v err=%v", driver, ok, err)
		}
		if !got.Notified || got.AdminID != 7 {
			t.Fatalf("%s: got %+v", driver, got)
		}

		// Upsert overwrites.
		if err := st.PutUserState(ctx, UserState{UserID: "alice", Notified: false, AdminID: 7}); err != nil {
			t.Fatalf("%s: upsert: %v", driver, err)
		}
		got, _, _ = st.GetUserState(ctx, "alice")
		if got.Notified {
			t.Fatalf("%s: upsert did not overwrite: %+v", driver, got)
		}

		if err := st.DeleteUserState(ctx, "alice"); err != nil {
			t.Fatalf("%s: delete: %v", driver, err)
		}
		if _, ok, _ := st.GetUserState(ctx, "alice"); ok {
			t.Fatalf("%s: user survived delete", driver)
		}
		// Deleting a missing user is not an error.
		if err := st.DeleteUserState(ctx, "ghost"); err != nil {
			t.Fatalf("%s: delete missing: %v", driver, err)
		}
	}
}

func TestListUserStates(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			if err := st.PutUserState(ctx, UserState{UserID: id, Notified: true}); err != nil {
				t.Fatalf("%s: put %s: %v", driver, id, err)
			}
		}
		list, err := st.ListUserStates(ctx)
		if err != nil {
			t.Fatalf("%s: list: %v", driver, err)
		}
		ids := make([]string, 0, len(list))
		for _, u := range list {
			ids = append(ids, u.UserID)
		}
		sort.Strings(ids)
		if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
			t.Fatalf("%s: list = %v", driver, ids)
		}
	}
}

func TestNodeStateRoundTrip(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t) {
		ctx := context.Background()

		if _, ok, err := st.GetNodeState(ctx, 1); err != nil || ok {
			t.Fatalf("%s: missing node should be (_, false, nil): ok=%v err=%v", driver, ok, err)
		}
		if err := st.PutNodeState(ctx, NodeState{NodeID: 1, LastStatus: "error", Notified: true}); err != nil {
			t.Fatalf("%s: put: %v", driver, err)
		}
		got, ok, err := st.GetNodeState(ctx, 1)
		if err != nil || !ok || got.LastStatus != "error" || !got.Notified {
			t.Fatalf("%s: get = %+v ok=%v err=%v", driver, got, ok, err)
		}
		if err := st.PutNodeState(ctx, NodeState{NodeID: 1, LastStatus: "connected", Notified: false}); err != nil {
			t.Fatalf("%s: upsert: %v", driver, err)
		}
		got, _, _ = st.GetNodeState(ctx, 1)
		if got.LastStatus != "connected" || got.Notified {
			t.Fatalf("%s: upsert did not overwrite: %+v", driver, got)
		}
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.PutUserState(ctx, UserState{UserID: "alice", Notified: true, AdminID: 3}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := st.PutUserState(ctx, UserState{UserID: "bob", Notified: true}); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := st.DeleteUserState(ctx, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.PutNodeState(ctx, NodeState{NodeID: 2, LastStatus: "connecting", Notified: true}); err != nil {
		t.Fatalf("put node: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, ok, err := st2.GetUserState(ctx, "alice")
	if err != nil || !ok || !got.Notified || got.AdminID != 3 {
		t.Fatalf("alice after reopen: %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := st2.GetUserState(ctx, "bob"); ok {
		t.Fatal("deleted user came back after reopen")
	}
	ns, ok, err := st2.GetNodeState(ctx, 2)
	if err != nil || !ok || ns.LastStatus != "connecting" {
		t.Fatalf("node after reopen: %+v ok=%v err=%v", ns, ok, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bolt", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("want error for unknown driver")
	}
}
