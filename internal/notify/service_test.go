package notify

import (
	"context"
	"testing"
	"time"

	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

func newTestService() (*Service, *fakeSink) {
	p := &fakePanel{}
	sink := &fakeSink{}
	set := &fakeSettings{thresholdGB: 5}
	cfg := Config{
		Enabled:        true,
		MainAdminID:    555,
		UsersSchedule:  "60m",
		NodesSchedule:  "15m",
		DigestSchedule: "off",
	}
	return New(cfg, p, newMemStore(), set, sink, logx.Nop()), sink
}

func cronRunning(s *Service) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func TestApplyTogglesEnabled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestService()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if !cronRunning(s) {
		t.Fatal("schedules not running after Start")
	}

	off := s.cfg
	off.Enabled = false
	s.Apply(off)
	if cronRunning(s) {
		t.Fatal("schedules still running after disable")
	}

	on := off
	on.Enabled = true
	s.Apply(on)
	if !cronRunning(s) {
		t.Fatal("schedules not running after re-enable")
	}
}

func TestApplyEnablesServiceStartedDisabled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestService()
	off := s.cfg
	off.Enabled = false
	s.Apply(off)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if cronRunning(s) {
		t.Fatal("schedules running while disabled")
	}

	on := off
	on.Enabled = true
	s.Apply(on)
	if !cronRunning(s) {
		t.Fatal("schedules not running after enabling via reload")
	}
}

func TestApplyBeforeStartOnlyRecordsConfig(t *testing.T) {
	t.Parallel()

	s, _ := newTestService()
	on := s.cfg
	on.UsersSchedule = "30m"
	s.Apply(on)

	if cronRunning(s) {
		t.Fatal("schedules running before Start")
	}
	if s.cfg.UsersSchedule != "30m" {
		t.Fatalf("config not recorded: %q", s.cfg.UsersSchedule)
	}
}

// A cron job fires as s.spawn while a reload or shutdown holds s.mu waiting
// for in-flight jobs; spawn must complete without the mutex or both sides
// hang forever.
func TestSpawnRunsWhileServiceMutexHeld(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestService()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	s.mu.Lock()
	ran := make(chan struct{})
	go s.spawn("tick", func(context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		s.mu.Unlock()
		t.Fatal("spawned tick blocked on the service mutex")
	}
	s.mu.Unlock()
}
