package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "github.com/ARES11430/marzban-user-info-bot/internal/runtime/supervisor"
	"github.com/ARES11430/marzban-user-info-bot/internal/state"
	"github.com/ARES11430/marzban-user-info-bot/pkg/logx"
)

// Service owns the tick schedules for both engines and the daily digest.
// Each engine is single-flight: a tick that fires while the previous one is
// still running is skipped, not queued.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	set SettingsSource

	users  *UserEngine
	nodes  *NodeEngine
	digest *Digest

	usersRunning singleFlight
	nodesRunning singleFlight

	c *cron.Cron

	// sup is atomic so cron jobs can reach the supervisor without taking
	// s.mu; Apply and Stop block on in-flight jobs while holding s.mu.
	sup atomic.Pointer[rtsup.Supervisor]
}

// singleFlight is a non-blocking mutex for skip-if-running semantics.
type singleFlight struct{ mu sync.Mutex }

func (f *singleFlight) tryRun(fn func()) bool {
	if !f.mu.TryLock() {
		return false
	}
	defer f.mu.Unlock()
	fn()
	return true
}

func New(cfg Config, p Panel, st state.Store, set SettingsSource, sink Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{log: log, cfg: cfg, set: set}
	s.users = NewUserEngine(p, st, set, sink, log.With(logx.String("engine", "users")))
	s.nodes = NewNodeEngine(p, st, set, sink, cfg.MainAdminID, log.With(logx.String("engine", "nodes")))
	s.digest = NewDigest(p, set, sink, func() int64 { return s.nodes.mainAdminID.Load() },
		log.With(logx.String("engine", "digest")))
	return s
}

// Apply picks up a config reload. Schedule changes restart the cron, a
// changed main admin id only swaps the alert target, and the enabled flag
// can toggle the engines off and back on without a restart.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg
	s.nodes.SetMainAdminID(cfg.MainAdminID)

	if s.sup.Load() == nil {
		return // not started; Start reads s.cfg
	}

	schedChanged := prev.UsersSchedule != cfg.UsersSchedule ||
		prev.NodesSchedule != cfg.NodesSchedule ||
		prev.DigestSchedule != cfg.DigestSchedule
	switch {
	case prev.Enabled && !cfg.Enabled:
		s.stopCronLocked()
		s.log.Info("notifications disabled")
	case !prev.Enabled && cfg.Enabled:
		s.startCronLocked()
		s.log.Info("notifications enabled")
	case cfg.Enabled && schedChanged:
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start registers the schedules and runs both engines once immediately so a
// fresh deployment alerts without waiting a full interval. The supervisor is
// created even when notifications are disabled, so a later reload can enable
// them without restarting the process.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup.Load() != nil {
		return nil
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Store(sup)

	if !s.cfg.Enabled {
		s.log.Info("notifications disabled")
		return nil
	}
	s.startCronLocked()

	sup.Go("notify.first-run", func(ctx context.Context) error {
		s.runUsersTick(ctx)
		s.runNodesTick(ctx)
		return nil
	})
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopCronLocked()
	s.mu.Unlock()

	sup := s.sup.Swap(nil)
	if sup == nil {
		return
	}
	_ = sup.Stop(ctx)
}

// startCronLocked builds the cron in the display zone so HH:MM and cron
// schedules fire in the operator's local time.
func (s *Service) startCronLocked() {
	s.c = cron.New(cron.WithLocation(s.set.Location()))
	s.addScheduleLocked("notify.users", s.cfg.UsersSchedule, "60m", s.runUsersTick)
	s.addScheduleLocked("notify.nodes", s.cfg.NodesSchedule, "15m", s.runNodesTick)
	if spec := strings.TrimSpace(s.cfg.DigestSchedule); spec != "off" {
		s.addScheduleLocked("notify.digest", spec, "0 9 * * *", s.runDigest)
	}
	s.c.Start()
	s.log.Info("notification schedules started",
		logx.String("users", s.cfg.UsersSchedule),
		logx.String("nodes", s.cfg.NodesSchedule),
		logx.String("digest", s.cfg.DigestSchedule))
}

// addScheduleLocked registers fn under the parsed schedule, falling back to
// the default when the configured one does not parse.
func (s *Service) addScheduleLocked(name, raw, fallback string, fn func(ctx context.Context)) {
	spec, err := ParseSchedule(raw)
	if err != nil {
		s.log.Error("bad schedule, using default",
			logx.String("job", name), logx.String("spec", raw), logx.Err(err))
		spec, _ = ParseSchedule(fallback)
	}
	if _, err := s.c.AddFunc(spec.CronSpec(), func() { s.spawn(name, fn) }); err != nil {
		s.log.Error("schedule rejected", logx.String("job", name), logx.Err(err))
	}
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

// spawn runs fn on the supervisor so a panicking tick cannot kill the cron
// goroutine. It must never take s.mu: stopCronLocked waits for in-flight
// cron jobs while holding it.
func (s *Service) spawn(name string, fn func(ctx context.Context)) {
	sup := s.sup.Load()
	if sup == nil {
		return
	}
	sup.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Service) runUsersTick(ctx context.Context) {
	ran := s.usersRunning.tryRun(func() {
		start := time.Now()
		if err := s.users.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("user tick failed", logx.Err(err))
			return
		}
		s.log.Debug("user tick done", logx.Duration("took", time.Since(start)))
	})
	if !ran {
		s.log.Warn("user tick still running, skipped")
	}
}

func (s *Service) runNodesTick(ctx context.Context) {
	ran := s.nodesRunning.tryRun(func() {
		start := time.Now()
		err := s.nodes.Tick(ctx)
		if err != nil {
			// A missing alert target is logged once by the engine.
			if ctx.Err() == nil && !errors.Is(err, ErrNoMainAdmin) {
				s.log.Error("node tick failed", logx.Err(err))
			}
			return
		}
		s.log.Debug("node tick done", logx.Duration("took", time.Since(start)))
	})
	if !ran {
		s.log.Warn("node tick still running, skipped")
	}
}

func (s *Service) runDigest(ctx context.Context) {
	if err := s.digest.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("expiring digest failed", logx.Err(err))
	}
}
