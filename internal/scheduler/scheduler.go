// Package scheduler drives the periodic poll cycles with robfig/cron.
//
// Jobs here are cheap: each tick only submits a cycle to the background
// queue, so there is no worker pool. If a previous cycle is still running
// the submission queues behind it, and a full queue is logged and dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "trackbot/pkg/logx"
)

type Config struct {
	// Intervals per trigger name. Zero or negative disables the trigger.
	Intervals map[string]time.Duration
	// BootDelay fires every trigger once shortly after Start so a restart
	// does not wait a full interval for the first cycle.
	BootDelay time.Duration
}

// Job is a trigger body. Errors are logged, never retried; the next tick is
// the retry.
type Job func() error

type def struct {
	name  string
	entry cron.EntryID
	job   Job
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	c    *cron.Cron
	defs map[string]*def

	bootTimer *time.Timer
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, defs: map[string]*def{}}
}

// Register declares a named trigger. Must be called before Start; the
// interval comes from config at Start/Apply time.
func (s *Service) Register(name string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler: register after start")
	}
	if _, ok := s.defs[name]; ok {
		return fmt.Errorf("scheduler: duplicate trigger %q", name)
	}
	s.defs[name] = &def{name: name, job: job}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New()
	for _, d := range s.defs {
		s.scheduleLocked(d, s.cfg.Intervals[d.name])
	}
	s.c.Start()

	if s.cfg.BootDelay > 0 {
		s.bootTimer = time.AfterFunc(s.cfg.BootDelay, s.fireAll)
	}
	s.log.Info("scheduler started",
		logx.Int("triggers", len(s.defs)),
		logx.Duration("boot_delay", s.cfg.BootDelay))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	if s.bootTimer != nil {
		s.bootTimer.Stop()
		s.bootTimer = nil
	}
	stopCtx := s.c.Stop()
	s.c = nil
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply reschedules triggers whose interval changed. Unknown names in the
// new config are ignored; triggers missing from it are disabled.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	for name, d := range s.defs {
		if old.Intervals[name] == cfg.Intervals[name] {
			continue
		}
		if d.entry != 0 {
			s.c.Remove(d.entry)
			d.entry = 0
		}
		s.scheduleLocked(d, cfg.Intervals[name])
	}
}

func (s *Service) scheduleLocked(d *def, every time.Duration) {
	if every <= 0 {
		s.log.Warn("trigger disabled", logx.String("trigger", d.name))
		return
	}
	id, err := s.c.AddFunc(fmt.Sprintf("@every %s", every), func() { s.run(d) })
	if err != nil {
		// "@every <duration>" never fails to parse for positive durations.
		s.log.Error("registering trigger", logx.String("trigger", d.name), logx.Err(err))
		return
	}
	d.entry = id
	s.log.Info("trigger scheduled",
		logx.String("trigger", d.name), logx.Duration("every", every))
}

func (s *Service) run(d *def) {
	if err := d.job(); err != nil {
		s.log.Warn("trigger failed", logx.String("trigger", d.name), logx.Err(err))
	}
}

func (s *Service) fireAll() {
	s.mu.Lock()
	defs := make([]*def, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	s.mu.Unlock()
	for _, d := range defs {
		s.run(d)
	}
}
