// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trackbot/internal/announce"
	"trackbot/internal/config"
	"trackbot/internal/discord"
	"trackbot/internal/eventbus"
	"trackbot/internal/poller"
	"trackbot/internal/records"
	"trackbot/internal/scheduler"
	"trackbot/internal/store"
	"trackbot/internal/taskqueue"
	"trackbot/internal/upstream"
	logx "trackbot/pkg/logx"
)

const stopTimeout = 5 * time.Second

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *store.Store

	apiQueue *taskqueue.Queue
	cmdQueue *taskqueue.Queue
	bgQueue  *taskqueue.Queue

	client *upstream.Client
	poll   *poller.Poller
	sched  *scheduler.Service
	bot    *discord.Bot

	// intervals is the currently applied trigger schedule; owner commands
	// and config reloads both route through it.
	imu       sync.Mutex
	intervals map[string]time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	queues := cfg.Queues.Effective()
	apiQueue := taskqueue.New("api", 1, queues.APIBacklog, log)
	cmdQueue := taskqueue.New("commands", queues.CommandWorkers, queues.CommandBacklog, log)
	bgQueue := taskqueue.New("background", 1, queues.BackgroundBacklog, log)

	minInterval, err := config.ParseDurationOrDefault("upstream.min_request_interval", cfg.Upstream.MinRequestInterval, 0)
	if err != nil {
		return nil, err
	}
	client := upstream.New(upstream.Config{
		Login:                cfg.Upstream.Login,
		Password:             cfg.Upstream.Password,
		AuthBaseURL:          cfg.Upstream.AuthBaseURL,
		CoreBaseURL:          cfg.Upstream.CoreBaseURL,
		LiveBaseURL:          cfg.Upstream.LiveBaseURL,
		MinRequestInterval:   minInterval,
		MaxLeaderboardOffset: cfg.Upstream.MaxLeaderboardOffset,
	}, apiQueue, log.With(logx.String("comp", "upstream")))

	timeLedger := records.NewTimeLedger(st, bus, log.With(logx.String("comp", "records")))
	rankLedger := records.NewRankLedger(st, client, bus, log.With(logx.String("comp", "records")))

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    st,
		apiQueue: apiQueue,
		cmdQueue: cmdQueue,
		bgQueue:  bgQueue,
		client:   client,
	}

	bot, err := discord.New(discord.Config{
		Token:        cfg.Discord.Token,
		OwnerUserIDs: cfg.Discord.OwnerUserIDs,
	}, st, client, cmdQueue, a.setInterval, log.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}
	a.bot = bot

	sendDelay, err := config.ParseDurationOrDefault("discord.send_delay", cfg.Discord.SendDelay, time.Second)
	if err != nil {
		return nil, err
	}
	dispatcher := announce.New(announce.Config{SendDelay: sendDelay},
		st, bot, bus, log.With(logx.String("comp", "announce")))

	a.poll = poller.New(client, st, timeLedger, rankLedger, dispatcher,
		bgQueue, bus, log.With(logx.String("comp", "poller")))
	bot.SetPoller(a.poll)

	bootDelay, err := config.ParseDurationOrDefault("poller.boot_delay", cfg.Poller.BootDelay, time.Minute)
	if err != nil {
		return nil, err
	}
	a.intervals = pollIntervals(cfg)
	a.sched = scheduler.New(scheduler.Config{
		// Fresh map: the scheduler keeps its config for change detection,
		// so it must not alias the mutable copy above.
		Intervals: pollIntervals(cfg),
		BootDelay: bootDelay,
	}, log.With(logx.String("comp", "scheduler")))
	if err := a.sched.Register("times", a.poll.TriggerTimes); err != nil {
		return nil, err
	}
	if err := a.sched.Register("ranks", a.poll.TriggerRanks); err != nil {
		return nil, err
	}

	return a, nil
}

func pollIntervals(cfg *config.Config) map[string]time.Duration {
	return map[string]time.Duration{
		"times": time.Duration(cfg.Poller.TimeIntervalMinutes) * time.Minute,
		"ranks": time.Duration(cfg.Poller.RankIntervalMinutes) * time.Minute,
	}
}

// setInterval serves the owner-only /interval command. The change is applied
// live and not written back to the config file.
func (a *App) setInterval(kind string, every time.Duration) error {
	if kind != "times" && kind != "ranks" {
		return fmt.Errorf("unknown cycle %q", kind)
	}
	if every <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	a.applyIntervals(func(cur map[string]time.Duration) {
		cur[kind] = every
	})
	a.log.Info("poll interval changed",
		logx.String("cycle", kind), logx.Duration("every", every))
	return nil
}

func (a *App) applyIntervals(mutate func(cur map[string]time.Duration)) {
	a.imu.Lock()
	mutate(a.intervals)
	snapshot := make(map[string]time.Duration, len(a.intervals))
	for k, v := range a.intervals {
		snapshot[k] = v
	}
	a.imu.Unlock()
	a.sched.Apply(scheduler.Config{Intervals: snapshot})
}

func (a *App) Start(ctx context.Context) error {
	a.apiQueue.Start(ctx)
	a.cmdQueue.Start(ctx)
	a.bgQueue.Start(ctx)

	if err := a.bot.Start(ctx); err != nil {
		return err
	}
	a.sched.Start(ctx)

	go a.watchConfig(ctx)
	go a.logEvents(ctx)

	a.log.Info("started")
	return nil
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	a.sched.Stop(ctx)
	a.bgQueue.Stop(ctx)
	a.cmdQueue.Stop(ctx)
	a.apiQueue.Stop(ctx)

	if err := a.bot.Stop(ctx); err != nil {
		a.log.Warn("closing gateway", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
}

// watchConfig hot-reloads the config file: logging and poll intervals apply
// live, everything else takes effect on restart.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			fromFile := pollIntervals(cfg)
			a.applyIntervals(func(cur map[string]time.Duration) {
				for k, v := range fromFile {
					cur[k] = v
				}
			})
			a.log.Info("config reloaded")
		}
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}
