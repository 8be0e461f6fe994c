// Package poller runs the two poll-and-announce cycles.
//
// Both cycles are submitted to the background queue (concurrency 1): a tick
// that fires while the previous cycle is still running queues behind it
// instead of overlapping. Failures recover at the boundary of the unit of
// work they affect: one track, one entity, one guild. The only exception is
// an authorization failure, which invalidates the token cache and retries
// the whole cycle once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trackbot/internal/announce"
	"trackbot/internal/eventbus"
	"trackbot/internal/records"
	"trackbot/internal/store"
	"trackbot/internal/taskqueue"
	"trackbot/internal/upstream"
	logx "trackbot/pkg/logx"
)

// ErrBusy is surfaced to command handlers when the background queue is at
// capacity ("try again later").
var ErrBusy = errors.New("poller: background queue full")

const authRetries = 1

type Poller struct {
	client     *upstream.Client
	store      *store.Store
	times      *records.TimeLedger
	ranks      *records.RankLedger
	dispatcher *announce.Dispatcher
	background *taskqueue.Queue
	bus        eventbus.Bus
	log        logx.Logger
}

func New(client *upstream.Client, st *store.Store, times *records.TimeLedger,
	ranks *records.RankLedger, dispatcher *announce.Dispatcher,
	background *taskqueue.Queue, bus eventbus.Bus, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		client:     client,
		store:      st,
		times:      times,
		ranks:      ranks,
		dispatcher: dispatcher,
		background: background,
		bus:        bus,
		log:        log,
	}
}

// TriggerTimes submits a time cycle to the background queue without waiting.
func (p *Poller) TriggerTimes() error { return p.trigger("times", p.runTimeCycle) }

// TriggerRanks submits a rank cycle to the background queue without waiting.
func (p *Poller) TriggerRanks() error { return p.trigger("ranks", p.runRankCycle) }

func (p *Poller) trigger(kind string, run func(ctx context.Context) error) error {
	_, err := p.background.Submit(func(ctx context.Context) (any, error) {
		return nil, p.runWithAuthRetry(ctx, kind, run)
	})
	if errors.Is(err, taskqueue.ErrQueueFull) {
		p.log.Warn("cycle trigger rejected, queue full", logx.String("cycle", kind))
		return ErrBusy
	}
	return err
}

// runWithAuthRetry retries a full cycle once after an authorization failure
// (bounded loop, not recursion). A second failure aborts until the next tick.
func (p *Poller) runWithAuthRetry(ctx context.Context, kind string, run func(ctx context.Context) error) error {
	start := time.Now()
	p.publish(eventbus.TypeCycleStarted, kind, 0)

	var err error
	for attempt := 0; ; attempt++ {
		err = run(ctx)
		if err == nil || !upstream.IsAuthError(err) || attempt >= authRetries {
			break
		}
		p.log.Warn("authorization failure; invalidating tokens and retrying cycle",
			logx.String("cycle", kind), logx.Err(err))
		p.client.Invalidate()
	}
	if err != nil {
		p.log.Error("cycle failed", logx.String("cycle", kind), logx.Err(err),
			logx.Duration("took", time.Since(start)))
	} else {
		p.log.Info("cycle finished", logx.String("cycle", kind),
			logx.Duration("took", time.Since(start)))
	}
	p.publish(eventbus.TypeCycleFinished, kind, time.Since(start))
	return err
}

func (p *Poller) publish(typ, kind string, took time.Duration) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
		"cycle":   kind,
		"took_ms": took.Milliseconds(),
	}})
}

// refreshTracks syncs the current official campaign into the track cache and
// returns the tracked maps keyed by core map id.
func (p *Poller) refreshTracks(ctx context.Context) (map[string]store.Track, error) {
	camp, err := p.client.CurrentCampaign(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching campaign: %w", err)
	}
	uids := make([]string, 0, len(camp.Maps))
	for _, m := range camp.Maps {
		uids = append(uids, m.UID)
	}
	infos, err := p.client.MapInfos(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("fetching map infos: %w", err)
	}

	byMapID := make(map[string]store.Track, len(infos))
	for _, mi := range infos {
		if mi.UID == "" || mi.MapID == "" {
			p.log.Warn("map info missing identifiers; skipping", logx.String("name", mi.Name))
			continue
		}
		t, err := p.store.UpsertTrack(ctx, mi.UID, mi.MapID, mi.Name, mi.ThumbnailURL, camp.Name)
		if err != nil {
			return nil, err
		}
		byMapID[t.MapID] = t
	}
	return byMapID, nil
}

// fetchObservations pulls personal bests for every tracked account on every
// tracked map. Shared by both cycles; the ledgers interpret the data
// differently (value vs run timestamp).
func (p *Poller) fetchObservations(ctx context.Context) ([]upstream.MapRecord, map[string]store.Track, error) {
	tracks, err := p.refreshTracks(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(tracks) == 0 {
		return nil, nil, nil
	}
	accounts, err := p.store.DistinctAccountIDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(accounts) == 0 {
		return nil, tracks, nil
	}
	mapIDs := make([]string, 0, len(tracks))
	for id := range tracks {
		mapIDs = append(mapIDs, id)
	}
	recs, err := p.client.MapRecords(ctx, accounts, mapIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching map records: %w", err)
	}
	return recs, tracks, nil
}

func (p *Poller) runTimeCycle(ctx context.Context) error {
	recs, tracks, err := p.fetchObservations(ctx)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		track, ok := tracks[rec.MapID]
		if !ok {
			continue
		}
		if rec.AccountID == "" || rec.RecordScore.Time <= 0 {
			p.log.Warn("malformed map record; skipping",
				logx.String("map", track.Name), logx.String("account", rec.AccountID))
			continue
		}
		// Every guild binding of the account gets its own ledger entry.
		players, err := p.store.ListPlayersByAccount(ctx, rec.AccountID)
		if err != nil {
			return err
		}
		for _, pl := range players {
			if _, err := p.times.Observe(ctx, pl, track, rec.RecordScore.Time); err != nil {
				p.log.Warn("time observation failed; skipping entity",
					logx.Err(err), logx.String("player", pl.DisplayName), logx.String("track", track.Name))
			}
		}
	}

	n, err := p.dispatcher.DispatchTimes(ctx)
	if err != nil {
		return fmt.Errorf("dispatching times: %w", err)
	}
	if n > 0 {
		p.log.Info("time records announced", logx.Int("count", n))
	}
	return nil
}

func (p *Poller) runRankCycle(ctx context.Context) error {
	recs, tracks, err := p.fetchObservations(ctx)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		track, ok := tracks[rec.MapID]
		if !ok {
			continue
		}
		if rec.AccountID == "" || rec.Timestamp.IsZero() {
			p.log.Warn("malformed map record; skipping",
				logx.String("map", track.Name), logx.String("account", rec.AccountID))
			continue
		}
		players, err := p.store.ListPlayersByAccount(ctx, rec.AccountID)
		if err != nil {
			return err
		}
		for _, pl := range players {
			_, err := p.ranks.Observe(ctx, pl, track, rec.Timestamp)
			if err != nil {
				if upstream.IsAuthError(err) {
					return err
				}
				// Transient upstream or data-shape trouble: this pair is
				// skipped for the cycle, the rest continues.
				p.log.Warn("rank observation failed; skipping entity",
					logx.Err(err), logx.String("player", pl.DisplayName), logx.String("track", track.Name))
			}
		}
	}

	n, err := p.dispatcher.DispatchRanks(ctx)
	if err != nil {
		return fmt.Errorf("dispatching ranks: %w", err)
	}
	if n > 0 {
		p.log.Info("rank records announced", logx.Int("count", n))
	}
	return nil
}
