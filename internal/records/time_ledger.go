// Package records holds the two change detectors and their history ledgers.
//
// Both ledgers do "read current row, then conditionally write" without an
// explicit transaction; they must only ever be driven from the background
// task queue (concurrency 1) so there is a single writer.
package records

import (
	"context"
	"errors"
	"fmt"

	"trackbot/internal/eventbus"
	"trackbot/internal/store"
	logx "trackbot/pkg/logx"
)

type TimeOutcome int

const (
	TimeUnchanged TimeOutcome = iota
	TimeFirst
	TimeImproved
)

func (o TimeOutcome) String() string {
	switch o {
	case TimeFirst:
		return "first"
	case TimeImproved:
		return "improved"
	default:
		return "unchanged"
	}
}

type TimeResult struct {
	Outcome TimeOutcome
	// DeltaMS is the improvement (previous best - new best), only set for
	// TimeImproved.
	DeltaMS int64
}

// TimeLedger ingests freshly fetched personal bests and persists accepted
// changes: an append-only history row plus the updated current-state row.
type TimeLedger struct {
	store *store.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewTimeLedger(st *store.Store, bus eventbus.Bus, log logx.Logger) *TimeLedger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TimeLedger{store: st, bus: bus, log: log}
}

// Observe decides and persists one of three outcomes for an observed time.
//
// Comparison is strict less-than: equal times are not improvements. Feeding
// the same time twice is idempotent because "unchanged" performs no writes.
func (l *TimeLedger) Observe(ctx context.Context, player store.Player, track store.Track, timeMS int64) (TimeResult, error) {
	if timeMS <= 0 {
		return TimeResult{}, fmt.Errorf("records: invalid time %dms", timeMS)
	}

	cur, err := l.store.GetTimeRecord(ctx, player.ID, track.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := l.store.InsertTimeRecord(ctx, player.ID, track.ID, timeMS); err != nil {
			return TimeResult{}, err
		}
		l.log.Info("first time recorded",
			logx.String("player", player.DisplayName),
			logx.String("track", track.Name),
			logx.Int64("time_ms", timeMS))
		l.publish(player, track, timeMS, 0)
		return TimeResult{Outcome: TimeFirst}, nil

	case err != nil:
		return TimeResult{}, err
	}

	if timeMS >= cur.TimeMS {
		return TimeResult{Outcome: TimeUnchanged}, nil
	}

	if err := l.store.ImproveTimeRecord(ctx, player.ID, track.ID, timeMS, cur.TimeMS); err != nil {
		return TimeResult{}, err
	}
	delta := cur.TimeMS - timeMS
	l.log.Info("time improved",
		logx.String("player", player.DisplayName),
		logx.String("track", track.Name),
		logx.Int64("time_ms", timeMS),
		logx.Int64("delta_ms", delta))
	l.publish(player, track, timeMS, delta)
	return TimeResult{Outcome: TimeImproved, DeltaMS: delta}, nil
}

func (l *TimeLedger) publish(player store.Player, track store.Track, timeMS, deltaMS int64) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: eventbus.TypeRecordTime, Data: map[string]any{
		"player":   player.DisplayName,
		"track":    track.Name,
		"time_ms":  timeMS,
		"delta_ms": deltaMS,
	}})
}
