package records

import (
	"context"
	"errors"
	"time"

	"trackbot/internal/eventbus"
	"trackbot/internal/store"
	logx "trackbot/pkg/logx"
)

type RankOutcome int

const (
	RankUnchanged RankOutcome = iota
	RankRecorded
	RankSuppressed // run predates registration; placeholder written
)

func (o RankOutcome) String() string {
	switch o {
	case RankRecorded:
		return "recorded"
	case RankSuppressed:
		return "suppressed"
	default:
		return "unchanged"
	}
}

type RankResult struct {
	Outcome  RankOutcome
	RecordID int64
	Position *int // nil when unresolved (placeholder or beyond cutoff)
}

// PositionResolver is the slice of the upstream client the rank ledger needs.
type PositionResolver interface {
	PositionFor(ctx context.Context, mapUID, accountID string, cutoff int) (int, bool, error)
	MaxLeaderboardOffset() int
}

// RankLedger ingests leaderboard runs keyed by their server-supplied run
// timestamp and maintains per-guild announcement eligibility alongside the
// record itself.
type RankLedger struct {
	store    *store.Store
	resolver PositionResolver
	bus      eventbus.Bus
	log      logx.Logger
}

func NewRankLedger(st *store.Store, resolver PositionResolver, bus eventbus.Bus, log logx.Logger) *RankLedger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RankLedger{store: st, resolver: resolver, bus: bus, log: log}
}

// Observe processes one observed run for a (player, track) pair.
//
// Acceptance is keyed by the run timestamp, not by the position value: an
// update is taken only when the incoming run is strictly newer than the
// stored one (or no row exists). Repeated polls and out-of-order stale runs
// are both rejected without writes.
func (l *RankLedger) Observe(ctx context.Context, player store.Player, track store.Track, runAt time.Time) (RankResult, error) {
	var prevPos *int
	cur, err := l.store.GetRankRecord(ctx, player.ID, track.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// first observation
	case err != nil:
		return RankResult{}, err
	default:
		if !runAt.After(cur.RunAt) {
			return RankResult{Outcome: RankUnchanged}, nil
		}
		prevPos = cur.Position
	}

	guilds, err := l.store.ListGuilds(ctx)
	if err != nil {
		return RankResult{}, err
	}

	// Pre-registration suppression: the run is not a "new" achievement for
	// anybody if it predates this binding. Skip the position lookup entirely
	// and write a placeholder so re-polls stay idempotent.
	if runAt.Before(player.RegisteredAt) {
		id, err := l.store.UpsertRankRecord(ctx, player.ID, track.ID, nil, prevPos, runAt)
		if err != nil {
			return RankResult{}, err
		}
		for _, g := range guilds {
			if err := l.store.UpsertAnnounceStatus(ctx, g.ID, id, false, true); err != nil {
				return RankResult{}, err
			}
		}
		l.log.Debug("rank run predates registration; suppressed",
			logx.String("player", player.DisplayName),
			logx.String("track", track.Name),
			logx.Time("run_at", runAt),
			logx.Time("registered_at", player.RegisteredAt))
		return RankResult{Outcome: RankSuppressed, RecordID: id}, nil
	}

	// Threshold-aware fetch: paginate only as far as the most restrictive
	// guild threshold. A rank beyond that can't be announced anywhere, so
	// further pages would be wasted calls.
	cutoff := l.resolver.MaxLeaderboardOffset()
	if globalMin, ok, err := l.store.MinRankAcrossGuilds(ctx); err != nil {
		return RankResult{}, err
	} else if ok && globalMin > 0 && globalMin < cutoff {
		cutoff = globalMin
	}

	pos, found, err := l.resolver.PositionFor(ctx, track.UID, player.AccountID, cutoff)
	if err != nil {
		return RankResult{}, err
	}

	var posPtr *int
	if found {
		posPtr = &pos
	}
	id, err := l.store.UpsertRankRecord(ctx, player.ID, track.ID, posPtr, prevPos, runAt)
	if err != nil {
		return RankResult{}, err
	}

	if !found || pos > cutoff {
		// Beyond even the loosest-common threshold: ineligible everywhere,
		// recorded anyway so the ledger stays consistent.
		for _, g := range guilds {
			if err := l.store.UpsertAnnounceStatus(ctx, g.ID, id, true, false); err != nil {
				return RankResult{}, err
			}
		}
		l.log.Debug("rank beyond global threshold",
			logx.String("player", player.DisplayName),
			logx.String("track", track.Name),
			logx.Int("cutoff", cutoff),
			logx.Bool("found", found))
		return RankResult{Outcome: RankRecorded, RecordID: id, Position: posPtr}, nil
	}

	l.log.Info("rank recorded",
		logx.String("player", player.DisplayName),
		logx.String("track", track.Name),
		logx.Int("position", pos),
		logx.Time("run_at", runAt))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeRecordRank, Data: map[string]any{
			"player":   player.DisplayName,
			"track":    track.Name,
			"position": pos,
		}})
	}
	return RankResult{Outcome: RankRecorded, RecordID: id, Position: posPtr}, nil
}
