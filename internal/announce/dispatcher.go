// Package announce fans detected records out to subscriber guilds.
//
// Delivery contract: every unannounced record is offered to every guild
// (shared-broadcast semantics, gated only by per-guild channel config,
// category toggles and thresholds). The record-global announced flag flips
// only after the full guild pass, trading a possible duplicate-on-crash for
// never silently skipping a guild.
package announce

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"trackbot/internal/eventbus"
	"trackbot/internal/store"
	logx "trackbot/pkg/logx"
)

// Platform is the chat-platform collaborator boundary: it owns message
// transmission and channel fallback resolution.
type Platform interface {
	Send(ctx context.Context, channelID string, msg Message) error
	// FallbackChannelID resolves a best-effort channel for guilds with no
	// explicit configuration. ok=false skips the guild for this record.
	FallbackChannelID(guildID string) (string, bool)
}

type Config struct {
	// SendDelay is the fixed pause between sends, respecting the platform's
	// own rate limits.
	SendDelay time.Duration
}

type Dispatcher struct {
	store    *store.Store
	platform Platform
	limiter  *rate.Limiter
	bus      eventbus.Bus
	log      logx.Logger
}

func New(cfg Config, st *store.Store, platform Platform, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:    st,
		platform: platform,
		limiter:  rate.NewLimiter(rate.Every(cfg.SendDelay), 1),
		bus:      bus,
		log:      log,
	}
}

// DispatchTimes delivers all unannounced time records. Records are processed
// oldest-first. Returns the number of records marked announced.
func (d *Dispatcher) DispatchTimes(ctx context.Context) (int, error) {
	rows, err := d.store.ListUnannouncedTimeRecords(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	guilds, err := d.store.ListGuilds(ctx)
	if err != nil {
		return 0, err
	}

	announced := 0
	for _, row := range rows {
		prev, err := d.store.PrevBestTime(ctx, row.Record.PlayerID, row.Record.TrackID)
		if err != nil {
			d.log.Warn("prev best lookup failed", logx.Err(err), logx.Int64("record", row.Record.ID))
			prev = nil
		}
		msg := renderTime(row, prev)

		attempted, failed := 0, 0
		for _, g := range guilds {
			if !g.TimesEnabled {
				continue
			}
			ch, ok := d.resolveChannel(g, g.TimesChannelID)
			if !ok {
				continue
			}
			attempted++
			if err := d.send(ctx, ch, msg); err != nil {
				failed++
				d.log.Warn("time announcement failed",
					logx.Err(err),
					logx.String("guild", g.GuildID),
					logx.Int64("record", row.Record.ID))
			}
		}

		if attempted > 0 && failed == attempted {
			// Nothing got through; leave the record dirty so the next cycle
			// retries instead of losing it.
			continue
		}
		if err := d.store.MarkTimeAnnounced(ctx, row.Record.ID); err != nil {
			return announced, err
		}
		announced++
		d.publishAnnounced("time", row.Record.ID, attempted-failed)
	}
	return announced, nil
}

// DispatchRanks delivers all unannounced rank records, applying the sparse
// per-guild status filters and a per-guild threshold re-check.
func (d *Dispatcher) DispatchRanks(ctx context.Context) (int, error) {
	rows, err := d.store.ListUnannouncedRankRecords(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	guilds, err := d.store.ListGuilds(ctx)
	if err != nil {
		return 0, err
	}

	announced := 0
	for _, row := range rows {
		statuses, err := d.store.AnnounceStatuses(ctx, row.Record.ID)
		if err != nil {
			return announced, err
		}
		msg := renderRank(row)

		attempted, failed := 0, 0
		for _, g := range guilds {
			if !g.RanksEnabled {
				continue
			}
			if st, ok := statuses[g.ID]; ok && (st.Ineligible || st.PredatesRegistration) {
				continue
			}
			// Placeholder rows (no resolved position) are never deliverable;
			// they exist only to keep re-polls idempotent.
			if row.Record.Position == nil {
				continue
			}
			// Per-guild threshold re-check: the fetch cutoff was the most
			// restrictive threshold at observation time, but guild settings
			// may have changed since the record was written.
			if *row.Record.Position > g.MinRank {
				if err := d.store.UpsertAnnounceStatus(ctx, g.ID, row.Record.ID, true, false); err != nil {
					return announced, err
				}
				continue
			}
			ch, ok := d.resolveChannel(g, g.RanksChannelID)
			if !ok {
				continue
			}
			attempted++
			if err := d.send(ctx, ch, msg); err != nil {
				failed++
				d.log.Warn("rank announcement failed",
					logx.Err(err),
					logx.String("guild", g.GuildID),
					logx.Int64("record", row.Record.ID))
			}
		}

		if attempted > 0 && failed == attempted {
			continue
		}
		// Flipping also garbage-collects the status rows for this record.
		if err := d.store.MarkRankAnnounced(ctx, row.Record.ID); err != nil {
			return announced, err
		}
		announced++
		d.publishAnnounced("rank", row.Record.ID, attempted-failed)
	}
	return announced, nil
}

func (d *Dispatcher) resolveChannel(g store.Guild, explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	return d.platform.FallbackChannelID(g.GuildID)
}

func (d *Dispatcher) send(ctx context.Context, channelID string, msg Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.platform.Send(ctx, channelID, msg)
}

func (d *Dispatcher) publishAnnounced(kind string, recordID int64, delivered int) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeAnnounced, Data: map[string]any{
		"kind":      kind,
		"record_id": recordID,
		"delivered": delivered,
	}})
}
