package records

import (
	"context"
	"testing"
	"time"

	logx "trackbot/pkg/logx"
)

// fakeResolver answers position lookups from a fixed table and counts calls.
type fakeResolver struct {
	positions map[string]int // accountID -> position
	maxOffset int
	calls     int
	gotCutoff int
}

func (f *fakeResolver) PositionFor(ctx context.Context, mapUID, accountID string, cutoff int) (int, bool, error) {
	f.calls++
	f.gotCutoff = cutoff
	pos, ok := f.positions[accountID]
	if !ok || pos > cutoff {
		return 0, false, nil
	}
	return pos, true, nil
}

func (f *fakeResolver) MaxLeaderboardOffset() int {
	if f.maxOffset > 0 {
		return f.maxOffset
	}
	return 10_000
}

func TestRankLedgerRecordsNewRun(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	player, track := seedPair(t, st)
	resolver := &fakeResolver{positions: map[string]int{"acct-1": 42}}
	ledger := NewRankLedger(st, resolver, nil, logx.Nop())
	ctx := context.Background()

	res, err := ledger.Observe(ctx, player, track, time.Now())
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Outcome != RankRecorded {
		t.Fatalf("Outcome = %v, want recorded", res.Outcome)
	}
	if res.Position == nil || *res.Position != 42 {
		t.Fatalf("Position = %v, want 42", res.Position)
	}

	stats, err := st.AnnounceStatuses(ctx, res.RecordID)
	if err != nil {
		t.Fatalf("AnnounceStatuses: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("eligible record has %d status rows, want none", len(stats))
	}
}

func TestRankLedgerStaleRunRejected(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	player, track := seedPair(t, st)
	resolver := &fakeResolver{positions: map[string]int{"acct-1": 50}}
	ledger := NewRankLedger(st, resolver, nil, logx.Nop())
	ctx := context.Background()

	t1 := time.Now()
	if _, err := ledger.Observe(ctx, player, track, t1); err != nil {
		t.Fatalf("first Observe: %v", err)
	}

	// A better position on an older run must still be rejected: acceptance is
	// keyed by run recency, not by the position value.
	resolver.positions["acct-1"] = 10
	res, err := ledger.Observe(ctx, player, track, t1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("stale Observe: %v", err)
	}
	if res.Outcome != RankUnchanged {
		t.Fatalf("stale run outcome = %v, want unchanged", res.Outcome)
	}

	rec, err := st.GetRankRecord(ctx, player.ID, track.ID)
	if err != nil {
		t.Fatalf("GetRankRecord: %v", err)
	}
	if rec.Position == nil || *rec.Position != 50 {
		t.Fatalf("stored position = %v, want the original 50", rec.Position)
	}

	// Same timestamp again is a plain re-poll, also no write.
	if res, err := ledger.Observe(ctx, player, track, t1); err != nil || res.Outcome != RankUnchanged {
		t.Fatalf("re-poll = %v, %v, want unchanged", res.Outcome, err)
	}
}

func TestRankLedgerPreRegistrationPlaceholder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	player, track := seedPair(t, st)
	resolver := &fakeResolver{positions: map[string]int{"acct-1": 3}}
	ledger := NewRankLedger(st, resolver, nil, logx.Nop())
	ctx := context.Background()

	res, err := ledger.Observe(ctx, player, track, player.RegisteredAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Outcome != RankSuppressed {
		t.Fatalf("Outcome = %v, want suppressed", res.Outcome)
	}
	if resolver.calls != 0 {
		t.Fatalf("position lookup ran %d times for a pre-registration run", resolver.calls)
	}

	rec, err := st.GetRankRecord(ctx, player.ID, track.ID)
	if err != nil {
		t.Fatalf("GetRankRecord: %v", err)
	}
	if rec.Position != nil {
		t.Fatalf("placeholder has position %d, want null", *rec.Position)
	}

	stats, err := st.AnnounceStatuses(ctx, res.RecordID)
	if err != nil {
		t.Fatalf("AnnounceStatuses: %v", err)
	}
	g, err := st.GetGuild(ctx, "guild-1")
	if err != nil {
		t.Fatalf("GetGuild: %v", err)
	}
	stGuild, ok := stats[g.ID]
	if !ok || !stGuild.PredatesRegistration {
		t.Fatalf("status = %+v, want predates_registration for guild", stats)
	}
}

func TestRankLedgerThresholdCutoff(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	player, track := seedPair(t, st)
	ctx := context.Background()

	if err := st.SetGuildMinRank(ctx, "guild-1", 100); err != nil {
		t.Fatalf("SetGuildMinRank: %v", err)
	}

	resolver := &fakeResolver{positions: map[string]int{"acct-1": 250}}
	ledger := NewRankLedger(st, resolver, nil, logx.Nop())

	res, err := ledger.Observe(ctx, player, track, time.Now())
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if res.Outcome != RankRecorded {
		t.Fatalf("Outcome = %v, want recorded", res.Outcome)
	}
	if resolver.gotCutoff != 100 {
		t.Fatalf("cutoff = %d, want the guild minimum 100", resolver.gotCutoff)
	}
	// 250 is beyond the cutoff: recorded without a position and flagged
	// ineligible for every guild.
	if res.Position != nil {
		t.Fatalf("Position = %v, want nil beyond cutoff", res.Position)
	}
	stats, err := st.AnnounceStatuses(ctx, res.RecordID)
	if err != nil {
		t.Fatalf("AnnounceStatuses: %v", err)
	}
	g, err := st.GetGuild(ctx, "guild-1")
	if err != nil {
		t.Fatalf("GetGuild: %v", err)
	}
	if !stats[g.ID].Ineligible {
		t.Fatalf("status = %+v, want ineligible", stats[g.ID])
	}
}

func TestRankLedgerNewerRunReplacesPlaceholder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	player, track := seedPair(t, st)
	resolver := &fakeResolver{positions: map[string]int{"acct-1": 7}}
	ledger := NewRankLedger(st, resolver, nil, logx.Nop())
	ctx := context.Background()

	if _, err := ledger.Observe(ctx, player, track, player.RegisteredAt.Add(-time.Hour)); err != nil {
		t.Fatalf("placeholder Observe: %v", err)
	}

	res, err := ledger.Observe(ctx, player, track, player.RegisteredAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("newer Observe: %v", err)
	}
	if res.Outcome != RankRecorded || res.Position == nil || *res.Position != 7 {
		t.Fatalf("newer run = %v/%v, want recorded at 7", res.Outcome, res.Position)
	}

	hist, err := st.ListRankHistory(ctx, player.ID, track.ID)
	if err != nil {
		t.Fatalf("ListRankHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history rows = %d, want 2", len(hist))
	}
	if hist[1].PrevPosition != nil {
		t.Fatalf("prev position after placeholder = %v, want nil", hist[1].PrevPosition)
	}
}
