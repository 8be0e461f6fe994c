package announce

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trackbot/internal/store"
	logx "trackbot/pkg/logx"
)

type sent struct {
	channelID string
	msg       Message
}

// fakePlatform records sends and can be told to fail specific channels.
type fakePlatform struct {
	sent      []sent
	failing   map[string]error
	fallbacks map[string]string
}

func (f *fakePlatform) Send(ctx context.Context, channelID string, msg Message) error {
	if err, ok := f.failing[channelID]; ok {
		return err
	}
	f.sent = append(f.sent, sent{channelID: channelID, msg: msg})
	return nil
}

func (f *fakePlatform) FallbackChannelID(guildID string) (string, bool) {
	ch, ok := f.fallbacks[guildID]
	return ch, ok
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestDispatcher(st *store.Store, platform Platform) *Dispatcher {
	return New(Config{SendDelay: time.Millisecond}, st, platform, nil, logx.Nop())
}

// seedGuild creates a guild with both announcement channels configured.
func seedGuild(t *testing.T, st *store.Store, guildID, channel string) store.Guild {
	t.Helper()
	ctx := context.Background()
	g, err := st.EnsureGuild(ctx, guildID)
	if err != nil {
		t.Fatalf("EnsureGuild: %v", err)
	}
	for _, cat := range []string{"times", "ranks"} {
		if err := st.SetGuildChannel(ctx, guildID, cat, channel); err != nil {
			t.Fatalf("SetGuildChannel: %v", err)
		}
	}
	g, err = st.GetGuild(ctx, guildID)
	if err != nil {
		t.Fatalf("GetGuild: %v", err)
	}
	return g
}

func seedTimeRecord(t *testing.T, st *store.Store, g store.Guild, timeMS int64) store.TimeRecord {
	t.Helper()
	ctx := context.Background()
	p, err := st.UpsertPlayer(ctx, g.ID, "user-1", "acct-1", "Rider")
	if err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	tr, err := st.UpsertTrack(ctx, "uid-1", "map-1", "Fall 2026 - 01", "", "Fall 2026")
	if err != nil {
		t.Fatalf("UpsertTrack: %v", err)
	}
	if err := st.InsertTimeRecord(ctx, p.ID, tr.ID, timeMS); err != nil {
		t.Fatalf("InsertTimeRecord: %v", err)
	}
	rec, err := st.GetTimeRecord(ctx, p.ID, tr.ID)
	if err != nil {
		t.Fatalf("GetTimeRecord: %v", err)
	}
	return rec
}

func TestDispatchTimesBroadcastsToAllGuilds(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	home := seedGuild(t, st, "guild-home", "chan-home")
	seedGuild(t, st, "guild-other", "chan-other")
	seedTimeRecord(t, st, home, 52_431)

	platform := &fakePlatform{}
	d := newTestDispatcher(st, platform)
	ctx := context.Background()

	n, err := d.DispatchTimes(ctx)
	if err != nil {
		t.Fatalf("DispatchTimes: %v", err)
	}
	if n != 1 {
		t.Fatalf("announced = %d, want 1", n)
	}
	if len(platform.sent) != 2 {
		t.Fatalf("sends = %d, want one per guild", len(platform.sent))
	}
	channels := map[string]bool{}
	for _, s := range platform.sent {
		channels[s.channelID] = true
		if s.msg.Title == "" || s.msg.Description == "" {
			t.Fatalf("empty message payload: %+v", s.msg)
		}
	}
	if !channels["chan-home"] || !channels["chan-other"] {
		t.Fatalf("sent to %v, want both channels", channels)
	}
}

func TestDispatchTimesAtMostOnce(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	g := seedGuild(t, st, "guild-1", "chan-1")
	seedTimeRecord(t, st, g, 52_431)

	platform := &fakePlatform{}
	d := newTestDispatcher(st, platform)
	ctx := context.Background()

	if _, err := d.DispatchTimes(ctx); err != nil {
		t.Fatalf("first DispatchTimes: %v", err)
	}
	n, err := d.DispatchTimes(ctx)
	if err != nil {
		t.Fatalf("second DispatchTimes: %v", err)
	}
	if n != 0 || len(platform.sent) != 1 {
		t.Fatalf("second pass announced %d (total sends %d), want 0 and 1", n, len(platform.sent))
	}
}

func TestDispatchTimesAllFailedStaysDirty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	g := seedGuild(t, st, "guild-1", "chan-1")
	seedTimeRecord(t, st, g, 52_431)

	platform := &fakePlatform{failing: map[string]error{"chan-1": errors.New("gateway down")}}
	d := newTestDispatcher(st, platform)
	ctx := context.Background()

	n, err := d.DispatchTimes(ctx)
	if err != nil {
		t.Fatalf("DispatchTimes: %v", err)
	}
	if n != 0 {
		t.Fatalf("announced = %d, want 0 when every send failed", n)
	}

	// Next cycle retries and succeeds.
	platform.failing = nil
	n, err = d.DispatchTimes(ctx)
	if err != nil {
		t.Fatalf("retry DispatchTimes: %v", err)
	}
	if n != 1 || len(platform.sent) != 1 {
		t.Fatalf("retry announced %d with %d sends, want 1 and 1", n, len(platform.sent))
	}
}

func TestDispatchTimesRespectsCategoryToggle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	g := seedGuild(t, st, "guild-1", "chan-1")
	seedTimeRecord(t, st, g, 52_431)
	if err := st.SetGuildCategoryEnabled(context.Background(), "guild-1", "times", false); err != nil {
		t.Fatalf("SetGuildCategoryEnabled: %v", err)
	}

	platform := &fakePlatform{}
	d := newTestDispatcher(st, platform)

	n, err := d.DispatchTimes(context.Background())
	if err != nil {
		t.Fatalf("DispatchTimes: %v", err)
	}
	// No guild wanted it; the record is still consumed.
	if n != 1 || len(platform.sent) != 0 {
		t.Fatalf("announced %d with %d sends, want 1 and 0", n, len(platform.sent))
	}
}

func TestDispatchTimesUsesFallbackChannel(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	g, err := st.EnsureGuild(ctx, "guild-1")
	if err != nil {
		t.Fatalf("EnsureGuild: %v", err)
	}
	seedTimeRecord(t, st, g, 52_431)

	platform := &fakePlatform{fallbacks: map[string]string{"guild-1": "chan-sys"}}
	d := newTestDispatcher(st, platform)

	if _, err := d.DispatchTimes(ctx); err != nil {
		t.Fatalf("DispatchTimes: %v", err)
	}
	if len(platform.sent) != 1 || platform.sent[0].channelID != "chan-sys" {
		t.Fatalf("sends = %+v, want one to chan-sys", platform.sent)
	}
}

func seedRankRecord(t *testing.T, st *store.Store, g store.Guild, position *int) int64 {
	t.Helper()
	ctx := context.Background()
	p, err := st.UpsertPlayer(ctx, g.ID, "user-1", "acct-1", "Rider")
	if err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	tr, err := st.UpsertTrack(ctx, "uid-1", "map-1", "Fall 2026 - 01", "", "Fall 2026")
	if err != nil {
		t.Fatalf("UpsertTrack: %v", err)
	}
	id, err := st.UpsertRankRecord(ctx, p.ID, tr.ID, position, nil, time.Now())
	if err != nil {
		t.Fatalf("UpsertRankRecord: %v", err)
	}
	return id
}

func TestDispatchRanksPerGuildThreshold(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	loose := seedGuild(t, st, "guild-loose", "chan-loose")
	seedGuild(t, st, "guild-strict", "chan-strict")
	if err := st.SetGuildMinRank(ctx, "guild-strict", 10); err != nil {
		t.Fatalf("SetGuildMinRank: %v", err)
	}

	pos := 50
	recID := seedRankRecord(t, st, loose, &pos)

	platform := &fakePlatform{}
	d := newTestDispatcher(st, platform)

	n, err := d.DispatchRanks(ctx)
	if err != nil {
		t.Fatalf("DispatchRanks: %v", err)
	}
	if n != 1 {
		t.Fatalf("announced = %d, want 1", n)
	}
	if len(platform.sent) != 1 || platform.sent[0].channelID != "chan-loose" {
		t.Fatalf("sends = %+v, want only the loose guild", platform.sent)
	}

	// Status rows are garbage-collected once the record flips.
	stats, err := st.AnnounceStatuses(ctx, recID)
	if err != nil {
		t.Fatalf("AnnounceStatuses: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("status rows survived announcement: %+v", stats)
	}
}

func TestDispatchRanksSkipsPlaceholders(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	g := seedGuild(t, st, "guild-1", "chan-1")
	seedRankRecord(t, st, g, nil)

	platform := &fakePlatform{}
	d := newTestDispatcher(st, platform)

	n, err := d.DispatchRanks(context.Background())
	if err != nil {
		t.Fatalf("DispatchRanks: %v", err)
	}
	if n != 1 || len(platform.sent) != 0 {
		t.Fatalf("placeholder: announced %d with %d sends, want consumed silently", n, len(platform.sent))
	}
}

func TestDispatchRanksHonorsStatusRows(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	g := seedGuild(t, st, "guild-1", "chan-1")

	pos := 5
	recID := seedRankRecord(t, st, g, &pos)
	if err := st.UpsertAnnounceStatus(ctx, g.ID, recID, false, true); err != nil {
		t.Fatalf("UpsertAnnounceStatus: %v", err)
	}

	platform := &fakePlatform{}
	d := newTestDispatcher(st, platform)

	n, err := d.DispatchRanks(ctx)
	if err != nil {
		t.Fatalf("DispatchRanks: %v", err)
	}
	if n != 1 || len(platform.sent) != 0 {
		t.Fatalf("suppressed record: announced %d with %d sends, want 1 and 0", n, len(platform.sent))
	}
}
