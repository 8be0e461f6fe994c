package store

import "time"

// Guild is a subscriber scope (one Discord server). Created lazily on first
// configuration write; never hard-deleted by this core.
type Guild struct {
	ID             int64
	GuildID        string
	TimesChannelID string
	RanksChannelID string
	MinRank        int
	TimesEnabled   bool
	RanksEnabled   bool
	Locale         string
	CreatedAt      time.Time
}

// Player binds a Discord user to an upstream account id, scoped to exactly
// one guild. The same account may be bound independently in several guilds;
// each binding is a distinct Player row.
type Player struct {
	ID           int64
	GuildRowID   int64
	UserID       string
	AccountID    string
	DisplayName  string
	RegisteredAt time.Time
}

// Track is cached metadata for an upstream map, shared across guilds.
type Track struct {
	ID           int64
	UID          string
	MapID        string
	Name         string
	ThumbnailURL string
	Campaign     string
	UpdatedAt    time.Time
}

// TimeRecord is the current best-known time for a (player, track) pair.
type TimeRecord struct {
	ID         int64
	PlayerID   int64
	TrackID    int64
	TimeMS     int64
	Announced  bool
	DetectedAt time.Time
}

type TimeHistory struct {
	ID         int64
	PlayerID   int64
	TrackID    int64
	TimeMS     int64
	PrevTimeMS *int64
	RecordedAt time.Time
}

// RankRecord is the latest known leaderboard position for a (player, track)
// pair. Position is nil for pre-registration placeholders.
type RankRecord struct {
	ID         int64
	PlayerID   int64
	TrackID    int64
	Position   *int
	RunAt      time.Time
	Announced  bool
	DetectedAt time.Time
}

type RankHistory struct {
	ID           int64
	PlayerID     int64
	TrackID      int64
	Position     *int
	PrevPosition *int
	RunAt        time.Time
	RecordedAt   time.Time
}

// AnnounceStatus is a sparse per-guild filter for one rank record.
// Absence of a row means "eligible by default".
type AnnounceStatus struct {
	GuildRowID           int64
	RankRecordID         int64
	Ineligible           bool
	PredatesRegistration bool
}

// TimeRecordRow joins a dirty time record with its player and track for the
// dispatcher (one query, no per-guild re-fetch).
type TimeRecordRow struct {
	Record TimeRecord
	Player Player
	Track  Track
}

type RankRecordRow struct {
	Record RankRecord
	Player Player
	Track  Track
}
