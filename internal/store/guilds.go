package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const guildCols = `id, guild_id, times_channel_id, ranks_channel_id, min_rank,
	times_enabled, ranks_enabled, locale, created_at`

func scanGuild(row interface{ Scan(...any) error }) (Guild, error) {
	var g Guild
	var timesEn, ranksEn int
	var createdMS int64
	err := row.Scan(&g.ID, &g.GuildID, &g.TimesChannelID, &g.RanksChannelID,
		&g.MinRank, &timesEn, &ranksEn, &g.Locale, &createdMS)
	if err != nil {
		return Guild{}, err
	}
	g.TimesEnabled = timesEn != 0
	g.RanksEnabled = ranksEn != 0
	g.CreatedAt = msToTime(createdMS)
	return g, nil
}

// EnsureGuild creates the guild row with defaults if it does not exist yet
// (lazy creation on first configuration write) and returns it.
func (s *Store) EnsureGuild(ctx context.Context, guildID string) (Guild, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guilds(guild_id, created_at) VALUES(?, ?)
		 ON CONFLICT(guild_id) DO NOTHING`,
		guildID, time.Now().UnixMilli())
	if err != nil {
		return Guild{}, err
	}
	return s.GetGuild(ctx, guildID)
}

func (s *Store) GetGuild(ctx context.Context, guildID string) (Guild, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+guildCols+` FROM guilds WHERE guild_id = ?`, guildID)
	g, err := scanGuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Guild{}, ErrNotFound
	}
	return g, err
}

func (s *Store) ListGuilds(ctx context.Context) ([]Guild, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+guildCols+` FROM guilds ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Guild
	for rows.Next() {
		g, err := scanGuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetGuildChannel sets the notification channel for one category
// ("times" or "ranks").
func (s *Store) SetGuildChannel(ctx context.Context, guildID, category, channelID string) error {
	col := ""
	switch category {
	case "times":
		col = "times_channel_id"
	case "ranks":
		col = "ranks_channel_id"
	default:
		return errors.New("store: unknown channel category: " + category)
	}
	if _, err := s.EnsureGuild(ctx, guildID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE guilds SET `+col+` = ? WHERE guild_id = ?`, channelID, guildID)
	return err
}

func (s *Store) SetGuildMinRank(ctx context.Context, guildID string, minRank int) error {
	if _, err := s.EnsureGuild(ctx, guildID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE guilds SET min_rank = ? WHERE guild_id = ?`, minRank, guildID)
	return err
}

func (s *Store) SetGuildCategoryEnabled(ctx context.Context, guildID, category string, enabled bool) error {
	col := ""
	switch category {
	case "times":
		col = "times_enabled"
	case "ranks":
		col = "ranks_enabled"
	default:
		return errors.New("store: unknown category: " + category)
	}
	if _, err := s.EnsureGuild(ctx, guildID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE guilds SET `+col+` = ? WHERE guild_id = ?`, boolToInt(enabled), guildID)
	return err
}

// MinRankAcrossGuilds returns the most restrictive (lowest) visibility
// threshold over all guilds. ok is false when no guilds exist.
func (s *Store) MinRankAcrossGuilds(ctx context.Context) (int, bool, error) {
	var min sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MIN(min_rank) FROM guilds`).Scan(&min)
	if err != nil {
		return 0, false, err
	}
	if !min.Valid {
		return 0, false, nil
	}
	return int(min.Int64), true, nil
}
