package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const playerCols = `id, guild_id, user_id, account_id, display_name, registered_at`

func scanPlayer(row interface{ Scan(...any) error }) (Player, error) {
	var p Player
	var regMS int64
	err := row.Scan(&p.ID, &p.GuildRowID, &p.UserID, &p.AccountID, &p.DisplayName, &regMS)
	if err != nil {
		return Player{}, err
	}
	p.RegisteredAt = msToTime(regMS)
	return p, nil
}

// UpsertPlayer registers (or re-registers) a player binding. Re-registration
// replaces the account id and display name but keeps the original
// registration timestamp only if the account is unchanged; binding a new
// account resets it, since older runs on the new account are not "new"
// achievements for this guild.
func (s *Store) UpsertPlayer(ctx context.Context, guildRowID int64, userID, accountID, displayName string) (Player, error) {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players(guild_id, user_id, account_id, display_name, registered_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(guild_id, user_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   registered_at = CASE WHEN players.account_id = excluded.account_id
		                        THEN players.registered_at ELSE excluded.registered_at END,
		   account_id = excluded.account_id`,
		guildRowID, userID, accountID, displayName, now)
	if err != nil {
		return Player{}, err
	}
	return s.GetPlayer(ctx, guildRowID, userID)
}

func (s *Store) GetPlayer(ctx context.Context, guildRowID int64, userID string) (Player, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE guild_id = ? AND user_id = ?`,
		guildRowID, userID)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, ErrNotFound
	}
	return p, err
}

// DeletePlayer removes a binding; records and history cascade.
func (s *Store) DeletePlayer(ctx context.Context, guildRowID int64, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM players WHERE guild_id = ? AND user_id = ?`, guildRowID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ListPlayers(ctx context.Context) ([]Player, error) {
	return s.queryPlayers(ctx, `SELECT `+playerCols+` FROM players ORDER BY id`)
}

func (s *Store) ListPlayersByGuild(ctx context.Context, guildRowID int64) ([]Player, error) {
	return s.queryPlayers(ctx,
		`SELECT `+playerCols+` FROM players WHERE guild_id = ? ORDER BY id`, guildRowID)
}

// ListPlayersByAccount returns every guild binding for one upstream account.
// The rank cycle processes all of them independently, so an account tracked
// in several guilds gets a record per binding.
func (s *Store) ListPlayersByAccount(ctx context.Context, accountID string) ([]Player, error) {
	return s.queryPlayers(ctx,
		`SELECT `+playerCols+` FROM players WHERE account_id = ? ORDER BY id`, accountID)
}

func (s *Store) queryPlayers(ctx context.Context, q string, args ...any) ([]Player, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DistinctAccountIDs returns the deduplicated set of tracked upstream
// accounts, so one upstream fetch serves every binding.
func (s *Store) DistinctAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT account_id FROM players ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
