package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetRankRecord(ctx context.Context, playerID, trackID int64) (RankRecord, error) {
	var r RankRecord
	var pos sql.NullInt64
	var announced int
	var runMS, detMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, player_id, track_id, position, run_at, announced, detected_at
		 FROM rank_records WHERE player_id = ? AND track_id = ?`,
		playerID, trackID).
		Scan(&r.ID, &r.PlayerID, &r.TrackID, &pos, &runMS, &announced, &detMS)
	if errors.Is(err, sql.ErrNoRows) {
		return RankRecord{}, ErrNotFound
	}
	if err != nil {
		return RankRecord{}, err
	}
	if pos.Valid {
		v := int(pos.Int64)
		r.Position = &v
	}
	r.RunAt = msToTime(runMS)
	r.Announced = announced != 0
	r.DetectedAt = msToTime(detMS)
	return r, nil
}

// UpsertRankRecord writes the accepted update: a history row carrying the
// previous position, then the current row replaced and re-armed for
// announcement. Position may be nil (pre-registration placeholder).
// It returns the current row id.
func (s *Store) UpsertRankRecord(ctx context.Context, playerID, trackID int64, position, prevPosition *int, runAt time.Time) (int64, error) {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rank_record_history(player_id, track_id, position, prev_position, run_at, recorded_at)
		 VALUES(?,?,?,?,?,?)`,
		playerID, trackID, nullableInt(position), nullableInt(prevPosition), timeToMS(runAt), now)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rank_records(player_id, track_id, position, run_at, announced, detected_at)
		 VALUES(?,?,?,?,0,?)
		 ON CONFLICT(player_id, track_id) DO UPDATE SET
		   position = excluded.position,
		   run_at = excluded.run_at,
		   announced = 0,
		   detected_at = excluded.detected_at`,
		playerID, trackID, nullableInt(position), timeToMS(runAt), now)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM rank_records WHERE player_id = ? AND track_id = ?`,
		playerID, trackID).Scan(&id)
	return id, err
}

func (s *Store) ListRankHistory(ctx context.Context, playerID, trackID int64) ([]RankHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, player_id, track_id, position, prev_position, run_at, recorded_at
		 FROM rank_record_history WHERE player_id = ? AND track_id = ?
		 ORDER BY id`,
		playerID, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RankHistory
	for rows.Next() {
		var h RankHistory
		var pos, prev sql.NullInt64
		var runMS, recMS int64
		if err := rows.Scan(&h.ID, &h.PlayerID, &h.TrackID, &pos, &prev, &runMS, &recMS); err != nil {
			return nil, err
		}
		if pos.Valid {
			v := int(pos.Int64)
			h.Position = &v
		}
		if prev.Valid {
			v := int(prev.Int64)
			h.PrevPosition = &v
		}
		h.RunAt = msToTime(runMS)
		h.RecordedAt = msToTime(recMS)
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListUnannouncedRankRecords returns dirty rank records oldest-first.
// Placeholder rows (null position) are included; the dispatcher filters them
// per guild via the status rows.
func (s *Store) ListUnannouncedRankRecords(ctx context.Context) ([]RankRecordRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.player_id, r.track_id, r.position, r.run_at, r.detected_at,
		        p.id, p.guild_id, p.user_id, p.account_id, p.display_name, p.registered_at,
		        t.id, t.uid, t.map_id, t.name, t.thumbnail_url, t.campaign
		 FROM rank_records r
		 JOIN players p ON p.id = r.player_id
		 JOIN tracks t ON t.id = r.track_id
		 WHERE r.announced = 0
		 ORDER BY r.detected_at, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RankRecordRow
	for rows.Next() {
		var row RankRecordRow
		var pos sql.NullInt64
		var runMS, detMS, regMS int64
		err := rows.Scan(
			&row.Record.ID, &row.Record.PlayerID, &row.Record.TrackID, &pos, &runMS, &detMS,
			&row.Player.ID, &row.Player.GuildRowID, &row.Player.UserID, &row.Player.AccountID,
			&row.Player.DisplayName, &regMS,
			&row.Track.ID, &row.Track.UID, &row.Track.MapID, &row.Track.Name, &row.Track.ThumbnailURL, &row.Track.Campaign)
		if err != nil {
			return nil, err
		}
		if pos.Valid {
			v := int(pos.Int64)
			row.Record.Position = &v
		}
		row.Record.RunAt = msToTime(runMS)
		row.Record.DetectedAt = msToTime(detMS)
		row.Player.RegisteredAt = msToTime(regMS)
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkRankAnnounced flips the record-global flag and garbage-collects the
// per-guild status rows in one transaction.
func (s *Store) MarkRankAnnounced(ctx context.Context, recordID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE rank_records SET announced = 1 WHERE id = ?`, recordID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rank_announce_status WHERE rank_record_id = ?`, recordID); err != nil {
		return err
	}
	return tx.Commit()
}
