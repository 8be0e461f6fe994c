package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetTimeRecord(ctx context.Context, playerID, trackID int64) (TimeRecord, error) {
	var r TimeRecord
	var announced int
	var detMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, player_id, track_id, time_ms, announced, detected_at
		 FROM time_records WHERE player_id = ? AND track_id = ?`,
		playerID, trackID).
		Scan(&r.ID, &r.PlayerID, &r.TrackID, &r.TimeMS, &announced, &detMS)
	if errors.Is(err, sql.ErrNoRows) {
		return TimeRecord{}, ErrNotFound
	}
	if err != nil {
		return TimeRecord{}, err
	}
	r.Announced = announced != 0
	r.DetectedAt = msToTime(detMS)
	return r, nil
}

// InsertTimeRecord writes the first observation for a pair: a history row
// with prev=null and an unannounced current row.
func (s *Store) InsertTimeRecord(ctx context.Context, playerID, trackID, timeMS int64) error {
	now := time.Now().UnixMilli()
	if err := s.insertTimeHistory(ctx, playerID, trackID, timeMS, nil, now); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO time_records(player_id, track_id, time_ms, announced, detected_at)
		 VALUES(?,?,?,0,?)`,
		playerID, trackID, timeMS, now)
	return err
}

// ImproveTimeRecord records an accepted improvement: history row carrying the
// previous best, then the current row updated and re-armed for announcement.
func (s *Store) ImproveTimeRecord(ctx context.Context, playerID, trackID, timeMS, prevTimeMS int64) error {
	now := time.Now().UnixMilli()
	if err := s.insertTimeHistory(ctx, playerID, trackID, timeMS, &prevTimeMS, now); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE time_records SET time_ms = ?, announced = 0, detected_at = ?
		 WHERE player_id = ? AND track_id = ?`,
		timeMS, now, playerID, trackID)
	return err
}

func (s *Store) insertTimeHistory(ctx context.Context, playerID, trackID, timeMS int64, prev *int64, nowMS int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO time_record_history(player_id, track_id, time_ms, prev_time_ms, recorded_at)
		 VALUES(?,?,?,?,?)`,
		playerID, trackID, timeMS, nullableInt64(prev), nowMS)
	return err
}

func (s *Store) ListTimeHistory(ctx context.Context, playerID, trackID int64) ([]TimeHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, player_id, track_id, time_ms, prev_time_ms, recorded_at
		 FROM time_record_history WHERE player_id = ? AND track_id = ?
		 ORDER BY id`,
		playerID, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeHistory
	for rows.Next() {
		var h TimeHistory
		var prev sql.NullInt64
		var recMS int64
		if err := rows.Scan(&h.ID, &h.PlayerID, &h.TrackID, &h.TimeMS, &prev, &recMS); err != nil {
			return nil, err
		}
		if prev.Valid {
			v := prev.Int64
			h.PrevTimeMS = &v
		}
		h.RecordedAt = msToTime(recMS)
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListUnannouncedTimeRecords returns dirty records oldest-first, joined with
// their player and track so the dispatcher never re-fetches per guild.
func (s *Store) ListUnannouncedTimeRecords(ctx context.Context) ([]TimeRecordRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.player_id, r.track_id, r.time_ms, r.detected_at,
		        p.id, p.guild_id, p.user_id, p.account_id, p.display_name, p.registered_at,
		        t.id, t.uid, t.map_id, t.name, t.thumbnail_url, t.campaign
		 FROM time_records r
		 JOIN players p ON p.id = r.player_id
		 JOIN tracks t ON t.id = r.track_id
		 WHERE r.announced = 0
		 ORDER BY r.detected_at, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeRecordRow
	for rows.Next() {
		var row TimeRecordRow
		var detMS, regMS int64
		err := rows.Scan(
			&row.Record.ID, &row.Record.PlayerID, &row.Record.TrackID, &row.Record.TimeMS, &detMS,
			&row.Player.ID, &row.Player.GuildRowID, &row.Player.UserID, &row.Player.AccountID,
			&row.Player.DisplayName, &regMS,
			&row.Track.ID, &row.Track.UID, &row.Track.MapID, &row.Track.Name, &row.Track.ThumbnailURL, &row.Track.Campaign)
		if err != nil {
			return nil, err
		}
		row.Record.DetectedAt = msToTime(detMS)
		row.Player.RegisteredAt = msToTime(regMS)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) MarkTimeAnnounced(ctx context.Context, recordID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE time_records SET announced = 1 WHERE id = ?`, recordID)
	return err
}

// PrevBestTime returns the previous best from the newest history row for the
// pair (used by the dispatcher to render a delta).
func (s *Store) PrevBestTime(ctx context.Context, playerID, trackID int64) (*int64, error) {
	var prev sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT prev_time_ms FROM time_record_history
		 WHERE player_id = ? AND track_id = ?
		 ORDER BY id DESC LIMIT 1`,
		playerID, trackID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !prev.Valid {
		return nil, nil
	}
	v := prev.Int64
	return &v, nil
}
