package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const trackCols = `id, uid, map_id, name, thumbnail_url, campaign, updated_at`

func scanTrack(row interface{ Scan(...any) error }) (Track, error) {
	var t Track
	var updMS int64
	err := row.Scan(&t.ID, &t.UID, &t.MapID, &t.Name, &t.ThumbnailURL, &t.Campaign, &updMS)
	if err != nil {
		return Track{}, err
	}
	t.UpdatedAt = msToTime(updMS)
	return t, nil
}

// UpsertTrack refreshes cached map metadata. Tracks are shared across guilds
// and refreshed opportunistically whenever the poller sees them.
func (s *Store) UpsertTrack(ctx context.Context, uid, mapID, name, thumbnailURL, campaign string) (Track, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracks(uid, map_id, name, thumbnail_url, campaign, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(uid) DO UPDATE SET
		   map_id = excluded.map_id,
		   name = excluded.name,
		   thumbnail_url = excluded.thumbnail_url,
		   campaign = excluded.campaign,
		   updated_at = excluded.updated_at`,
		uid, mapID, name, thumbnailURL, campaign, time.Now().UnixMilli())
	if err != nil {
		return Track{}, err
	}
	return s.GetTrackByUID(ctx, uid)
}

func (s *Store) GetTrackByUID(ctx context.Context, uid string) (Track, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+trackCols+` FROM tracks WHERE uid = ?`, uid)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListTracks(ctx context.Context) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trackCols+` FROM tracks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
