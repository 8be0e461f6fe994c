package store

import "context"

// UpsertAnnounceStatus writes (or widens) the per-guild filter flags for one
// rank record. Flags only ever turn on here; they disappear when the record
// is marked announced.
func (s *Store) UpsertAnnounceStatus(ctx context.Context, guildRowID, rankRecordID int64, ineligible, predatesRegistration bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rank_announce_status(guild_id, rank_record_id, ineligible, predates_registration)
		 VALUES(?,?,?,?)
		 ON CONFLICT(guild_id, rank_record_id) DO UPDATE SET
		   ineligible = MAX(rank_announce_status.ineligible, excluded.ineligible),
		   predates_registration = MAX(rank_announce_status.predates_registration, excluded.predates_registration)`,
		guildRowID, rankRecordID, boolToInt(ineligible), boolToInt(predatesRegistration))
	return err
}

// AnnounceStatuses returns the sparse filter rows for one rank record, keyed
// by guild row id. A guild absent from the map is eligible by default.
func (s *Store) AnnounceStatuses(ctx context.Context, rankRecordID int64) (map[int64]AnnounceStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, rank_record_id, ineligible, predates_registration
		 FROM rank_announce_status WHERE rank_record_id = ?`, rankRecordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]AnnounceStatus{}
	for rows.Next() {
		var st AnnounceStatus
		var inel, pre int
		if err := rows.Scan(&st.GuildRowID, &st.RankRecordID, &inel, &pre); err != nil {
			return nil, err
		}
		st.Ineligible = inel != 0
		st.PredatesRegistration = pre != 0
		out[st.GuildRowID] = st
	}
	return out, rows.Err()
}
