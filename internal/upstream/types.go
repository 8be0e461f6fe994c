package upstream

import (
	"fmt"
	"time"
)

// Audience is a named authorization scope. Each audience carries its own
// access/refresh token pair.
type Audience string

const (
	// AudienceCore covers account, map and map-record endpoints.
	AudienceCore Audience = "NadeoServices"
	// AudienceLive covers campaign and leaderboard endpoints.
	AudienceLive Audience = "NadeoLiveServices"
)

// StatusError is a non-2xx upstream response. Callers classify it: auth
// failures trigger a token invalidation + retry, the rest skip the current
// unit of work.
type StatusError struct {
	Status int
	Body   string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s returned %d: %s", e.URL, e.Status, e.Body)
}

// IsAuth reports whether the response means our credential was rejected.
func (e *StatusError) IsAuth() bool {
	return e.Status == 401 || e.Status == 403
}

// ---- wire types ----

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// MapInfo is cached map metadata from the core API.
type MapInfo struct {
	MapID        string `json:"mapId"`
	UID          string `json:"mapUid"`
	Name         string `json:"name"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// MapRecord is one personal best from the core map-records endpoint.
type MapRecord struct {
	AccountID   string      `json:"accountId"`
	MapID       string      `json:"mapId"`
	RecordScore RecordScore `json:"recordScore"`
	Timestamp   time.Time   `json:"timestamp"`
}

type RecordScore struct {
	// Time is the run time in integer milliseconds.
	Time int64 `json:"time"`
}

// Campaign describes one official campaign and its map uids.
type Campaign struct {
	Name string
	Maps []CampaignMap
}

type CampaignMap struct {
	UID string `json:"mapUid"`
}

type campaignListResponse struct {
	CampaignList []struct {
		Name     string `json:"name"`
		Playlist []struct {
			MapUID string `json:"mapUid"`
		} `json:"playlist"`
	} `json:"campaignList"`
}

// LeaderboardEntry is one row of a world leaderboard page.
type LeaderboardEntry struct {
	AccountID string `json:"accountId"`
	Position  int    `json:"position"`
	Score     int64  `json:"score"`
}

type leaderboardResponse struct {
	Tops []struct {
		Top []LeaderboardEntry `json:"top"`
	} `json:"tops"`
}

type displayNameEntry struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}
