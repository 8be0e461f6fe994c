package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// CurrentCampaign fetches the newest official campaign and its map uids.
func (c *Client) CurrentCampaign(ctx context.Context) (Campaign, error) {
	var resp campaignListResponse
	u := c.cfg.LiveBaseURL + "/api/token/campaign/official?offset=0&length=1"
	if err := c.request(ctx, AudienceLive, u, &resp); err != nil {
		return Campaign{}, err
	}
	if len(resp.CampaignList) == 0 {
		return Campaign{}, fmt.Errorf("upstream: empty campaign list")
	}
	cl := resp.CampaignList[0]
	camp := Campaign{Name: cl.Name}
	for _, m := range cl.Playlist {
		if m.MapUID == "" {
			continue
		}
		camp.Maps = append(camp.Maps, CampaignMap{UID: m.MapUID})
	}
	return camp, nil
}

// MapInfos fetches metadata for a batch of map uids.
func (c *Client) MapInfos(ctx context.Context, uids []string) ([]MapInfo, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	u := c.cfg.CoreBaseURL + "/maps/?mapUidList=" + url.QueryEscape(strings.Join(uids, ","))
	var out []MapInfo
	if err := c.request(ctx, AudienceCore, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MapRecords fetches personal bests for the cross-product of accounts and
// map ids (core API ids, not uids).
func (c *Client) MapRecords(ctx context.Context, accountIDs, mapIDs []string) ([]MapRecord, error) {
	if len(accountIDs) == 0 || len(mapIDs) == 0 {
		return nil, nil
	}
	u := c.cfg.CoreBaseURL + "/mapRecords/?accountIdList=" +
		url.QueryEscape(strings.Join(accountIDs, ",")) +
		"&mapIdList=" + url.QueryEscape(strings.Join(mapIDs, ","))
	var out []MapRecord
	if err := c.request(ctx, AudienceCore, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LeaderboardPage fetches one world-leaderboard page (PageSize entries) at
// the given offset.
func (c *Client) LeaderboardPage(ctx context.Context, mapUID string, offset int) ([]LeaderboardEntry, error) {
	u := fmt.Sprintf(
		"%s/api/token/leaderboard/group/Personal_Best/map/%s/top?onlyWorld=true&length=%d&offset=%d",
		c.cfg.LiveBaseURL, url.PathEscape(mapUID), PageSize, offset)
	var resp leaderboardResponse
	if err := c.request(ctx, AudienceLive, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.Tops) == 0 {
		return nil, nil
	}
	return resp.Tops[0].Top, nil
}

// PositionFor walks leaderboard pages until the account is found, the
// position passes cutoff, or the configured offset bound is reached.
// ok is false when the account was not found within the walked range.
func (c *Client) PositionFor(ctx context.Context, mapUID, accountID string, cutoff int) (int, bool, error) {
	maxOffset := c.cfg.MaxLeaderboardOffset
	if cutoff > 0 && cutoff < maxOffset {
		maxOffset = cutoff
	}
	for offset := 0; offset < maxOffset; offset += PageSize {
		page, err := c.LeaderboardPage(ctx, mapUID, offset)
		if err != nil {
			return 0, false, err
		}
		for _, e := range page {
			if e.AccountID == accountID {
				return e.Position, true, nil
			}
		}
		if len(page) < PageSize {
			// Leaderboard ended before the bound.
			return 0, false, nil
		}
	}
	return 0, false, nil
}

// DisplayNames resolves account ids to display names.
func (c *Client) DisplayNames(ctx context.Context, accountIDs []string) (map[string]string, error) {
	if len(accountIDs) == 0 {
		return map[string]string{}, nil
	}
	u := c.cfg.CoreBaseURL + "/accounts/displayNames/?accountIdList=" +
		url.QueryEscape(strings.Join(accountIDs, ","))
	var out []displayNameEntry
	if err := c.request(ctx, AudienceCore, u, &out); err != nil {
		return nil, err
	}
	m := make(map[string]string, len(out))
	for _, e := range out {
		m[e.AccountID] = e.DisplayName
	}
	return m, nil
}
