package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	logx "trackbot/pkg/logx"
)

// Token TTLs are fixed from issuance rather than read from the server
// response, which sidesteps clock-skew edge cases at the cost of refreshing
// slightly early.
const (
	accessTokenTTL  = 50 * time.Minute
	refreshTokenTTL = 24 * time.Hour
)

type tokenPair struct {
	access     string
	refresh    string
	accessExp  time.Time
	refreshExp time.Time
}

// tokenCache holds per-audience credentials. All state is process-wide and
// in-memory: a fresh process always re-authenticates.
type tokenCache struct {
	mu sync.Mutex
	by map[Audience]*tokenPair
}

func newTokenCache() *tokenCache {
	return &tokenCache{by: map[Audience]*tokenPair{}}
}

func (tc *tokenCache) get(aud Audience) *tokenPair {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.by[aud]
}

func (tc *tokenCache) put(aud Audience, tp *tokenPair) {
	tc.mu.Lock()
	tc.by[aud] = tp
	tc.mu.Unlock()
}

func (tc *tokenCache) clear() {
	tc.mu.Lock()
	tc.by = map[Audience]*tokenPair{}
	tc.mu.Unlock()
}

// Invalidate clears every cached token. Callers observing an authorization
// failure from any audience call this; the next getToken re-authenticates
// from scratch.
func (c *Client) Invalidate() {
	c.tokens.clear()
	c.log.Debug("token cache invalidated")
}

// getToken returns a valid access token for the audience: cached if
// unexpired, otherwise a refresh exchange, otherwise full re-authentication.
func (c *Client) getToken(ctx context.Context, aud Audience) (string, error) {
	now := time.Now()
	if tp := c.tokens.get(aud); tp != nil {
		if now.Before(tp.accessExp) {
			return tp.access, nil
		}
		if now.Before(tp.refreshExp) {
			if fresh, err := c.refreshToken(ctx, aud, tp.refresh); err == nil {
				return fresh.access, nil
			} else {
				c.log.Warn("token refresh failed; re-authenticating", logx.Err(err), logx.String("audience", string(aud)))
			}
		}
	}
	tp, err := c.authenticate(ctx, aud)
	if err != nil {
		return "", err
	}
	return tp.access, nil
}

// authenticate performs the full three-step exchange: long-lived secret →
// short-lived ticket → audience-scoped access/refresh pair.
func (c *Client) authenticate(ctx context.Context, aud Audience) (*tokenPair, error) {
	ticket, err := c.fetchTicket(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"audience": string(aud)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.CoreBaseURL+"/v2/authentication/token/ubiservices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "ubi_v1 t="+ticket)

	var tr tokenResponse
	if err := c.doJSON(ctx, req, &tr); err != nil {
		return nil, err
	}
	tp := pairFromResponse(tr)
	c.tokens.put(aud, tp)
	c.log.Info("authenticated upstream", logx.String("audience", string(aud)))
	return tp, nil
}

func (c *Client) fetchTicket(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.AuthBaseURL+"/v3/profiles/sessions", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", err
	}
	cred := base64.StdEncoding.EncodeToString([]byte(c.cfg.Login + ":" + c.cfg.Password))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+cred)
	req.Header.Set("Ubi-AppId", c.cfg.AppID)

	var tr ticketResponse
	if err := c.doJSON(ctx, req, &tr); err != nil {
		return "", err
	}
	return tr.Ticket, nil
}

func (c *Client) refreshToken(ctx context.Context, aud Audience, refresh string) (*tokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.CoreBaseURL+"/v2/authentication/token/refresh", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "nadeo_v1 t="+refresh)

	var tr tokenResponse
	if err := c.doJSON(ctx, req, &tr); err != nil {
		return nil, err
	}
	tp := pairFromResponse(tr)
	c.tokens.put(aud, tp)
	c.log.Debug("token refreshed", logx.String("audience", string(aud)))
	return tp, nil
}

func pairFromResponse(tr tokenResponse) *tokenPair {
	now := time.Now()
	return &tokenPair{
		access:     tr.AccessToken,
		refresh:    tr.RefreshToken,
		accessExp:  now.Add(accessTokenTTL),
		refreshExp: now.Add(refreshTokenTTL),
	}
}
