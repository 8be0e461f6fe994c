// Package upstream is the authenticated, rate-limited client for the
// Trackmania web services.
//
// Every call is funneled through a single-concurrency task queue plus a
// min-interval limiter, so upstream spacing holds process-wide regardless of
// caller concurrency. Tokens are cached per audience; callers that observe an
// authorization failure call Invalidate() and retry once at cycle level.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"trackbot/internal/taskqueue"
	logx "trackbot/pkg/logx"
)

const (
	defaultAuthBaseURL = "https://public-ubiservices.ubi.com"
	defaultCoreBaseURL = "https://prod.trackmania.core.nadeo.online"
	defaultLiveBaseURL = "https://live-services.trackmania.nadeo.live"
	defaultAppID       = "86263886-327a-4328-ac69-527f0d20a237"

	// PageSize is the leaderboard page length accepted by the live API.
	PageSize = 100

	defaultMaxOffset   = 10_000
	defaultMinInterval = 500 * time.Millisecond
)

type Config struct {
	Login    string
	Password string
	AppID    string

	AuthBaseURL string
	CoreBaseURL string
	LiveBaseURL string

	// MinRequestInterval spaces upstream calls process-wide.
	MinRequestInterval time.Duration

	// MaxLeaderboardOffset bounds paginated position lookups.
	MaxLeaderboardOffset int
}

type Client struct {
	cfg     Config
	http    *http.Client
	queue   *taskqueue.Queue
	limiter *rate.Limiter
	tokens  *tokenCache
	log     logx.Logger
}

// New builds the client. The queue must be the process-wide "api" queue
// (concurrency 1).
func New(cfg Config, queue *taskqueue.Queue, log logx.Logger) *Client {
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = defaultAuthBaseURL
	}
	if cfg.CoreBaseURL == "" {
		cfg.CoreBaseURL = defaultCoreBaseURL
	}
	if cfg.LiveBaseURL == "" {
		cfg.LiveBaseURL = defaultLiveBaseURL
	}
	if cfg.AppID == "" {
		cfg.AppID = defaultAppID
	}
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = defaultMinInterval
	}
	if cfg.MaxLeaderboardOffset <= 0 {
		cfg.MaxLeaderboardOffset = defaultMaxOffset
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		queue:   queue,
		limiter: rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1),
		tokens:  newTokenCache(),
		log:     log,
	}
}

// MaxLeaderboardOffset exposes the configured pagination bound.
func (c *Client) MaxLeaderboardOffset() int { return c.cfg.MaxLeaderboardOffset }

// request executes one authenticated GET through the api queue. The queue
// serializes calls; the limiter enforces the min spacing between them.
func (c *Client) request(ctx context.Context, aud Audience, url string, out any) error {
	_, err := c.queue.Do(ctx, func(qctx context.Context) (any, error) {
		if err := c.limiter.Wait(qctx); err != nil {
			return nil, err
		}
		token, err := c.getToken(qctx, aud)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(qctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "nadeo_v1 t="+token)
		return nil, c.doJSON(qctx, req, out)
	})
	return err
}

// doJSON performs req and decodes a JSON body. Non-2xx responses become a
// *StatusError with the body captured for logging and classification.
func (c *Client) doJSON(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("upstream: reading %s: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Status: resp.StatusCode, Body: string(body), URL: req.URL.Path}
		c.log.Warn("upstream call failed",
			logx.String("path", req.URL.Path),
			logx.Int("status", resp.StatusCode),
			logx.String("body", truncate(string(body), 300)))
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("upstream: decoding %s: %w", req.URL.Path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsAuthError reports whether err is an upstream authorization failure.
func IsAuthError(err error) bool {
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.IsAuth()
	}
	return false
}
