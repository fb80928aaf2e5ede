package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/ports"
	"agentdesk/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client pushes presence transitions to the backend's activity endpoint.
// The endpoint is idempotent, so resending the same value is safe; the rate
// limiter keeps operator status flapping from hammering the backend.
type Client struct {
	endpoint string
	http     *http.Client
	tokens   ports.TokenSource
	limiter  *rate.Limiter
	retry    retry.Config
	onError  func()
	logger   *zap.SugaredLogger
}

type Config struct {
	Endpoint       string
	RequestTimeout time.Duration
	RatePerSecond  float64
	Burst          int
	Retry          retry.Config
}

func NewClient(cfg Config, tokens ports.TokenSource, logger *zap.SugaredLogger) *Client {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		tokens:   tokens,
		limiter:  rate.NewLimiter(limit, burst),
		retry:    cfg.Retry,
		logger:   logger,
	}
}

// OnError registers a hook invoked once per failed sync, after retries.
func (c *Client) OnError(fn func()) {
	c.onError = fn
}

type activityUpdate struct {
	Activity domain.PresenceState `json:"activity"`
}

// Sync posts the new activity value. Callers treat failures as log-only;
// the local state stays authoritative.
func (c *Client) Sync(ctx context.Context, state domain.PresenceState) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("presence sync rate limit: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		c.reportError()
		return fmt.Errorf("presence sync: %w", err)
	}

	body, err := json.Marshal(activityUpdate{Activity: state})
	if err != nil {
		c.reportError()
		return fmt.Errorf("encoding activity update: %w", err)
	}

	err = retry.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("presence backend returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("presence backend rejected update: %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		c.reportError()
		return err
	}

	c.logger.Debugw("presence synced", "activity", state)
	return nil
}

func (c *Client) reportError() {
	if c.onError != nil {
		c.onError()
	}
}
