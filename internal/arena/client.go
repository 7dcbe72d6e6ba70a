package arena

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/resilience"
	"github.com/arenabridge/agent/internal/shared/faults"
)

// Client is the single boundary to the target service. Every outbound call
// the agent makes (page fetch, chat dispatch, upload steps, token verify)
// goes through it, so the rate limiter and circuit breaker see everything.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker

	cfg config.ArenaConfig
	log *logging.Logger
	mu  sync.RWMutex
}

// NewClient builds the boundary client around the page session's cookie jar
// so requests carry, and responses update, the session identity.
func NewClient(cfg config.ArenaConfig, jar http.CookieJar, log *logging.Logger) *Client {
	// Underlying transport settings come from retryablehttp's tuned client.
	// Its retry loop is not used: a dispatch must hit the upstream exactly
	// once, so replay through the durable store is the only retry path.
	transportClient := retryablehttp.NewClient()
	transportClient.Logger = nil

	// No client-level timeout: chat streams run as long as the upstream
	// generates. Non-streaming calls bound themselves per call instead.
	restyClient := resty.New()
	restyClient.
		SetBaseURL(cfg.BaseURL).
		SetCookieJar(jar).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Origin", cfg.BaseURL).
		SetHeader("Referer", cfg.BaseURL+"/")

	restyClient.SetTransport(transportClient.HTTPClient.Transport)

	breaker := resilience.New("arena", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Lenient: the upstream hands out 429s and challenge pages as
			// part of normal life; only transport-level failure streaks trip.
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		Resty:   restyClient,
		Limiter: limiter,
		Breaker: breaker,
		cfg:     cfg,
		log:     log,
	}
}

// bounded caps a non-streaming call at the configured timeout.
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// Request creates a new request gated by the circuit breaker and limiter.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.Breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// ExecuteWithBreaker executes an HTTP operation with breaker accounting.
// Only transport errors count as failures; upstream status codes are the
// block detector's business, not the breaker's.
func (c *Client) ExecuteWithBreaker(fn func() (*resty.Response, error)) (*resty.Response, error) {
	result, err := c.Breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err == resilience.ErrCircuitOpen {
		return nil, fmt.Errorf("target service unavailable: circuit breaker open")
	}
	if err != nil {
		return nil, err
	}
	return result.(*resty.Response), nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}

// FetchPage retrieves the target page HTML through the session jar.
// Implements page.Loader.
func (c *Client) FetchPage(ctx context.Context) (string, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	req, err := c.Request(ctx)
	if err != nil {
		return "", faults.Wrap(faults.NetworkFailure, err)
	}

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.
			SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
			Get(c.cfg.PagePath)
	})
	if err != nil {
		return "", faults.Wrap(faults.NetworkFailure, err)
	}

	c.log.Debug("fetched page",
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())))
	return string(resp.Body()), nil
}

// VerifyToken exchanges a challenge token for a session credential. The jar
// captures any Set-Cookie the verification endpoint returns.
func (c *Client) VerifyToken(ctx context.Context, token string) (string, int, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	req, err := c.Request(ctx)
	if err != nil {
		return "", 0, faults.Wrap(faults.NetworkFailure, err)
	}

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{"token": token}).
			Post(c.cfg.VerifyPath)
	})
	if err != nil {
		return "", 0, faults.Wrap(faults.NetworkFailure, err)
	}
	return string(resp.Body()), resp.StatusCode(), nil
}
