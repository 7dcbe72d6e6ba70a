package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
)

// TokenSource produces challenge tokens. Token blocks until a token is
// available or the context ends.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ManualSource accepts tokens pushed by an operator through the local intake
// endpoint. A token provided before anyone is waiting is held for the next
// waiter.
type ManualSource struct {
	mu      sync.Mutex
	pending string
	waiters []chan string
}

// NewManualSource returns an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

// Provide hands a token to every current waiter, or parks it for the next
// one when nobody is waiting.
func (s *ManualSource) Provide(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) == 0 {
		s.pending = token
		return
	}
	for _, w := range s.waiters {
		w <- token
	}
	s.waiters = nil
}

// Token returns the parked token if one exists, otherwise waits for the next
// Provide call.
func (s *ManualSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.pending != "" {
		token := s.pending
		s.pending = ""
		s.mu.Unlock()
		return token, nil
	}

	ch := make(chan string, 1)
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case token := <-ch:
		return token, nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return "", ctx.Err()
	}
}

// Race combines token sources: Token fans out to all of them and the first
// non-empty token wins. A single source is returned unchanged.
func Race(sources ...TokenSource) TokenSource {
	if len(sources) == 1 {
		return sources[0]
	}
	return &raceSource{sources: sources}
}

type raceSource struct {
	sources []TokenSource
}

// Token waits for the first source to produce a token. Sources that error or
// come back empty are skipped; if every source does, an error is returned so
// callers never mistake the outcome for a delivered token.
func (r *raceSource) Token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		token string
		err   error
	}
	results := make(chan result, len(r.sources))
	for _, src := range r.sources {
		go func(src TokenSource) {
			token, err := src.Token(ctx)
			results <- result{token: token, err: err}
		}(src)
	}

	var lastErr error
	for range r.sources {
		select {
		case res := <-results:
			if res.err == nil && res.token != "" {
				return res.token, nil
			}
			if res.err != nil {
				lastErr = res.err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no token source produced a token")
	}
	return "", lastErr
}

// HTTPSource polls an external widget host for a solved challenge token.
type HTTPSource struct {
	client   *retryablehttp.Client
	url      string
	interval time.Duration
	log      *logging.Logger
}

// NewHTTPSource builds a polling source against the given solver URL.
func NewHTTPSource(url string, interval time.Duration, log *logging.Logger) *HTTPSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &HTTPSource{client: client, url: url, interval: interval, log: log}
}

// Token polls the solver until it returns a token or the context ends.
// Non-200 responses and empty tokens mean the widget is still unsolved.
func (s *HTTPSource) Token(ctx context.Context) (string, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		token, err := s.poll(ctx)
		if err != nil {
			s.log.Debug("solver poll failed", zap.Error(err))
		} else if token != "" {
			return token, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (s *HTTPSource) poll(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("building solver request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("polling solver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("reading solver response: %w", err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decoding solver response: %w", err)
	}
	return payload.Token, nil
}
