package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/faults"
)

// sessionBlobKey is where the verification response lands in page storage.
const sessionBlobKey = "auth-session"

// Verifier exchanges a challenge token for a session credential.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (body string, status int, err error)
}

// Gate decides whether outbound calls may proceed. Ready means the session
// credential cookie is present; everything else funnels through a
// single-flight acquisition: cached token, then challenge flow, then a
// verification exchange followed by a full page reload.
type Gate struct {
	session *page.Session
	client  Verifier
	source  TokenSource
	cfg     config.AuthConfig
	log     *logging.Logger

	tokenMu     sync.Mutex
	cachedToken string
	cachedAt    time.Time

	flightMu sync.Mutex
	flight   *flight
}

// flight is one in-progress acquisition shared by concurrent callers.
type flight struct {
	done chan struct{}
	err  error
}

// NewGate wires the readiness gate over the page session.
func NewGate(session *page.Session, client Verifier, source TokenSource, cfg config.AuthConfig, log *logging.Logger) *Gate {
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = time.Second
	}
	return &Gate{
		session: session,
		client:  client,
		source:  source,
		cfg:     cfg,
		log:     log,
	}
}

// Ensure blocks until the session is ready or acquisition fails. Concurrent
// callers share one acquisition; the credential is re-checked at every stage
// so a cookie appearing mid-flow short-circuits to ready.
func (g *Gate) Ensure(ctx context.Context) error {
	if g.ready() {
		return nil
	}

	g.flightMu.Lock()
	fl := g.flight
	if fl == nil {
		fl = &flight{done: make(chan struct{})}
		g.flight = fl
		g.flightMu.Unlock()

		fl.err = g.acquire(ctx)
		close(fl.done)

		g.flightMu.Lock()
		g.flight = nil
		g.flightMu.Unlock()
		return fl.err
	}
	g.flightMu.Unlock()

	select {
	case <-fl.done:
		return fl.err
	case <-ctx.Done():
		return faults.Wrap(faults.AuthRequired, ctx.Err())
	}
}

// CacheToken stores a challenge token for later use. Tokens expire after the
// configured TTL and are discarded once the credential appears.
func (g *Gate) CacheToken(token string) {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	g.cachedToken = token
	g.cachedAt = time.Now()
}

// Ready reports whether the credential cookie is currently present.
func (g *Gate) Ready() bool {
	return g.ready()
}

func (g *Gate) ready() bool {
	return g.session.HasCookie(g.cfg.CookieName)
}

func (g *Gate) validCachedToken() string {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	if g.cachedToken == "" {
		return ""
	}
	if time.Since(g.cachedAt) > g.cfg.TokenTTL {
		g.cachedToken = ""
		return ""
	}
	return g.cachedToken
}

func (g *Gate) clearToken() {
	g.tokenMu.Lock()
	g.cachedToken = ""
	g.tokenMu.Unlock()
}

// acquire runs one full acquisition: credential re-check, cached token,
// challenge wait, then authentication.
func (g *Gate) acquire(ctx context.Context) error {
	if g.ready() {
		return nil
	}

	if token := g.validCachedToken(); token != "" {
		g.log.Info("authenticating with cached challenge token")
		return g.Authenticate(ctx, token)
	}

	token, err := g.awaitToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		// Credential appeared while waiting.
		return nil
	}

	g.CacheToken(token)
	return g.Authenticate(ctx, token)
}

// awaitToken waits for the token source within the configured budget,
// re-checking the credential on every tick. An empty token with nil error
// means the credential showed up and no authentication is needed.
func (g *Gate) awaitToken(ctx context.Context) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.WaitBudget)
	defer cancel()

	tokenCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		token, err := g.source.Token(waitCtx)
		if err != nil {
			errCh <- err
			return
		}
		tokenCh <- token
	}()

	ticker := time.NewTicker(g.cfg.RecheckInterval)
	defer ticker.Stop()

	g.log.Info("waiting for challenge token",
		zap.Duration("budget", g.cfg.WaitBudget))

	for {
		select {
		case token := <-tokenCh:
			return token, nil
		case err := <-errCh:
			if g.ready() {
				return "", nil
			}
			return "", faults.Wrap(faults.AuthRequired, err)
		case <-ticker.C:
			if g.ready() {
				g.log.Info("credential appeared during challenge wait")
				return "", nil
			}
		case <-waitCtx.Done():
			if g.ready() {
				return "", nil
			}
			return "", faults.Newf(faults.AuthRequired,
				"no challenge token within %s", g.cfg.WaitBudget)
		}
	}
}

// Authenticate exchanges the token for a session credential. Success
// persists the returned session blob and applies it via a full page reload;
// the gate is ready only if the credential is present afterwards. Failure
// wipes every piece of session state so the next attempt starts clean.
func (g *Gate) Authenticate(ctx context.Context, token string) error {
	body, status, err := g.client.VerifyToken(ctx, token)
	if err != nil {
		g.wipe()
		return faults.WrapStep(faults.AuthRequired, "verify", err)
	}
	if status < 200 || status > 299 {
		g.wipe()
		return faults.Newf(faults.AuthRequired, "verification rejected with status %d", status)
	}

	if body != "" {
		g.session.Remember(sessionBlobKey, body)
	}

	if err := g.session.Reload(ctx); err != nil {
		g.wipe()
		return faults.WrapStep(faults.AuthRequired, "reload", err)
	}

	if !g.ready() {
		g.wipe()
		return faults.New(faults.AuthRequired, "credential absent after verified reload")
	}

	g.clearToken()
	g.log.Info("session authenticated")
	return nil
}

func (g *Gate) wipe() {
	g.clearToken()
	g.session.Wipe()
	g.log.Warn("authentication failed, session state wiped")
}
