package auth

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/faults"
)

const testCookie = "arena-auth-prod-v1"

type fakeVerifier struct {
	mu      sync.Mutex
	calls   []string
	status  int
	body    string
	session *page.Session
	// setCookie simulates the verification response credential landing in
	// the jar.
	setCookie bool
}

func (f *fakeVerifier) VerifyToken(ctx context.Context, token string) (string, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, token)
	f.mu.Unlock()

	if f.setCookie {
		f.session.SetCookie(&http.Cookie{Name: testCookie, Value: "granted", Path: "/"})
	}
	return f.body, f.status, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticLoader struct {
	fetches atomic.Int32
}

func (l *staticLoader) FetchPage(ctx context.Context) (string, error) {
	l.fetches.Add(1)
	return "<html><body>arena</body></html>", nil
}

func testGateConfig() config.AuthConfig {
	return config.AuthConfig{
		CookieName:      testCookie,
		TokenTTL:        2 * time.Minute,
		WaitBudget:      200 * time.Millisecond,
		RecheckInterval: 10 * time.Millisecond,
	}
}

func newTestGate(t *testing.T, verifier *fakeVerifier, source TokenSource, cfg config.AuthConfig) (*Gate, *page.Session) {
	t.Helper()
	session, err := page.NewSession("https://arena.test", logging.NewNop())
	require.NoError(t, err)
	session.AttachLoader(&staticLoader{})

	if verifier != nil {
		verifier.session = session
	}
	return NewGate(session, verifier, source, cfg, logging.NewNop()), session
}

func TestEnsureReadyWhenCredentialPresent(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusOK}
	gate, session := newTestGate(t, verifier, NewManualSource(), testGateConfig())

	session.SetCookie(&http.Cookie{Name: testCookie, Value: "v", Path: "/"})

	require.NoError(t, gate.Ensure(context.Background()))
	assert.Zero(t, verifier.callCount(), "no verification when the credential exists")
}

func TestEnsureAuthenticatesWithCachedToken(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusOK, body: `{"session":"blob"}`, setCookie: true}
	gate, session := newTestGate(t, verifier, NewManualSource(), testGateConfig())

	gate.CacheToken("cached-tok")

	require.NoError(t, gate.Ensure(context.Background()))
	assert.Equal(t, 1, verifier.callCount())
	assert.True(t, gate.Ready())

	blob, ok := session.Recall("auth-session")
	assert.True(t, ok)
	assert.Equal(t, `{"session":"blob"}`, blob)
	assert.Equal(t, 1, session.Reloads(), "authentication applies via full reload")
}

func TestEnsureExpiredCachedTokenFallsToChallenge(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusOK, setCookie: true}
	cfg := testGateConfig()
	cfg.TokenTTL = time.Nanosecond

	source := NewManualSource()
	gate, _ := newTestGate(t, verifier, source, cfg)

	gate.CacheToken("stale-tok")
	time.Sleep(time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		source.Provide("fresh-tok")
	}()

	require.NoError(t, gate.Ensure(context.Background()))
	require.Equal(t, 1, verifier.callCount())
	verifier.mu.Lock()
	defer verifier.mu.Unlock()
	assert.Equal(t, "fresh-tok", verifier.calls[0])
}

func TestEnsureShortCircuitsWhenCredentialAppearsMidWait(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusOK}
	gate, session := newTestGate(t, verifier, NewManualSource(), testGateConfig())

	go func() {
		time.Sleep(30 * time.Millisecond)
		session.SetCookie(&http.Cookie{Name: testCookie, Value: "side-door", Path: "/"})
	}()

	require.NoError(t, gate.Ensure(context.Background()))
	assert.Zero(t, verifier.callCount(), "short-circuit skips authentication entirely")
}

func TestEnsureSingleFlightSharesOneAcquisition(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusOK, setCookie: true}
	source := NewManualSource()
	cfg := testGateConfig()
	cfg.WaitBudget = time.Second
	gate, _ := newTestGate(t, verifier, source, cfg)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gate.Ensure(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	source.Provide("shared-tok")
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, verifier.callCount(), "one verification serves all callers")
}

func TestEnsureTimesOutWithoutToken(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusOK}
	cfg := testGateConfig()
	cfg.WaitBudget = 50 * time.Millisecond
	gate, _ := newTestGate(t, verifier, NewManualSource(), cfg)

	err := gate.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.AuthRequired))
	assert.Zero(t, verifier.callCount())
}

func TestAuthenticateFailureWipesSessionState(t *testing.T) {
	verifier := &fakeVerifier{status: http.StatusForbidden}
	gate, session := newTestGate(t, verifier, NewManualSource(), testGateConfig())

	session.Remember("left-over", "value")
	gate.CacheToken("doomed-tok")

	err := gate.Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.AuthRequired))

	_, ok := session.Recall("left-over")
	assert.False(t, ok, "storage wiped on failure")
	assert.Empty(t, gate.validCachedToken(), "cached token wiped on failure")
}

func TestAuthenticateRequiresCredentialAfterReload(t *testing.T) {
	// Verification succeeds but never yields a cookie: the gate must treat
	// that as failure, not trust the 2xx alone.
	verifier := &fakeVerifier{status: http.StatusOK, setCookie: false}
	gate, _ := newTestGate(t, verifier, NewManualSource(), testGateConfig())

	err := gate.Authenticate(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.AuthRequired))
}
