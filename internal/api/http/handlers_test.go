package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenabridge/agent/internal/channel"
	"github.com/arenabridge/agent/internal/domain/auth"
	"github.com/arenabridge/agent/internal/domain/models"
	"github.com/arenabridge/agent/internal/domain/recovery"
	"github.com/arenabridge/agent/internal/domain/retry"
	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/types"
)

type stubLoader struct {
	html  string
	err   error
	hits  atomic.Int32
	block chan struct{}
}

func (s *stubLoader) FetchPage(ctx context.Context) (string, error) {
	s.hits.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.html, s.err
}

type stubVerifier struct{}

func (stubVerifier) VerifyToken(ctx context.Context, token string) (string, int, error) {
	return "{}", http.StatusOK, nil
}

type opsFixture struct {
	engine *gin.Engine
	store  *retry.Store
	tokens *auth.ManualSource
}

func newOpsFixture(t *testing.T, loader *stubLoader, seeds types.Registry) *opsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	nop := logging.NewNop()
	metrics := monitoring.NewMetrics()
	cfg := config.Default()

	session, err := page.NewSession("https://arena.test", nop)
	require.NoError(t, err)
	if loader != nil {
		session.AttachLoader(loader)
	}

	store, err := retry.Open(filepath.Join(t.TempDir(), "pending.db"), nop)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens := auth.NewManualSource()
	gate := auth.NewGate(session, stubVerifier{}, tokens, cfg.Auth, nop)
	catalog := models.NewService(session, seeds, metrics, nop)
	controller := recovery.NewController(session, store, cfg.Recovery, metrics, nop)
	ch := channel.NewManager(cfg.Orchestrator, metrics, nop)

	handlers := NewHandlers(ch, store, session, gate, tokens, catalog, controller, metrics, nop)
	engine := gin.New()
	handlers.Register(engine)

	return &opsFixture{engine: engine, store: store, tokens: tokens}
}

func (f *opsFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRootIdentifiesService(t *testing.T) {
	f := newOpsFixture(t, nil, nil)

	w := f.do(http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "arenabridge-agent", decodeBody(t, w)["service"])
}

func TestHealthReportsAgentState(t *testing.T) {
	f := newOpsFixture(t, nil, nil)

	w := f.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["channel_connected"])
	assert.Equal(t, false, body["session_ready"])
	assert.Equal(t, false, body["recovering"])
	assert.EqualValues(t, 0, body["pending_requests"])
}

func TestHealthCountsPendingRequests(t *testing.T) {
	f := newOpsFixture(t, nil, nil)
	rec := retry.FromRequest(types.LogicalRequest{ID: "req-1", Kind: types.KindChat}, "rate_limited")
	require.NoError(t, f.store.Append(context.Background(), rec))

	w := f.do(http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["pending_requests"])
}

func TestMetricsServesPrometheusExposition(t *testing.T) {
	f := newOpsFixture(t, nil, nil)

	w := f.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agent_channel_connected")
}

func TestProvideTokenDeliversToWaiter(t *testing.T) {
	f := newOpsFixture(t, nil, nil)

	got := make(chan string, 1)
	go func() {
		token, err := f.tokens.Token(context.Background())
		if err == nil {
			got <- token
		}
	}()
	time.Sleep(20 * time.Millisecond)

	w := f.do(http.MethodPost, "/v1/challenge/token", `{"token":"tok-1"}`)

	require.Equal(t, http.StatusNoContent, w.Code)
	select {
	case token := <-got:
		assert.Equal(t, "tok-1", token)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the token")
	}
}

func TestProvideTokenRejectsMissingToken(t *testing.T) {
	f := newOpsFixture(t, nil, nil)

	w := f.do(http.MethodPost, "/v1/challenge/token", `{}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "token")
}

func TestPageSourceServesCapture(t *testing.T) {
	f := newOpsFixture(t, &stubLoader{html: "<html>arena</html>"}, nil)

	w := f.do(http.MethodGet, "/v1/page/source", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arena")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.NotEmpty(t, w.Header().Get("X-Captured-At"))
}

func TestPageSourceCachesBetweenCalls(t *testing.T) {
	loader := &stubLoader{html: "<html>arena</html>"}
	f := newOpsFixture(t, loader, nil)

	f.do(http.MethodGet, "/v1/page/source", "")
	f.do(http.MethodGet, "/v1/page/source", "")
	assert.EqualValues(t, 1, loader.hits.Load())

	w := f.do(http.MethodGet, "/v1/page/source?fresh=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, loader.hits.Load(), "fresh=1 must refetch")
}

func TestPageSourceErrorsWhenCaptureFails(t *testing.T) {
	f := newOpsFixture(t, &stubLoader{err: context.DeadlineExceeded}, nil)

	w := f.do(http.MethodGet, "/v1/page/source", "")

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])
}

func TestRefreshModelsFallsBackToSeeds(t *testing.T) {
	seeds := types.Registry{"alpha": {ID: "m-1", PublicName: "alpha"}}
	f := newOpsFixture(t, &stubLoader{html: "<html>no registry here</html>"}, seeds)

	w := f.do(http.MethodPost, "/v1/models/refresh", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = f.do(http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestRefreshModelsErrorsWithoutAnySource(t *testing.T) {
	f := newOpsFixture(t, &stubLoader{html: "<html>no registry here</html>"}, nil)

	w := f.do(http.MethodPost, "/v1/models/refresh", "")

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])
}

func TestPendingListsStoredRequests(t *testing.T) {
	f := newOpsFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Append(ctx, retry.FromRequest(types.LogicalRequest{ID: "req-a", Kind: types.KindChat}, "rate_limited")))
	require.NoError(t, f.store.Append(ctx, retry.FromRequest(types.LogicalRequest{ID: "req-b", Kind: types.KindChat}, "rate_limited")))

	w := f.do(http.MethodGet, "/v1/pending", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])
	assert.ElementsMatch(t, []interface{}{"req-a", "req-b"}, body["request_ids"])
}

func TestTriggerRecoveryConflictsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	loader := &stubLoader{html: "<html>arena</html>", block: release}
	f := newOpsFixture(t, loader, nil)
	t.Cleanup(func() { close(release) })

	w := f.do(http.MethodPost, "/v1/recovery", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	// The reload inside recovery is parked on the loader, so the first
	// recovery is still in flight.
	require.Eventually(t, func() bool {
		return f.do(http.MethodPost, "/v1/recovery", "").Code == http.StatusConflict
	}, time.Second, 10*time.Millisecond)
}
