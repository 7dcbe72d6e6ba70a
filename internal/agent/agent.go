// Package agent assembles the relay: one orchestrator channel, the domain
// components behind it, and the local ops surface.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/arenabridge/agent/internal/api/http"
	"github.com/arenabridge/agent/internal/arena"
	"github.com/arenabridge/agent/internal/channel"
	"github.com/arenabridge/agent/internal/domain/auth"
	"github.com/arenabridge/agent/internal/domain/executor"
	"github.com/arenabridge/agent/internal/domain/models"
	"github.com/arenabridge/agent/internal/domain/recovery"
	"github.com/arenabridge/agent/internal/domain/retry"
	"github.com/arenabridge/agent/internal/domain/upload"
	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Agent owns every long-lived component. New wires them, Run drives them,
// Close releases what outlives Run.
type Agent struct {
	cfg *config.Config
	log *logging.Logger

	store   *retry.Store
	channel *channel.Manager
	router  *Router
	ops     *apihttp.Server
}

// New builds a fully wired agent. Nothing dials or listens yet; that waits
// for Run.
func New(cfg *config.Config, log *logging.Logger) (*Agent, error) {
	metrics := monitoring.NewMetrics()

	session, err := page.NewSession(cfg.Arena.BaseURL, log.Component("page"))
	if err != nil {
		return nil, fmt.Errorf("page session: %w", err)
	}

	client := arena.NewClient(cfg.Arena, session.Jar(), log.Component("arena"))
	session.AttachLoader(client)

	store, err := retry.Open(cfg.Store.Path, log.Component("retry"))
	if err != nil {
		return nil, fmt.Errorf("retry store: %w", err)
	}

	seeds, err := config.LoadSeeds(cfg.Seed.Path)
	if err != nil {
		log.Warn("seed file unusable, starting without seeds",
			zap.String("path", cfg.Seed.Path), zap.Error(err))
		seeds = &config.Seeds{}
	}

	detector := recovery.NewDetector(log.Component("detector"))

	tokens := auth.NewManualSource()
	var source auth.TokenSource = tokens
	if cfg.Auth.SolverURL != "" {
		log.Info("challenge solver configured", zap.String("url", cfg.Auth.SolverURL))
		source = auth.Race(tokens, auth.NewHTTPSource(cfg.Auth.SolverURL, 0, log.Component("solver")))
	}

	gate := auth.NewGate(session, client, source, cfg.Auth, log.Component("auth"))

	actions := upload.NewActionCache(session, seeds.Actions, log.Component("actions"))

	controller := recovery.NewController(session, store, cfg.Recovery, metrics, log.Component("recovery"))
	controller.SetReadinessProbe(func(ctx context.Context) bool { return gate.Ready() })
	// Signed action tokens are bound to the wiped session, so they go too.
	// The cached challenge token stays: it is unused by definition here and
	// is exactly what re-authentication after the reload needs.
	controller.AddResetHook(actions.Invalidate)

	pipeline := upload.NewPipeline(client, actions, store, detector, controller, metrics, log.Component("upload"))

	handles := executor.NewRegistry()
	ch := channel.NewManager(cfg.Orchestrator, metrics, log)

	runner := executor.New(gate, pipeline, executorStream(client), detector, store, handles, controller, ch, metrics, log)
	controller.SetDispatch(func(ctx context.Context, req types.LogicalRequest) {
		go runner.Execute(ctx, req)
	})

	catalog := models.NewService(session, seeds.Registry(), metrics, log)
	warmer := models.NewWarmer(gate, warmerStream(client), catalog, detector, log)

	router := NewRouter(cfg.Orchestrator, runner, warmer, catalog, handles, controller, store, ch, metrics, log)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers := apihttp.NewHandlers(ch, store, session, gate, tokens, catalog, controller, metrics, log)
	ops := apihttp.NewServer(cfg.HTTP, handlers, log)

	return &Agent{
		cfg:     cfg,
		log:     log,
		store:   store,
		channel: ch,
		router:  router,
		ops:     ops,
	}, nil
}

// Run services the channel and the ops surface until ctx ends or one of
// them fails fatally. The first failure stops the other side.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.channel.SetHandler(func(data []byte) { a.router.Handle(ctx, data) })
	a.channel.OnConnect(func() { a.router.HandleConnect(ctx) })
	a.channel.OnDisconnect(a.router.HandleDisconnect)

	a.log.Info("agent starting",
		zap.String("orchestrator", a.cfg.Orchestrator.URL),
		zap.String("arena", a.cfg.Arena.BaseURL),
		zap.String("ops", a.cfg.HTTP.Host+":"+a.cfg.HTTP.Port))

	errCh := make(chan error, 2)
	go func() { errCh <- a.channel.Run(ctx) }()
	go func() { errCh <- a.ops.Run(ctx) }()

	err := <-errCh
	cancel()
	<-errCh

	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources held past Run.
func (a *Agent) Close() error {
	err := a.store.Close()
	_ = a.log.Sync()
	return err
}

// executorStream adapts the concrete client to the executor's stream
// surface. The explicit error branch keeps a nil *arena.Stream from hiding
// inside a non-nil interface value.
func executorStream(client *arena.Client) executor.StreamFunc {
	return func(ctx context.Context, kind types.RequestKind, payload json.RawMessage) (executor.Stream, error) {
		stream, err := client.StreamChat(ctx, kind, payload)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

func warmerStream(client *arena.Client) models.StreamFunc {
	return func(ctx context.Context, kind types.RequestKind, payload json.RawMessage) (models.Stream, error) {
		stream, err := client.StreamChat(ctx, kind, payload)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}
