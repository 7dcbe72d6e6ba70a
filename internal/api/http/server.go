package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/api/middleware"
	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
)

const shutdownGrace = 5 * time.Second

// Server hosts the ops surface.
type Server struct {
	cfg    config.HTTPConfig
	engine *gin.Engine
	log    *logging.Logger
}

// NewServer assembles the gin engine with the ops middleware chain.
func NewServer(cfg config.HTTPConfig, handlers *Handlers, log *logging.Logger) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Trace(log.Component("ops")))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	handlers.Register(engine)

	return &Server{cfg: cfg, engine: engine, log: log.Component("ops")}
}

// Run serves until ctx ends, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.log.Info("ops surface listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return ctx.Err()
}
