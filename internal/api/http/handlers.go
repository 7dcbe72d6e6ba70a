// Package http serves the agent's local ops surface: health, metrics,
// challenge token intake, page inspection, and registry refresh. It binds
// loopback by default and is never exposed to the orchestrator network.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arenabridge/agent/internal/api/middleware"
	"github.com/arenabridge/agent/internal/channel"
	"github.com/arenabridge/agent/internal/domain/auth"
	"github.com/arenabridge/agent/internal/domain/models"
	"github.com/arenabridge/agent/internal/domain/recovery"
	"github.com/arenabridge/agent/internal/domain/retry"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/page"
)

// Handlers bundles the agent components the ops surface reads and pokes.
type Handlers struct {
	channel  *channel.Manager
	store    *retry.Store
	session  *page.Session
	gate     *auth.Gate
	tokens   *auth.ManualSource
	catalog  *models.Service
	recovery *recovery.Controller
	metrics  *monitoring.Metrics
	log      *logging.Logger
	started  time.Time
}

// NewHandlers wires the ops handlers.
func NewHandlers(
	channel *channel.Manager,
	store *retry.Store,
	session *page.Session,
	gate *auth.Gate,
	tokens *auth.ManualSource,
	catalog *models.Service,
	recovery *recovery.Controller,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) *Handlers {
	return &Handlers{
		channel:  channel,
		store:    store,
		session:  session,
		gate:     gate,
		tokens:   tokens,
		catalog:  catalog,
		recovery: recovery,
		metrics:  metrics,
		log:      log.Component("ops"),
		started:  time.Now(),
	}
}

// Register mounts the ops routes.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	{
		v1.POST("/challenge/token", h.ProvideToken)
		v1.GET("/page/source", h.PageSource)
		v1.GET("/models", h.Models)
		v1.POST("/models/refresh", h.RefreshModels)
		v1.GET("/pending", h.Pending)
		v1.POST("/recovery", h.TriggerRecovery)
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "arenabridge-agent",
		"status":  "running",
	})
}

// Health reports liveness plus the facts an operator checks first.
func (h *Handlers) Health(c *gin.Context) {
	pending := 0
	if n, err := h.store.Len(c.Request.Context()); err == nil {
		pending = n
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"channel_connected": h.channel.Connected(),
		"session_ready":     h.gate.Ready(),
		"recovering":        h.recovery.Recovering(),
		"pending_requests":  pending,
		"uptime_seconds":    int(time.Since(h.started).Seconds()),
	})
}

// ProvideToken accepts a manually solved challenge token. The token value
// never reaches the logs.
func (h *Handlers) ProvideToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	h.tokens.Provide(req.Token)
	h.gate.CacheToken(req.Token)
	h.log.Info("challenge token received")
	c.Status(http.StatusNoContent)
}

// PageSource returns the captured arena page, refetching when ?fresh=1.
func (h *Handlers) PageSource(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		html string
		err  error
	)
	if c.Query("fresh") == "1" {
		html, err = h.session.Capture(ctx)
	} else {
		html, err = h.session.HTML(ctx)
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Header("X-Captured-At", h.session.CapturedAt().UTC().Format(time.RFC3339))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// Models returns the registry currently being served.
func (h *Handlers) Models(c *gin.Context) {
	registry := h.catalog.Current()
	c.JSON(http.StatusOK, gin.H{"count": len(registry), "models": registry})
}

// RefreshModels forces a registry re-extraction from the live page.
func (h *Handlers) RefreshModels(c *gin.Context) {
	registry, err := h.catalog.Refresh(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(registry), "models": registry})
}

// Pending lists the request identifiers waiting for replay.
func (h *Handlers) Pending(c *gin.Context) {
	ids, err := h.store.ListIDs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ids), "request_ids": ids})
}

// TriggerRecovery starts a manual session recovery.
func (h *Handlers) TriggerRecovery(c *gin.Context) {
	if h.recovery.Recovering() {
		c.JSON(http.StatusConflict, gin.H{"error": "recovery already in flight"})
		return
	}
	h.recovery.TriggerRecovery("manual")
	c.JSON(http.StatusAccepted, gin.H{"status": "recovery started"})
}
