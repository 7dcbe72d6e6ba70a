package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/domain/retry"
	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/infrastructure/resilience"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Dispatch launches one replayed request through the regular execution path.
// It must not block on the request completing; replays are spaced by
// dispatch, not by completion.
type Dispatch func(ctx context.Context, req types.LogicalRequest)

// Controller owns the recovery procedure: wipe session state, reload,
// wait for readiness within a bounded budget, then replay the durable
// store. Exactly one recovery runs at a time; triggers during one are
// no-ops.
type Controller struct {
	session *page.Session
	store   *retry.Store
	cfg     config.RecoveryConfig
	metrics *monitoring.Metrics
	log     *logging.Logger

	dispatch  Dispatch
	readiness func(ctx context.Context) bool
	hooks     []func()

	recovering atomic.Bool
	replayMu   sync.Mutex
}

// NewController wires the recovery controller. Dispatch and the readiness
// probe are bound later, once the executor and gate exist.
func NewController(session *page.Session, store *retry.Store, cfg config.RecoveryConfig, metrics *monitoring.Metrics, log *logging.Logger) *Controller {
	return &Controller{
		session: session,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// SetDispatch binds the replay path.
func (c *Controller) SetDispatch(d Dispatch) { c.dispatch = d }

// SetReadinessProbe binds the post-reload readiness check, typically the
// auth gate's credential-or-token observation.
func (c *Controller) SetReadinessProbe(probe func(ctx context.Context) bool) {
	c.readiness = probe
}

// AddResetHook registers a callback run during recovery right after session
// state is wiped, for caches that key off the old page identity.
func (c *Controller) AddResetHook(hook func()) {
	c.hooks = append(c.hooks, hook)
}

// Recovering reports whether a recovery procedure is currently running.
func (c *Controller) Recovering() bool {
	return c.recovering.Load()
}

// TriggerRecovery starts the recovery procedure in the background. A second
// trigger while one is running is a no-op.
func (c *Controller) TriggerRecovery(reason string) {
	if !c.recovering.CompareAndSwap(false, true) {
		c.log.Debug("recovery already in flight, trigger ignored",
			zap.String("reason", reason))
		return
	}

	c.metrics.RecoveriesTotal.Inc()
	c.metrics.RecoveryInFlight.Set(1)
	go c.recover(reason)
}

func (c *Controller) recover(reason string) {
	defer func() {
		c.metrics.RecoveryInFlight.Set(0)
		c.recovering.Store(false)
	}()

	c.log.Warn("starting session recovery", zap.String("reason", reason))

	// Old identity goes first: cookies in both scopes, page storage, and
	// any caches keyed to the previous page.
	c.session.Wipe()
	for _, hook := range c.hooks {
		hook()
	}

	reloadCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err := c.session.Reload(reloadCtx)
	cancel()
	if err != nil {
		c.log.Warn("recovery reload failed, continuing best-effort", zap.Error(err))
	}

	c.awaitReadiness(reason)
	c.Replay(context.Background())
}

// awaitReadiness polls until the session looks usable again. Challenge
// blocks get the longer budget; exhausting it does not abort recovery,
// because stranding queued requests is worse than a failed replay attempt.
func (c *Controller) awaitReadiness(reason string) {
	if c.readiness == nil {
		return
	}

	budget := c.cfg.ReloadWaitBudget
	if reason == string(faults.ChallengeDetected) {
		budget = c.cfg.ChallengeWaitBudget
	}

	policy := resilience.Policy{Interval: c.cfg.PollInterval, Budget: budget}
	ctx, cancel := context.WithTimeout(context.Background(), budget+time.Second)
	defer cancel()

	if err := policy.WaitUntil(ctx, c.readiness); err != nil {
		c.log.Warn("session readiness not confirmed, replaying anyway",
			zap.Duration("budget", budget), zap.Error(err))
		return
	}
	c.log.Info("session ready after recovery")
}

// Replay drains the durable store once and dispatches every record in
// order, spaced by the configured interval. Also used on channel reconnect,
// where queued work may predate the connection.
func (c *Controller) Replay(ctx context.Context) {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	records, err := c.store.DrainAll(ctx)
	if err != nil {
		c.log.Error("drain failed, records remain persisted", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	c.log.Info("replaying persisted requests", zap.Int("count", len(records)))
	spacing := resilience.Policy{Interval: c.cfg.ReplaySpacing}

	for i, rec := range records {
		if i > 0 {
			if err := spacing.Sleep(ctx); err != nil {
				// Shutdown mid-replay: put the rest back.
				c.requeue(records[i:])
				return
			}
		}
		c.log.Info("replaying request",
			zap.String("request_id", rec.RequestID),
			zap.String("reason", rec.Reason))
		c.dispatch(ctx, rec.Request())
		c.metrics.ReplaysTotal.Inc()
	}

	c.metrics.SetPendingRecords(0)
}

func (c *Controller) requeue(records []retry.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, rec := range records {
		if err := c.store.Append(ctx, rec); err != nil {
			c.log.Error("failed to requeue record",
				zap.String("request_id", rec.RequestID), zap.Error(err))
		}
	}
}
