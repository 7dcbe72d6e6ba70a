package agent

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/config"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/protocol"
	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Runner executes a logical request end to end and streams its result back
// over the channel. Execute blocks until the request settles, so the router
// always invokes it on its own goroutine.
type Runner interface {
	Execute(ctx context.Context, req types.LogicalRequest)
}

// Warmer primes an arena session for a model and reports the harvested
// session identifiers.
type Warmer interface {
	Warmup(ctx context.Context, req types.LogicalRequest) (protocol.SessionCreated, error)
}

// Catalog refreshes the model registry.
type Catalog interface {
	Refresh(ctx context.Context) (types.Registry, error)
}

// Canceller aborts in-flight executions.
type Canceller interface {
	Cancel(id string) bool
	CancelAll() int
}

// Recoverer replays persisted requests and reacts to detected blocks.
type Recoverer interface {
	Replay(ctx context.Context)
	TriggerRecovery(reason string)
}

// Pending lists the identifiers of durably persisted requests.
type Pending interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Sender pushes a frame to the orchestrator.
type Sender interface {
	Send(v interface{}) error
}

// Router decodes orchestrator frames and hands each one to the component
// that owns its semantics. It is the only place inbound message types are
// interpreted; everything downstream works with logical requests.
type Router struct {
	cfg      config.OrchestratorConfig
	runner   Runner
	warmer   Warmer
	catalog  Catalog
	handles  Canceller
	recovery Recoverer
	pending  Pending
	sender   Sender
	metrics  *monitoring.Metrics
	log      *logging.Logger

	// registryAcked flips once the orchestrator confirms it holds our model
	// registry. From then on the registry is only pushed again on an explicit
	// refresh_models, not on every reconnect.
	registryAcked atomic.Bool
}

// NewRouter wires the router against the agent's domain components.
func NewRouter(
	cfg config.OrchestratorConfig,
	runner Runner,
	warmer Warmer,
	catalog Catalog,
	handles Canceller,
	recovery Recoverer,
	pending Pending,
	sender Sender,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) *Router {
	return &Router{
		cfg:      cfg,
		runner:   runner,
		warmer:   warmer,
		catalog:  catalog,
		handles:  handles,
		recovery: recovery,
		pending:  pending,
		sender:   sender,
		metrics:  metrics,
		log:      log.Component("router"),
	}
}

// Handle routes one inbound frame. It runs on the channel's read goroutine,
// so anything slow is spawned; only control traffic is answered inline.
func (r *Router) Handle(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		r.metrics.RecordMessage("inbound", "invalid")
		r.log.Warn("dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	r.metrics.RecordMessage("inbound", msg.Type)

	switch msg.Type {
	case protocol.TypePing:
		r.send(protocol.NewPong(msg.Timestamp))

	case protocol.TypeChatRequest, protocol.TypeRetryRequest:
		req := msg.Request()
		r.log.WithRequest(req.ID).Debug("request accepted",
			zap.String("kind", string(req.Kind)),
			zap.String("model", req.ModelName),
			zap.Int("files", len(req.Files)))
		go r.runner.Execute(ctx, *req)

	case protocol.TypeWarmupSession:
		go r.warmup(ctx, *msg.Request())

	case protocol.TypeAbortRequest:
		if r.handles.Cancel(msg.RequestID) {
			r.log.WithRequest(msg.RequestID).Info("abort delivered")
		} else {
			r.log.WithRequest(msg.RequestID).Debug("abort for unknown request")
		}

	case protocol.TypeRefreshModels:
		go r.pushRegistry(ctx)

	case protocol.TypeModelRegistryAck:
		if r.registryAcked.CompareAndSwap(false, true) {
			r.log.Info("model registry confirmed", zap.Int("count", msg.Count))
		}

	case protocol.TypeReconnectionAck:
		r.log.Debug("reconnection acknowledged")

	case protocol.TypeRestorationAck:
		r.log.Info("orchestrator restored pending requests", zap.Int("count", msg.RestoredCount))

	default:
		r.log.Warn("unhandled frame type", zap.String("type", msg.Type))
	}
}

// HandleConnect runs after every successful dial: it hands the orchestrator
// the list of requests we still hold, replays them locally, and schedules a
// registry push when the orchestrator has never acknowledged one.
func (r *Router) HandleConnect(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ids, err := r.pending.ListIDs(listCtx)
	cancel()
	if err != nil {
		r.log.Error("pending lookup failed, handshake sent empty", zap.Error(err))
		ids = nil
	}
	r.metrics.SetPendingRecords(len(ids))

	if err := r.send(protocol.NewReconnectionHandshake(ids)); err != nil {
		r.log.Warn("reconnection handshake not sent", zap.Error(err))
	}

	go r.recovery.Replay(ctx)

	if !r.registryAcked.Load() {
		go r.settleAndPush(ctx)
	}
}

// HandleDisconnect aborts every in-flight execution. Their requests are
// already persisted or will be re-sent by the orchestrator after the
// reconnection handshake.
func (r *Router) HandleDisconnect() {
	if n := r.handles.CancelAll(); n > 0 {
		r.log.Warn("channel lost, executions cancelled", zap.Int("count", n))
	}
}

func (r *Router) warmup(ctx context.Context, req types.LogicalRequest) {
	created, err := r.warmer.Warmup(ctx, req)
	if err != nil {
		if faults.IsBlock(err) {
			r.recovery.TriggerRecovery(string(faults.KindOf(err)))
		}
		r.log.Warn("warmup failed",
			zap.String("model", req.ModelName),
			zap.Error(err))
		return
	}
	r.send(created)
}

// pushRegistry refreshes the catalog and pushes the result. A failed refresh
// pushes nothing; stale data at the orchestrator beats an empty registry.
func (r *Router) pushRegistry(ctx context.Context) {
	registry, err := r.catalog.Refresh(ctx)
	if err != nil {
		r.log.Warn("registry refresh failed, nothing pushed", zap.Error(err))
		return
	}
	if err := r.send(protocol.NewModelRegistry(registry)); err != nil {
		r.log.Warn("registry push failed", zap.Error(err))
		return
	}
	r.log.Info("model registry pushed", zap.Int("count", len(registry)))
}

// settleAndPush waits out the configured settle delay before the initial
// registry push so a flapping connection does not spray half-built
// registries at the orchestrator.
func (r *Router) settleAndPush(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(r.cfg.SettleDelay):
	}
	if r.registryAcked.Load() {
		return
	}
	r.pushRegistry(ctx)
}

func (r *Router) send(v interface{}) error {
	err := r.sender.Send(v)
	if err != nil {
		r.log.Debug("send failed", zap.Error(err))
	}
	return err
}
