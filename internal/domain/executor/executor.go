package executor

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/domain/recovery"
	"github.com/arenabridge/agent/internal/domain/retry"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/protocol"
	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Terminal outcomes, used as metric labels.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeBlocked   = "blocked"
	OutcomeAborted   = "aborted"
)

// Stream is the executor's view of one in-flight dispatch.
type Stream interface {
	StatusCode() int
	Next() (string, error)
	ReadAll() string
	Close() error
}

// Streamer issues the single outbound call for a logical request.
type Streamer interface {
	StreamChat(ctx context.Context, kind types.RequestKind, payload json.RawMessage) (Stream, error)
}

// StreamFunc adapts a closure to Streamer.
type StreamFunc func(ctx context.Context, kind types.RequestKind, payload json.RawMessage) (Stream, error)

func (f StreamFunc) StreamChat(ctx context.Context, kind types.RequestKind, payload json.RawMessage) (Stream, error) {
	return f(ctx, kind, payload)
}

// ReadinessGate blocks until the session can carry authenticated traffic.
type ReadinessGate interface {
	Ensure(ctx context.Context) error
}

// Uploader runs the attachment sub-protocol ahead of dispatch. A block fault
// from it means the batch is already persisted and recovery already running.
type Uploader interface {
	Process(ctx context.Context, req types.LogicalRequest) (types.LogicalRequest, error)
}

// Sender forwards one outbound frame to the orchestrator.
type Sender interface {
	Send(v interface{}) error
}

// RecoveryTrigger starts session recovery after a block.
type RecoveryTrigger interface {
	TriggerRecovery(reason string)
}

// Executor drives one logical request through its lifecycle: auth readiness,
// optional file upload, the single outbound dispatch, and unit-by-unit
// forwarding until a terminal outcome.
//
// A blocked request leaves in silence: the record goes to the durable store,
// recovery is triggered, and nothing is sent for the id. An aborted request
// is suppressed at every forwarding point. Everything else ends with the
// completion sentinel, errors included.
type Executor struct {
	gate     ReadinessGate
	uploader Uploader
	client   Streamer
	detector *recovery.Detector
	store    *retry.Store
	registry *Registry
	trigger  RecoveryTrigger
	sender   Sender
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

func New(gate ReadinessGate, uploader Uploader, client Streamer, detector *recovery.Detector, store *retry.Store, registry *Registry, trigger RecoveryTrigger, sender Sender, metrics *monitoring.Metrics, log *logging.Logger) *Executor {
	return &Executor{
		gate:     gate,
		uploader: uploader,
		client:   client,
		detector: detector,
		store:    store,
		registry: registry,
		trigger:  trigger,
		sender:   sender,
		metrics:  metrics,
		log:      log.Component("executor"),
	}
}

// Execute runs req to a terminal outcome. It blocks until then and is meant
// to run on its own goroutine, one per logical request.
func (e *Executor) Execute(ctx context.Context, req types.LogicalRequest) {
	log := e.log.WithRequest(req.ID)
	timer := monitoring.NewTimer(e.metrics, string(req.Kind))

	// The handle must be in place before the first suspension point so an
	// abort racing the dispatch still lands.
	execCtx, cancel := context.WithCancel(ctx)
	release := e.registry.Register(req.ID, cancel)
	defer release()
	defer cancel()

	log.Debug("request issued",
		zap.String("kind", string(req.Kind)),
		zap.Bool("replayed", req.Replayed),
		zap.Int("files", len(req.Files)))

	if err := e.gate.Ensure(execCtx); err != nil {
		if execCtx.Err() != nil {
			e.abort(log, timer)
			return
		}
		e.fail(log, timer, req.ID, err)
		return
	}

	if req.HasFiles() {
		uploaded, err := e.uploader.Process(execCtx, req)
		if err != nil {
			if faults.IsBlock(err) {
				// The pipeline persisted the batch and triggered recovery.
				log.Warn("request blocked during upload",
					zap.String("reason", string(faults.KindOf(err))))
				timer.Stop(OutcomeBlocked)
				return
			}
			if execCtx.Err() != nil {
				e.abort(log, timer)
				return
			}
			e.fail(log, timer, req.ID, err)
			return
		}
		req = uploaded
	}

	stream, err := e.client.StreamChat(execCtx, req.Kind, req.Payload)
	if err != nil {
		if execCtx.Err() != nil {
			e.abort(log, timer)
			return
		}
		e.fail(log, timer, req.ID, err)
		return
	}
	defer stream.Close()

	// Rate limit: blocked on status alone, body unread.
	if verdict := e.detector.ClassifyStatus(stream.StatusCode()); verdict.Blocked() {
		e.block(log, timer, req, verdict)
		return
	}
	if code := stream.StatusCode(); code >= 400 {
		if verdict := e.detector.ClassifyResponse(code, stream.ReadAll()); verdict.Blocked() {
			e.block(log, timer, req, verdict)
			return
		}
		e.fail(log, timer, req.ID,
			faults.Newf(faults.NetworkFailure, "upstream rejected dispatch with status %d", code))
		return
	}

	log.Debug("streaming")
	units := 0
	for {
		unit, err := stream.Next()
		if err != nil {
			if execCtx.Err() != nil {
				e.abort(log, timer)
				return
			}
			if err == io.EOF {
				e.send(log, protocol.NewDone(req.ID))
				log.Info("request completed", zap.Int("units", units))
				timer.Stop(OutcomeCompleted)
				return
			}
			e.fail(log, timer, req.ID, faults.Wrap(faults.NetworkFailure, err))
			return
		}
		if unit == "" {
			continue
		}

		// The upstream can degrade mid-stream; a unit carrying challenge
		// markers blocks the request exactly like a blocked dispatch.
		if verdict := e.detector.ClassifyChunk(unit); verdict.Blocked() {
			e.block(log, timer, req, verdict)
			return
		}

		// Re-checked before every forward: once aborted, not a single
		// further unit may leave, bytes in flight or not.
		if execCtx.Err() != nil {
			e.abort(log, timer)
			return
		}

		e.send(log, protocol.NewChunk(req.ID, unit))
		e.metrics.StreamUnits.Inc()
		units++
	}
}

// block persists the request as received (payload and any remaining files,
// never partial output) and starts recovery. Nothing is sent for the id.
func (e *Executor) block(log *logging.Logger, timer *monitoring.Timer, req types.LogicalRequest, verdict recovery.Verdict) {
	reason := string(verdict.Kind())

	// Detached context: blocks often coincide with channel loss and the
	// mass cancellation that follows, and the record must land either way.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.store.Append(ctx, retry.FromRequest(req, reason)); err != nil {
		log.Error("failed to persist blocked request", zap.Error(err))
	}

	e.metrics.RecordBlock(reason)
	log.Warn("request blocked, persisted for replay", zap.String("reason", reason))
	e.trigger.TriggerRecovery(reason)
	timer.Stop(OutcomeBlocked)
}

// fail reports a terminal error to the orchestrator: error payload, then the
// completion sentinel.
func (e *Executor) fail(log *logging.Logger, timer *monitoring.Timer, id string, err error) {
	log.Warn("request failed", zap.Error(err))
	e.send(log, protocol.NewError(id, err.Error()))
	e.send(log, protocol.NewDone(id))
	timer.Stop(OutcomeFailed)
}

func (e *Executor) abort(log *logging.Logger, timer *monitoring.Timer) {
	log.Info("request aborted, output suppressed")
	timer.Stop(OutcomeAborted)
}

func (e *Executor) send(log *logging.Logger, frame protocol.Data) {
	if err := e.sender.Send(frame); err != nil {
		log.Warn("failed to forward frame", zap.Error(err))
	}
}
