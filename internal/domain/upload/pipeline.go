package upload

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/arena"
	"github.com/arenabridge/agent/internal/domain/recovery"
	"github.com/arenabridge/agent/internal/domain/retry"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/infrastructure/monitoring"
	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Boundary is the slice of the arena client the pipeline drives.
type Boundary interface {
	Sign(ctx context.Context, action, fileName, contentType string, size int) (*arena.StepResult, error)
	Transfer(ctx context.Context, uploadURL string, data []byte, contentType string) (int, error)
	Notify(ctx context.Context, action, key string) (*arena.StepResult, error)
}

// RecoveryTrigger starts session recovery. Triggering is asynchronous and
// idempotent while one recovery is in flight.
type RecoveryTrigger interface {
	TriggerRecovery(reason string)
}

// Pipeline runs the three-step upload protocol for every file on a request
// and rewrites the payload with the produced references. The request context
// is the single cancellation handle for the whole batch.
type Pipeline struct {
	boundary Boundary
	cache    *ActionCache
	store    *retry.Store
	detector *recovery.Detector
	trigger  RecoveryTrigger
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

// NewPipeline wires the upload pipeline.
func NewPipeline(boundary Boundary, cache *ActionCache, store *retry.Store, detector *recovery.Detector, trigger RecoveryTrigger, metrics *monitoring.Metrics, log *logging.Logger) *Pipeline {
	return &Pipeline{
		boundary: boundary,
		cache:    cache,
		store:    store,
		detector: detector,
		trigger:  trigger,
		metrics:  metrics,
		log:      log,
	}
}

// Process uploads every file on the request in order. On success the
// returned request carries the attachment references in its payload and no
// remaining files, ready for dispatch like any upload-free request.
//
// A rate-limit or challenge at any step persists the whole batch, original
// bytes included, triggers recovery, and returns the block fault; the caller
// must send nothing for the request. Any other failure fails the batch.
func (p *Pipeline) Process(ctx context.Context, req types.LogicalRequest) (types.LogicalRequest, error) {
	if !req.HasFiles() {
		return req, nil
	}

	log := p.log.WithRequest(req.ID)
	log.Info("uploading request files", zap.Int("count", len(req.Files)))

	attachments := make([]types.Attachment, 0, len(req.Files))
	for _, file := range req.Files {
		att, err := p.processFile(ctx, file)
		if err != nil {
			if faults.IsBlock(err) {
				return req, p.persistBatch(req, err)
			}
			log.Warn("upload batch failed",
				zap.String("file", file.FileName), zap.Error(err))
			return req, err
		}
		attachments = append(attachments, att)
	}

	payload, err := AttachReferences(req.Payload, attachments)
	if err != nil {
		return req, faults.Wrap(faults.UploadStepFailed, err)
	}

	// References are durable upstream: if the dispatch blocks later, the
	// mutated payload replays without re-uploading the bytes.
	req.Payload = payload
	req.Files = nil

	log.Info("upload batch complete", zap.Int("attachments", len(attachments)))
	return req, nil
}

func (p *Pipeline) processFile(ctx context.Context, file types.FileUpload) (types.Attachment, error) {
	none := types.Attachment{}

	data, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return none, faults.WrapStep(faults.UploadStepFailed, "decode", err)
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	sig, err := p.sign(ctx, file.FileName, contentType, len(data))
	if err != nil {
		return none, err
	}

	if err := p.transfer(ctx, sig.UploadURL, data, contentType); err != nil {
		return none, err
	}

	url, err := p.notify(ctx, sig.Key)
	if err != nil {
		return none, err
	}

	return types.Attachment{Name: file.FileName, ContentType: contentType, URL: url}, nil
}

func (p *Pipeline) sign(ctx context.Context, fileName, contentType string, size int) (*SignResult, error) {
	action, err := p.cache.Get(ctx, StepSign)
	if err != nil {
		p.metrics.RecordUploadStep(StepSign, "failure")
		return nil, err
	}

	res, err := p.boundary.Sign(ctx, action, fileName, contentType, size)
	if err != nil {
		p.metrics.RecordUploadStep(StepSign, "failure")
		return nil, err
	}
	p.cache.Observe(StepSign, res.Action)

	if err := p.classify(StepSign, res.Status, res.Body); err != nil {
		return nil, err
	}

	sig, err := ParseSign(res.Body)
	if err != nil {
		p.metrics.RecordUploadStep(StepSign, "failure")
		return nil, err
	}
	p.metrics.RecordUploadStep(StepSign, "success")
	return sig, nil
}

func (p *Pipeline) transfer(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	status, err := p.boundary.Transfer(ctx, uploadURL, data, contentType)
	if err != nil {
		p.metrics.RecordUploadStep("transfer", "failure")
		return err
	}
	if err := p.classify("transfer", status, ""); err != nil {
		return err
	}
	p.metrics.RecordUploadStep("transfer", "success")
	return nil
}

func (p *Pipeline) notify(ctx context.Context, key string) (string, error) {
	action, err := p.cache.Get(ctx, StepNotify)
	if err != nil {
		p.metrics.RecordUploadStep(StepNotify, "failure")
		return "", err
	}

	res, err := p.boundary.Notify(ctx, action, key)
	if err != nil {
		p.metrics.RecordUploadStep(StepNotify, "failure")
		return "", err
	}
	p.cache.Observe(StepNotify, res.Action)

	if err := p.classify(StepNotify, res.Status, res.Body); err != nil {
		return "", err
	}

	url, err := ParseNotify(res.Body)
	if err != nil {
		p.metrics.RecordUploadStep(StepNotify, "failure")
		return "", err
	}
	p.metrics.RecordUploadStep(StepNotify, "success")
	return url, nil
}

// classify turns a step response into a block fault, a step failure, or nil.
func (p *Pipeline) classify(step string, status int, body string) error {
	if verdict := p.detector.ClassifyResponse(status, body); verdict.Blocked() {
		p.metrics.RecordUploadStep(step, string(verdict.Kind()))
		return verdict.Fault(step + " blocked")
	}
	if status >= 400 {
		p.metrics.RecordUploadStep(step, "failure")
		fault := faults.Newf(faults.UploadStepFailed, "%s rejected with status %d", step, status)
		fault.Step = step
		return fault
	}
	return nil
}

// persistBatch stores the whole request, original file bytes included, and
// kicks off recovery. The returned error is the block fault so callers know
// to stay silent.
func (p *Pipeline) persistBatch(req types.LogicalRequest, cause error) error {
	reason := string(faults.KindOf(cause))

	// Detached context: a block often coincides with an abort or channel
	// loss, and the record must land either way.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.Append(ctx, retry.FromRequest(req, reason)); err != nil {
		p.log.Error("failed to persist blocked upload batch",
			zap.String("request_id", req.ID), zap.Error(err))
	}

	p.metrics.RecordBlock(reason)
	p.trigger.TriggerRecovery(reason)

	p.log.Warn("upload batch blocked, persisted for replay",
		zap.String("request_id", req.ID), zap.String("reason", reason))
	return cause
}
