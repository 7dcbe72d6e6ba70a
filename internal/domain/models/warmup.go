package models

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/domain/recovery"
	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/protocol"
	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// defaultWarmupPrompt seeds the synthetic user turn. The content does not
// matter; the evaluation exists only to mint session identifiers.
const defaultWarmupPrompt = "Hello"

// warmupBudget caps how long a warmup may hold a stream open.
const warmupBudget = 30 * time.Second

// Identifier patterns scanned across stream units. Units may carry the ids
// escaped inside serialized JSON, hence the optional backslashes.
var (
	sessionIDPattern = regexp.MustCompile(`\\?"evaluationSessionId\\?"\s*:\s*\\?"([0-9a-fA-F-]{36})`)
	messageIDPattern = regexp.MustCompile(`\\?"(?:modelAMessageId|messageId)\\?"\s*:\s*\\?"([0-9a-fA-F-]{36})`)
)

// Stream and Streamer mirror the boundary client's dispatch surface.
type Stream interface {
	StatusCode() int
	Next() (string, error)
	ReadAll() string
	Close() error
}

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

// SessionIDs is the pair a warmup exists to produce: the evaluation session
// and the assistant message a later retry would target.
type SessionIDs struct {
	SessionID string
	MessageID string
}

// Warmer mints fresh sessions: it issues a synthetic evaluation, watches the
// stream for the identifiers, and hangs up the moment it has them.
type Warmer struct {
	gate     ReadinessGate
	client   Streamer
	service  *Service
	detector *recovery.Detector
	log      *logging.Logger
}

func NewWarmer(gate ReadinessGate, client Streamer, service *Service, detector *recovery.Detector, log *logging.Logger) *Warmer {
	return &Warmer{
		gate:     gate,
		client:   client,
		service:  service,
		detector: detector,
		log:      log.Component("warmup"),
	}
}

// Warmup runs one warmup request and returns the report to send out-of-band.
// Warmups are synthetic and never persisted; a block fault surfaces to the
// caller so it can still start recovery.
func (w *Warmer) Warmup(ctx context.Context, req types.LogicalRequest) (protocol.SessionCreated, error) {
	none := protocol.SessionCreated{}

	ctx, cancel := context.WithTimeout(ctx, warmupBudget)
	defer cancel()

	if err := w.gate.Ensure(ctx); err != nil {
		return none, err
	}

	payload := req.Payload
	var fallback SessionIDs
	if len(payload) == 0 || string(payload) == "null" {
		model, ok := w.service.Lookup(ctx, req.ModelName)
		if !ok {
			return none, faults.Newf(faults.ParseFailure, "unknown model %q", req.ModelName)
		}
		var err error
		payload, fallback, err = SynthesizeEvaluation(model.ID, defaultWarmupPrompt)
		if err != nil {
			return none, err
		}
	} else {
		fallback = payloadIDs(payload)
	}

	stream, err := w.client.StreamChat(ctx, types.KindWarmup, payload)
	if err != nil {
		return none, err
	}
	defer stream.Close()

	if verdict := w.detector.ClassifyStatus(stream.StatusCode()); verdict.Blocked() {
		return none, verdict.Fault("warmup dispatch")
	}
	if code := stream.StatusCode(); code >= 400 {
		if verdict := w.detector.ClassifyResponse(code, stream.ReadAll()); verdict.Blocked() {
			return none, verdict.Fault("warmup dispatch")
		}
		return none, faults.Newf(faults.NetworkFailure, "warmup rejected with status %d", code)
	}

	ids, err := w.harvest(ctx, stream, fallback)
	if err != nil {
		return none, err
	}
	if ids.SessionID == "" || ids.MessageID == "" {
		return none, faults.New(faults.ParseFailure, "no session identifiers in stream or payload")
	}

	w.log.Info("session warmed",
		zap.String("model", req.ModelName),
		zap.String("session_id", ids.SessionID))
	return protocol.NewSessionCreated(req.ID, req.ModelName, ids.SessionID, ids.MessageID), nil
}

// harvest scans units until both identifiers are seen, then stops reading;
// the deferred close in Warmup hangs up the stream. A clean end of stream
// falls back to the payload-provided identifiers.
func (w *Warmer) harvest(ctx context.Context, stream Stream, fallback SessionIDs) (SessionIDs, error) {
	var found SessionIDs
	for ctx.Err() == nil {
		unit, err := stream.Next()
		if err != nil {
			break
		}
		if unit == "" {
			continue
		}

		if verdict := w.detector.ClassifyChunk(unit); verdict.Blocked() {
			return SessionIDs{}, verdict.Fault("warmup stream")
		}
		if strings.HasPrefix(strings.TrimSpace(unit), `{"error"`) {
			return SessionIDs{}, faults.Newf(faults.NetworkFailure, "warmup stream error: %s", unit)
		}

		if m := sessionIDPattern.FindStringSubmatch(unit); m != nil {
			found.SessionID = m[1]
		}
		if m := messageIDPattern.FindStringSubmatch(unit); m != nil {
			found.MessageID = m[1]
		}
		if found.SessionID != "" && found.MessageID != "" {
			return found, nil
		}
	}

	if found.SessionID == "" {
		found.SessionID = fallback.SessionID
	}
	if found.MessageID == "" {
		found.MessageID = fallback.MessageID
	}
	return found, nil
}

type evalMessage struct {
	ID                      string             `json:"id"`
	Role                    string             `json:"role"`
	Content                 string             `json:"content"`
	ExperimentalAttachments []types.Attachment `json:"experimental_attachments"`
	ParentMessageIDs        []string           `json:"parentMessageIds"`
	ParticipantPosition     string             `json:"participantPosition"`
	ModelID                 *string            `json:"modelId"`
	EvaluationSessionID     string             `json:"evaluationSessionId"`
	Status                  string             `json:"status"`
	FailureReason           *string            `json:"failureReason"`
}

type evalPayload struct {
	ID              string        `json:"id"`
	Mode            string        `json:"mode"`
	ModelAID        string        `json:"modelAId"`
	UserMessageID   string        `json:"userMessageId"`
	ModelAMessageID string        `json:"modelAMessageId"`
	Messages        []evalMessage `json:"messages"`
	Modality        string        `json:"modality"`
}

// SynthesizeEvaluation builds the minimal direct-mode evaluation for one
// model: a pending user turn plus an empty assistant placeholder, all ids
// freshly minted.
func SynthesizeEvaluation(modelID, prompt string) (json.RawMessage, SessionIDs, error) {
	evaluationID := uuid.NewString()
	userMessageID := uuid.NewString()
	modelMessageID := uuid.NewString()

	payload := evalPayload{
		ID:              evaluationID,
		Mode:            "direct",
		ModelAID:        modelID,
		UserMessageID:   userMessageID,
		ModelAMessageID: modelMessageID,
		Messages: []evalMessage{
			{
				ID:                      userMessageID,
				Role:                    "user",
				Content:                 prompt,
				ExperimentalAttachments: []types.Attachment{},
				ParentMessageIDs:        []string{},
				ParticipantPosition:     "a",
				EvaluationSessionID:     evaluationID,
				Status:                  "pending",
			},
			{
				ID:                      modelMessageID,
				Role:                    "assistant",
				Content:                 "",
				ExperimentalAttachments: []types.Attachment{},
				ParentMessageIDs:        []string{userMessageID},
				ParticipantPosition:     "a",
				ModelID:                 &modelID,
				EvaluationSessionID:     evaluationID,
				Status:                  "pending",
			},
		},
		Modality: ModalityChat,
	}

	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, SessionIDs{}, err
	}
	return raw, SessionIDs{SessionID: evaluationID, MessageID: modelMessageID}, nil
}

// payloadIDs reads the identifier pair off a caller-provided payload.
func payloadIDs(payload json.RawMessage) SessionIDs {
	var p struct {
		ID              string `json:"id"`
		ModelAMessageID string `json:"modelAMessageId"`
	}
	if err := sonic.Unmarshal(payload, &p); err != nil {
		return SessionIDs{}
	}
	return SessionIDs{SessionID: p.ID, MessageID: p.ModelAMessageID}
}
