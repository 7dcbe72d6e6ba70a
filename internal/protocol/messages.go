package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/arenabridge/agent/internal/shared/types"
)

// Message type discriminators. A message with no type but a request_id and
// payload is the legacy chat request shape and is normalized on decode.
const (
	TypePing             = "ping"
	TypePong             = "pong"
	TypeChatRequest      = "chat_request"
	TypeRetryRequest     = "retry_request"
	TypeWarmupSession    = "warmup_session"
	TypeAbortRequest     = "abort_request"
	TypeRefreshModels    = "refresh_models"
	TypeReconnectionAck  = "reconnection_ack"
	TypeRestorationAck   = "restoration_ack"
	TypeModelRegistryAck = "model_registry_ack"

	TypeReconnectionHandshake = "reconnection_handshake"
	TypeModelRegistry         = "model_registry"
	TypeSessionCreated        = "session_created"
)

// DoneSentinel terminates every completed request stream.
const DoneSentinel = "[DONE]"

// Inbound is one decoded orchestrator message. Fields are a union across all
// inbound types; Type says which ones are meaningful.
type Inbound struct {
	Type              string             `json:"type,omitempty"`
	RequestID         string             `json:"request_id,omitempty"`
	ModelName         string             `json:"model_name,omitempty"`
	Payload           json.RawMessage    `json:"payload,omitempty"`
	FilesToUpload     []types.FileUpload `json:"files_to_upload,omitempty"`
	PendingRequestIDs []string           `json:"pending_request_ids,omitempty"`
	RestoredCount     int                `json:"restored_count,omitempty"`
	Count             int                `json:"count,omitempty"`
	Timestamp         int64              `json:"timestamp,omitempty"`
}

// Decode parses an orchestrator frame. Legacy frames carry no discriminator,
// only request_id and payload; they are chat requests.
func Decode(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed channel message: %w", err)
	}
	if msg.Type == "" {
		if msg.RequestID == "" || len(msg.Payload) == 0 {
			return nil, fmt.Errorf("message without type, request_id, or payload")
		}
		msg.Type = TypeChatRequest
	}
	return &msg, nil
}

// Request converts a work-bearing message into a logical request. Only valid
// for chat, retry, and warmup types.
func (m *Inbound) Request() *types.LogicalRequest {
	kind := types.KindChat
	switch m.Type {
	case TypeRetryRequest:
		kind = types.KindRetry
	case TypeWarmupSession:
		kind = types.KindWarmup
	}
	return &types.LogicalRequest{
		ID:        m.RequestID,
		Kind:      kind,
		ModelName: m.ModelName,
		Payload:   m.Payload,
		Files:     m.FilesToUpload,
	}
}

// Data is the per-request envelope: every partial-result unit, error body,
// and the terminal sentinel travel in this shape.
type Data struct {
	RequestID string      `json:"request_id"`
	Data      interface{} `json:"data"`
}

// ErrorBody is the error variant of a Data payload.
type ErrorBody struct {
	Error string `json:"error"`
}

// NewChunk wraps one raw partial-result unit.
func NewChunk(requestID, unit string) Data {
	return Data{RequestID: requestID, Data: unit}
}

// NewError wraps a terminal error report.
func NewError(requestID, message string) Data {
	return Data{RequestID: requestID, Data: ErrorBody{Error: message}}
}

// NewDone wraps the stream-termination sentinel.
func NewDone(requestID string) Data {
	return Data{RequestID: requestID, Data: DoneSentinel}
}

// Pong answers a heartbeat, echoing the orchestrator's timestamp so it can
// measure round trips.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPong(timestamp int64) Pong {
	if timestamp == 0 {
		timestamp = NowMillis()
	}
	return Pong{Type: TypePong, Timestamp: timestamp}
}

// ReconnectionHandshake announces the agent's persisted request IDs on every
// channel open so the orchestrator can restore response channels.
type ReconnectionHandshake struct {
	Type              string   `json:"type"`
	PendingRequestIDs []string `json:"pending_request_ids"`
	Timestamp         int64    `json:"timestamp"`
}

func NewReconnectionHandshake(pendingIDs []string) ReconnectionHandshake {
	if pendingIDs == nil {
		pendingIDs = []string{}
	}
	return ReconnectionHandshake{
		Type:              TypeReconnectionHandshake,
		PendingRequestIDs: pendingIDs,
		Timestamp:         NowMillis(),
	}
}

// ModelRegistry pushes the complete capability set, keyed by public name.
// Always wholesale; the orchestrator replaces, never merges.
type ModelRegistry struct {
	Type      string         `json:"type"`
	Models    types.Registry `json:"models"`
	Timestamp int64          `json:"timestamp"`
}

func NewModelRegistry(models types.Registry) ModelRegistry {
	return ModelRegistry{
		Type:      TypeModelRegistry,
		Models:    models,
		Timestamp: NowMillis(),
	}
}

// SessionCreated reports a warmed session out of band.
type SessionCreated struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ModelName string `json:"model_name"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

func NewSessionCreated(requestID, modelName, sessionID, messageID string) SessionCreated {
	return SessionCreated{
		Type:      TypeSessionCreated,
		RequestID: requestID,
		ModelName: modelName,
		SessionID: sessionID,
		MessageID: messageID,
	}
}

// Encode marshals any outbound message.
func Encode(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// NowMillis is the channel timestamp convention.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
