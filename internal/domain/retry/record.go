package retry

import (
	"encoding/json"
	"time"

	"github.com/arenabridge/agent/internal/shared/types"
)

// Record is one persisted logical request awaiting replay. It carries
// everything needed to re-execute from scratch, including original file
// bytes for requests that were blocked mid-upload.
type Record struct {
	RequestID string             `json:"request_id"`
	Kind      types.RequestKind  `json:"kind"`
	ModelName string             `json:"model_name,omitempty"`
	Payload   json.RawMessage    `json:"payload"`
	Files     []types.FileUpload `json:"files,omitempty"`
	Reason    string             `json:"reason"`
	CreatedAt time.Time          `json:"created_at"`
}

// FromRequest captures a logical request into a durable record.
func FromRequest(req types.LogicalRequest, reason string) Record {
	return Record{
		RequestID: req.ID,
		Kind:      req.Kind,
		ModelName: req.ModelName,
		Payload:   req.Payload,
		Files:     req.Files,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// Request reconstructs the logical request for replay. The replay mark is
// observability only: a replay that blocks again is persisted like any fresh
// request.
func (r Record) Request() types.LogicalRequest {
	return types.LogicalRequest{
		ID:        r.RequestID,
		Kind:      r.Kind,
		ModelName: r.ModelName,
		Payload:   r.Payload,
		Files:     r.Files,
		Replayed:  true,
	}
}
