package types

import "encoding/json"

// RequestKind distinguishes how a logical request entered the agent.
type RequestKind string

const (
	KindChat   RequestKind = "chat"
	KindRetry  RequestKind = "retry"
	KindWarmup RequestKind = "warmup"
)

// FileUpload describes one file the orchestrator wants attached to a request.
// Data carries the raw bytes base64-encoded, exactly as received, so a
// persisted request can be replayed after a restart without the original
// message.
type FileUpload struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data"`
}

// LogicalRequest is one multiplexed unit of work. The payload is opaque to
// the agent except for attachment insertion after a successful upload batch.
type LogicalRequest struct {
	ID        string          `json:"request_id"`
	Kind      RequestKind     `json:"kind"`
	ModelName string          `json:"model_name,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Files     []FileUpload    `json:"files_to_upload,omitempty"`

	// Replayed marks a request dispatched from the durable store rather than
	// straight off the channel.
	Replayed bool `json:"-"`
}

// HasFiles reports whether the request needs the upload pipeline first.
func (r *LogicalRequest) HasFiles() bool { return len(r.Files) > 0 }

// Attachment is the reference appended to the payload's newest user message
// once its file has been signed, transferred, and notified.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}
