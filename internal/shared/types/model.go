package types

import "encoding/json"

// Model is one capability registry entry extracted from page content.
// Type is the normalized modality: "chat", "image", or "video".
type Model struct {
	ID           string          `json:"id"`
	PublicName   string          `json:"publicName"`
	Type         string          `json:"type"`
	Organization string          `json:"organization,omitempty"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
}

// Registry is the wholesale capability set pushed to the orchestrator,
// keyed by public name. It always replaces, never merges.
type Registry map[string]Model
