package models

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/arenabridge/agent/internal/shared/types"
)

// Output modalities a registry entry can declare.
const (
	ModalityChat  = "chat"
	ModalityImage = "image"
	ModalityVideo = "video"
)

// modelAnchor marks the start of one model object inside the page's escaped
// serialization payload.
var modelAnchor = regexp.MustCompile(`\{\\"id\\":\\"[a-f0-9-]+\\"`)

// extractWindow bounds the brace scan per candidate; no model definition
// comes close to this size.
const extractWindow = 10000

var unescaper = strings.NewReplacer(`\"`, `"`, `\\`, `\`)

// Extract pulls every model object embedded in page HTML. Candidates that do
// not close within the window or fail to parse are skipped; duplicate public
// names keep the first occurrence. Each entry's modality is normalized from
// its capability descriptor.
func Extract(html string) types.Registry {
	registry := make(types.Registry)

	for _, loc := range modelAnchor.FindAllStringIndex(html, -1) {
		raw, ok := matchBraces(html, loc[0])
		if !ok {
			continue
		}

		var model types.Model
		if err := sonic.Unmarshal([]byte(unescaper.Replace(raw)), &model); err != nil {
			continue
		}
		if model.PublicName == "" {
			continue
		}
		if _, seen := registry[model.PublicName]; seen {
			continue
		}

		model.Type = Classify(model.Capabilities)
		registry[model.PublicName] = model
	}

	return registry
}

// Classify derives the output modality from a capability descriptor: an
// image output capability wins over video, anything else is chat.
func Classify(capabilities []byte) string {
	if len(capabilities) == 0 {
		return ModalityChat
	}

	var caps struct {
		Output map[string]json.RawMessage `json:"outputCapabilities"`
	}
	if err := sonic.Unmarshal(capabilities, &caps); err != nil {
		return ModalityChat
	}

	if _, ok := caps.Output["image"]; ok {
		return ModalityImage
	}
	if _, ok := caps.Output["video"]; ok {
		return ModalityVideo
	}
	return ModalityChat
}

// matchBraces returns the balanced object starting at start. The scan counts
// braces on the escaped text: quotes inside it are escaped, so raw braces
// only appear as structure.
func matchBraces(s string, start int) (string, bool) {
	limit := start + extractWindow
	if limit > len(s) {
		limit = len(s)
	}

	depth := 0
	for i := start; i < limit; i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
