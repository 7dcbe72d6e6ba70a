package upload

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/arenabridge/agent/internal/shared/types"
)

// attachmentsField is the payload key the upstream reads references from.
const attachmentsField = "experimental_attachments"

// AttachReferences appends the produced references to the newest user
// message in the payload. The payload otherwise passes through untouched.
func AttachReferences(payload json.RawMessage, attachments []types.Attachment) (json.RawMessage, error) {
	if len(attachments) == 0 {
		return payload, nil
	}

	var body map[string]interface{}
	if err := sonic.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	messages, ok := body["messages"].([]interface{})
	if !ok || len(messages) == 0 {
		return nil, fmt.Errorf("payload has no messages to attach to")
	}

	target := -1
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("payload has no user message to attach to")
	}

	msg := messages[target].(map[string]interface{})
	existing, _ := msg[attachmentsField].([]interface{})
	for _, att := range attachments {
		existing = append(existing, map[string]interface{}{
			"name":        att.Name,
			"contentType": att.ContentType,
			"url":         att.URL,
		})
	}
	msg[attachmentsField] = existing
	messages[target] = msg
	body["messages"] = messages

	mutated, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return mutated, nil
}
