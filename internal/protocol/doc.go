// Package protocol defines the duplex channel wire format between the agent
// and the orchestrator.
//
// Inbound frames are discriminated by a "type" field, with one legacy
// exception: a frame bearing only request_id and payload predates the
// discriminator and decodes as a chat request. Outbound traffic is mostly
// Data envelopes ({request_id, data}) where data is a raw partial-result
// unit, an {"error": ...} body, or the literal "[DONE]" sentinel, plus a
// small set of control messages (pong, reconnection_handshake,
// model_registry, session_created).
package protocol
