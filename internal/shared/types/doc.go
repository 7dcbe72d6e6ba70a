// Package types provides shared data structures for the relay agent.
//
// Core Types:
//   - LogicalRequest: one multiplexed unit of work from the orchestrator
//   - FileUpload: a file descriptor carrying base64 bytes for replayability
//   - Attachment: the upload result reference inserted into a payload
//   - Model, Registry: capability entries extracted from page content
//
// Types here are deliberately flat and JSON-tagged: logical requests are
// serialized whole (files included) into the durable retry store.
package types
