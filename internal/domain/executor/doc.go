// Package executor runs logical requests to their terminal outcome and owns
// the registry of in-flight cancellation handles.
//
// Every request follows the same path: wait for auth readiness, upload any
// attached files, dispatch the single outbound call, then forward each
// partial-result unit the moment it arrives. Blocked requests are persisted
// and leave in silence; aborted requests stop mid-word; everything else ends
// with the completion sentinel.
package executor
