// Package arena is the HTTP boundary to the target service. One client
// carries the page session's cookie jar through every call: page fetches,
// streaming chat dispatches, the three upload steps, and challenge token
// verification.
//
// Two rules hold everywhere. First, a chat dispatch is a single outbound
// call; nothing at this layer retries it, because the durable store replay
// is the system's retry mechanism. Second, the circuit breaker counts only
// transport failures; refusals the upstream expresses as status codes or
// challenge pages belong to the block detector.
package arena
