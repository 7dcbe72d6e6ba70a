// Package auth gates outbound work on session readiness. The credential
// lives in the page session's cookie jar; when it is missing the gate runs a
// challenge-token flow (manual intake or external solver poll) and exchanges
// the token for a credential through the verification endpoint.
package auth
