// Package page models the agent's presence on the target service as a
// process-owned page session: a cookie jar shared with the boundary client,
// the last captured page document, and a session key-value store.
//
// "Reload" here means dropping the cached document and re-fetching the page
// through the jar. Recovery wipes cookies for both the exact host and the
// parent domain scope before reloading, because the credential and challenge
// clearance cookies are set domain-wide.
package page
