// Package upload runs the sign, transfer, notify protocol that turns raw
// file bytes into durable attachment references before a request is
// dispatched. Sign and notify are keyed by action tokens cached from page
// content and refreshed passively from live traffic; their response bodies
// arrive in several shapes and are parsed by an ordered strategy list.
package upload
