// Package recovery detects block conditions and brings the session back.
// The detector classifies responses, pages, and stream units as normal,
// rate-limited, or challenged; the controller serializes the recovery
// procedure (wipe, reload, bounded readiness wait) and replays the durable
// store afterwards.
package recovery
