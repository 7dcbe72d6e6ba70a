// Package retry is the durable side of request recovery: blocked requests
// are appended to a SQLite-backed store and handed back, exactly once and in
// arrival order, when the recovery controller replays them.
package retry
