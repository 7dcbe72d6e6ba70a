/*
Package monitoring provides Prometheus metrics for the relay agent.

# Overview

Tracks the agent's externally observable behavior: channel connectivity and
message volume, logical request outcomes and durations, forwarded stream
units, detected blocks, recovery and replay activity, durable store depth,
upload pipeline steps, and capability registry size.

# Usage

	// Create metrics collector (owns its registry)
	metrics := monitoring.NewMetrics()

	// Record events
	metrics.SetConnected(true)
	metrics.RecordMessage("in", "chat_request")
	metrics.RecordBlock("rate_limited")

	// Time a logical request
	timer := monitoring.NewTimer(metrics, "chat")
	// ... execute ...
	timer.Stop("completed")

# Metrics Endpoint

The ops HTTP surface exposes the registry:

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
