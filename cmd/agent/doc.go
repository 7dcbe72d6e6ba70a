// Package main is the entry point for the arena bridge agent.
//
// The agent sits between an orchestrator and a browser-fronted arena
// service, relaying logical requests over a single duplex WebSocket channel
// and streaming results back chunk by chunk.
//
// Architecture:
//
//	Orchestrator ⇄ (WebSocket) Agent ⇄ (HTTPS) Arena
//
// The agent provides:
//   - Request multiplexing and per-request abort over one channel
//   - Rate-limit and challenge detection with durable request persistence
//   - Automatic session recovery and replay
//   - The three-step file upload sub-protocol
//   - Capability registry extraction and warmup sessions
//   - A local ops surface for health, metrics, and challenge tokens
//
// Configuration:
//   - Environment variables (ORCHESTRATOR_URL, ARENA_URL, PORT, ...)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Default configuration
//	./agent
//
//	# Explicit endpoints
//	./agent -orchestrator ws://127.0.0.1:5102/ws -arena https://lmarena.ai
//
//	# Development mode (colored logs, debug level)
//	./agent -dev
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
