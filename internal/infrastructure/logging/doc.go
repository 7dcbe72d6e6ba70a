// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Components take named sub-loggers via Component, and request-scoped work
// attaches the logical request identifier via WithRequest so every line for
// one multiplexed request can be correlated.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	log := logger.Component("channel")
//	log.Info("connected", zap.String("url", wsURL))
package logging
