// Package logging builds the zap loggers used across the sender.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Both write to stderr by default so that command output on stdout stays
// machine readable.
//
// Example Usage:
//
//	logger := logging.NewOrNop(logging.DefaultConfig())
//	logger.Info("Sending", zap.String("uri", ex.Request.URL.String()))
package logging
