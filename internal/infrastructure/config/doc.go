// Package config provides 12-factor configuration management for the sender.
//
// Configuration is loaded from environment variables with sensible defaults.
// A YAML file can be layered on top with LoadFile; CLI flags override both.
//
// Configuration Sections:
//   - Sender: redirect, retry and cookie defaults for every send
//   - Transport: HTTP client timeout, user agent, proxy and retry backoff
//   - Logging: Log level and output format
//   - RateLimit: Outbound request rate limiting
//   - Breaker: Per-host circuit breaker
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Following up to %d redirects\n", cfg.Sender.MaxRedirects)
//
// Environment Variables:
//   - SENDER_FOLLOW_REDIRECTS, SENDER_MAX_REDIRECTS, SENDER_MAX_RETRIES
//   - SENDER_USE_COOKIES, SENDER_GLOBAL_STATE, SENDER_REPLACE_AUTH
//   - SENDER_RESPONSE_TIMEOUT, SENDER_CHUNK_SIZE
//   - HTTP_TIMEOUT, HTTP_USER_AGENT, HTTP_PROXY_URL, HTTP_GLOBAL_STATE
//   - HTTP_RETRY_WAIT_MIN, HTTP_RETRY_WAIT_MAX
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - BREAKER_ENABLED, BREAKER_MAX_REQUESTS, BREAKER_INTERVAL
//   - BREAKER_TIMEOUT, BREAKER_FAILURES
package config
