// Package main is a command line front end for the HTTP sender.
//
// It sends one request through the full dispatch pipeline and prints a JSON
// summary of the final response and every hop taken to reach it.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML file (-config)
//   - CLI flags (override both)
//
// Usage:
//
//	# Follow redirects and print the final response
//	./fetch -L https://example.com/
//
//	# Post a form as an authenticated user
//	./fetch -user admin -pass secret -d 'q=1' https://example.com/search
//
//	# Re-login when the session is lost, saving the body to disk
//	./fetch -login https://example.com/login -logged-in 'Sign out' \
//	    -o report.pdf https://example.com/report
//
// Signals:
//   - SIGINT, SIGTERM: cancel the request in flight
package main
