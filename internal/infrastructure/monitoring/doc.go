/*
Package monitoring provides Prometheus metrics for the sending core.

# Overview

Metrics covers logical sends, the individual hops they put on the wire,
forced re-authentications, early redirect stops, transport retries, breaker
transitions, listener failures and body bytes written by each sink.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	metrics.ObserveHop("manual", 302)
	metrics.IncRedirectStop("no_location")

A nil *Metrics is accepted everywhere and records nothing, so components can
be built without metrics in tests.
*/
package monitoring
