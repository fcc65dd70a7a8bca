/*
Package resilience provides the circuit breakers the transport puts in front
of each target host.

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open

Only transport failures count: a target answering 500 is healthy from the
breaker's point of view. Settings.IsFailure lets callers exclude errors such
as their own context cancellation.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
	})

	err := group.For(host).Execute(func() error {
		return send()
	})
*/
package resilience
