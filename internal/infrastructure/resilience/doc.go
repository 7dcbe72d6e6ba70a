/*
Package resilience provides the failure-handling primitives shared across the
agent: a circuit breaker for the upstream boundary and bounded polling
policies for recovery waits.

# Circuit breaker

Three-state breaker (Closed, Open, Half-Open) guarding the target-service
client so a flapping upstream does not absorb every dispatch:

	breaker := resilience.New("arena", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	result, err := breaker.Execute(func() (interface{}, error) {
		return client.Call()
	})

# Polling policies

Policy captures an interval plus a budget for the fixed-rate bounded waits
used during session recovery and challenge clearance:

	p := resilience.NewPolicy(time.Second, 45*time.Second)
	err := p.WaitUntil(ctx, session.Ready)
*/
package resilience
