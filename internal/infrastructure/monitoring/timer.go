package monitoring

import "time"

// Timer measures one logical request from entry to terminal outcome.
type Timer struct {
	start   time.Time
	metrics *Metrics
	kind    string
}

// NewTimer starts a timer for a request of the given kind.
func NewTimer(metrics *Metrics, kind string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		kind:    kind,
	}
}

// Stop records the duration under the terminal outcome.
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordRequest(t.kind, outcome, time.Since(t.start))
}
