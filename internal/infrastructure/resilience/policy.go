package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExhausted is returned when a bounded wait runs out of budget
// before its probe reports readiness.
var ErrBudgetExhausted = errors.New("wait budget exhausted")

// Policy is a bounded polling budget: probe every Interval, give up after
// Budget. Waits in this codebase never grow their interval; the upstream
// conditions they watch (challenge clearance, session readiness) resolve at
// their own pace and hammering faster helps nothing.
type Policy struct {
	Interval time.Duration
	Budget   time.Duration
}

// NewPolicy builds a policy, applying safe defaults for zero values.
func NewPolicy(interval, budget time.Duration) Policy {
	if interval <= 0 {
		interval = time.Second
	}
	if budget <= 0 {
		budget = 60 * time.Second
	}
	return Policy{Interval: interval, Budget: budget}
}

// WaitUntil polls probe every Interval until it returns true, the Budget is
// exhausted, or ctx is done. The probe runs once immediately before any
// sleeping. Returns ErrBudgetExhausted on timeout and ctx.Err() on
// cancellation.
func (p Policy) WaitUntil(ctx context.Context, probe func(context.Context) bool) error {
	if probe(ctx) {
		return nil
	}

	deadline := time.NewTimer(p.Budget)
	defer deadline.Stop()
	tick := time.NewTicker(p.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrBudgetExhausted
		case <-tick.C:
			if probe(ctx) {
				return nil
			}
		}
	}
}

// Sleep pauses for Interval or until ctx is done. Used for fixed spacing
// between sequential dispatches.
func (p Policy) Sleep(ctx context.Context) error {
	t := time.NewTimer(p.Interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
