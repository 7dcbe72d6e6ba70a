// Package faults classifies failures so each layer can decide whether to
// report, persist, or recover. Classification is carried on the error value
// itself and survives wrapping.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the failure class a layer branches on.
type Kind string

const (
	// AuthRequired means the readiness gate could not produce a credential.
	// Fatal for the triggering request; session state is wiped.
	AuthRequired Kind = "auth_required"

	// ChallengeDetected means an interstitial challenge page was served in
	// place of real content. Never fatal: recoverable via session recovery.
	ChallengeDetected Kind = "challenge_detected"

	// RateLimited means the upstream refused with a rate-limit response.
	// Recoverable via persistence and replay.
	RateLimited Kind = "rate_limited"

	// UploadStepFailed means a sign, transfer, or notify step failed for a
	// non-block reason. Fatal for the whole batch.
	UploadStepFailed Kind = "upload_step_failed"

	// NetworkFailure covers transport-level errors outside the block taxonomy.
	NetworkFailure Kind = "network_failure"

	// ParseFailure means every parsing strategy for a boundary response was
	// exhausted without a usable result.
	ParseFailure Kind = "parse_failure"

	// Aborted means the orchestrator cancelled the request.
	Aborted Kind = "aborted"
)

// Fault is a classified error. Step is set when the failure belongs to a
// named stage of a multi-step operation ("sign", "transfer", "notify").
type Fault struct {
	Kind Kind
	Step string
	Err  error
}

func New(kind Kind, msg string) *Fault {
	return &Fault{Kind: kind, Err: errors.New(msg)}
}

func Newf(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// WrapStep wraps err with both a kind and the pipeline step that produced it.
func WrapStep(kind Kind, step string, err error) *Fault {
	return &Fault{Kind: kind, Step: step, Err: err}
}

func (f *Fault) Error() string {
	if f.Step != "" {
		return fmt.Sprintf("%s (%s): %v", f.Kind, f.Step, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is matches any *Fault of the same kind, so errors.Is(err, &Fault{Kind: k})
// works across wrapping.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind
}

// KindOf returns the classification of err, or "" when unclassified.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsBlock reports whether err represents a block condition: the request must
// be persisted and replayed rather than answered.
func IsBlock(err error) bool {
	k := KindOf(err)
	return k == RateLimited || k == ChallengeDetected
}

// Recoverable reports whether the kind is resolved by session recovery and
// replay rather than by reporting an error to the caller.
func Recoverable(kind Kind) bool {
	return kind == RateLimited || kind == ChallengeDetected
}
