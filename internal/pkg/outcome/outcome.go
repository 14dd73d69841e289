// Package outcome describes the result of a best-effort side effect.
//
// Jobs perform many writes whose failure must not abort the surrounding run
// (counter bumps, audit rows, event inserts). Instead of swallowing those
// errors, each side effect returns an Outcome and the caller decides:
// NonFatal outcomes are logged, MustReact outcomes change control flow.
package outcome

import (
	"errors"
	"fmt"
)

// Kind classifies an Outcome.
type Kind int

const (
	Succeeded Kind = iota
	NonFatal
	MustReact
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case NonFatal:
		return "non_fatal"
	case MustReact:
		return "must_react"
	}
	return "unknown"
}

// Outcome is the explicit result of one side effect.
type Outcome struct {
	Kind Kind
	Op   string
	Err  error
}

// OK returns a successful outcome for op.
func OK(op string) Outcome { return Outcome{Kind: Succeeded, Op: op} }

// Soft wraps err as a non-fatal outcome. A nil err yields OK.
func Soft(op string, err error) Outcome {
	if err == nil {
		return OK(op)
	}
	return Outcome{Kind: NonFatal, Op: op, Err: err}
}

// Hard wraps err as an outcome the caller must react to. A nil err yields OK.
func Hard(op string, err error) Outcome {
	if err == nil {
		return OK(op)
	}
	return Outcome{Kind: MustReact, Op: op, Err: err}
}

// Failed reports whether the side effect did not succeed.
func (o Outcome) Failed() bool { return o.Kind != Succeeded }

func (o Outcome) Error() string {
	if o.Err == nil {
		return o.Op + ": ok"
	}
	return fmt.Sprintf("%s: %v", o.Op, o.Err)
}

// Set collects outcomes of a multi-step operation.
type Set []Outcome

// Add appends o and returns the set for chaining.
func (s *Set) Add(o Outcome) *Set {
	*s = append(*s, o)
	return s
}

// Failures returns the outcomes that did not succeed.
func (s Set) Failures() []Outcome {
	var out []Outcome
	for _, o := range s {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Fatal returns the joined errors of MustReact outcomes, or nil.
func (s Set) Fatal() error {
	var errs []error
	for _, o := range s {
		if o.Kind == MustReact {
			errs = append(errs, fmt.Errorf("%s: %w", o.Op, o.Err))
		}
	}
	return errors.Join(errs...)
}
