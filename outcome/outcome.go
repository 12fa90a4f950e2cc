// Package outcome implements the failure taxonomy (§7), the settings
// surface (§6 "Settings"), and outcome-management policy (§4.K): what a
// run produced, and how a caller wants repeated/uninteresting results
// handled.
package outcome

import (
	"fmt"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/diagnostics"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/trace"
)

// Kind discriminates a successful run from each member of the failure
// taxonomy (§7).
type Kind int

const (
	Success Kind = iota
	Deadlock
	STMDeadlock
	InternalError
	UncaughtException
	IllegalSubconcurrency
	IllegalDontCheck
	Abort
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Deadlock:
		return "Deadlock"
	case STMDeadlock:
		return "STMDeadlock"
	case InternalError:
		return "InternalError"
	case UncaughtException:
		return "UncaughtException"
	case IllegalSubconcurrency:
		return "IllegalSubconcurrency"
	case IllegalDontCheck:
		return "IllegalDontCheck"
	case Abort:
		return "Abort"
	default:
		return "Kind(?)"
	}
}

// Error is the Left side of an outcome: a tagged failure.
type Error struct {
	Kind    Kind
	Message string
	// Exception carries the thrown value for UncaughtException.
	Exception action.Value
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func DeadlockError() *Error { return newError(Deadlock, "no runnable thread and at least one blocked") }

func STMDeadlockError() *Error {
	return newError(STMDeadlock, "sole remaining thread blocked in STM retry with an empty waiter set")
}

func InternalErrorf(format string, args ...any) *Error {
	return newError(InternalError, fmt.Sprintf(format, args...))
}

func UncaughtExceptionError(exc action.Value) *Error {
	return &Error{Kind: UncaughtException, Message: fmt.Sprintf("%v", exc), Exception: exc}
}

func IllegalSubconcurrencyError() *Error {
	return newError(IllegalSubconcurrency, "nested Sub, or Sub inside DontCheck")
}

func IllegalDontCheckError() *Error {
	return newError(IllegalDontCheck, "DontCheck not at the head of the computation")
}

func AbortError(reason string) *Error { return newError(Abort, reason) }

// Outcome is what a single run produced: either a successful value or
// a tagged failure (§4.K, §7).
type Outcome struct {
	Err   *Error
	Value action.Value
}

// Ok builds a successful outcome.
func Ok(v action.Value) Outcome { return Outcome{Value: v} }

// Fail builds a failed outcome.
func Fail(err *Error) Outcome { return Outcome{Err: err} }

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.Err != nil }

// Kind reports the outcome's tag: Success, or the failure's Kind.
func (o Outcome) Kind() Kind {
	if o.Err == nil {
		return Success
	}
	return o.Err.Kind
}

// Result pairs a run's outcome with the trace that produced it,
// per-run output of the driver (§8.2's "a sequence of (outcome, trace)
// pairs").
type Result struct {
	Outcome Outcome
	Trace   trace.Trace
}

// Discard is the suppression level a Settings.Discard policy returns
// for a given outcome (§6 "discard").
type Discard int

const (
	DiscardNone Discard = iota
	DiscardTrace
	DiscardTraceAndResult
)

// Bounds are the orthogonal exploration limits the DPOR driver may
// apply (§4.H "Bounds"). A nil pointer means unbounded.
type Bounds struct {
	Preemption *int
	Fair       *int
	Length     *int
}

// Settings is the recognized option set (§6 "Settings").
type Settings struct {
	MemType memmodel.Type

	// Equality collapses duplicate outcomes when non-nil (§4.K).
	Equality func(a, b Outcome) bool

	// Discard classifies how much of a result to keep; nil means
	// DiscardNone for everything.
	Discard func(o Outcome) Discard

	// EarlyExit halts exploration once it returns true for a result.
	EarlyExit func(o Outcome) bool

	Simplify bool

	// Diag receives the driver's and simplifier's debug_print /
	// debug_fatal output (§6). Nil is valid: every Sink method
	// tolerates a nil receiver.
	Diag *diagnostics.Sink

	Bounds Bounds
}

// DefaultSettings returns SC memory, no dedup, no discard, no early
// exit, simplification enabled, and no debug sink — the baseline a
// caller starts from and overrides fields on.
func DefaultSettings() Settings {
	return Settings{
		MemType:  memmodel.SC,
		Simplify: true,
	}
}

// discardFor returns DiscardNone unless a Discard policy is set.
func (s Settings) discardFor(o Outcome) Discard {
	if s.Discard == nil {
		return DiscardNone
	}
	return s.Discard(o)
}

// Apply trims r according to s's discard policy, returning the
// (possibly emptied) result to keep.
func (s Settings) Apply(r Result) Result {
	switch s.discardFor(r.Outcome) {
	case DiscardTraceAndResult:
		return Result{}
	case DiscardTrace:
		return Result{Outcome: r.Outcome}
	default:
		return r
	}
}

// sameKind compares two failure outcomes "by kind" (§4.K "left/failure
// outcomes compared by kind"), the fallback used when no Equality
// predicate is supplied.
func sameKind(a, b Outcome) bool {
	if a.Failed() != b.Failed() {
		return false
	}
	if a.Failed() {
		return a.Err.Kind == b.Err.Kind
	}
	return false // two Success outcomes are never deduped without an explicit Equality
}

// Equal reports whether a and b should be treated as duplicates under
// s: s.Equality if supplied, else sameKind.
func (s Settings) Equal(a, b Outcome) bool {
	if s.Equality != nil {
		return s.Equality(a, b)
	}
	return Equal(a, b)
}

// Equal is the default duplicate-detection rule (§4.K "left/failure
// outcomes compared by kind") used wherever no caller-supplied Equality
// predicate applies — Settings.Equal falls back to it, and so does any
// other component that needs an outcome-equality default (e.g. the
// trace simplifier, §4.J).
func Equal(a, b Outcome) bool {
	return sameKind(a, b)
}
