// Package simplify implements the trace simplifier (§4.J): given a
// failing run's full event sequence, produce a semantically equivalent
// but lexicographically earlier, context-switch-minimal sequence, then
// re-execute it as both a sanity check and the source of the canonical
// reported trace.
//
// The reduction itself is Mazurkiewicz trace theory applied to the same
// commutation question the dependency oracle (package oracle) already
// answers for the DPOR driver (package dpor): two events commute (are
// independent) exactly when oracle.Depends reports false for them.
// Lexicographic normal form, pull-back and push-forward are three views
// of the same fact — any of them is reachable from any other by a
// sequence of adjacent transpositions of independent events — so all
// three collapse here into one bounded fixpoint of adjacent swaps. Step
// 2 (dropping redundant buffer commits) is a distinct, non-reordering
// transformation and stays its own pass.
package simplify

import (
	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/diagnostics"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/oracle"
	"github.com/kolkov/sct/outcome"
	"github.com/kolkov/sct/scheduler"
	"github.com/kolkov/sct/trace"
)

// Program builds one fresh, unstarted computation, identically to
// dpor.Program — kept as its own type so this package does not need to
// import dpor for a single function signature.
type Program func(ctx *interp.Context)

// Simplifier reduces a failing run's trace and re-executes it to
// confirm the reduction is sound.
type Simplifier struct {
	Program Program
	MemType memmodel.Type

	// Equal decides whether a re-executed outcome still counts as "the
	// same" failure as the original (§4.K "equality"). Defaults to
	// outcome.Equal.
	Equal func(a, b outcome.Outcome) bool

	// Diag, if set, receives one line when re-execution diverges from
	// the original and the reduction is discarded (§4.J "logs a
	// diagnostic"), plus a running count of such discards.
	Diag *diagnostics.Sink
}

func (s *Simplifier) equal(a, b outcome.Outcome) bool {
	if s.Equal != nil {
		return s.Equal(a, b)
	}
	return outcome.Equal(a, b)
}

// Simplify reduces original's trace and re-executes the reduction. If
// re-execution reproduces an equal outcome, the reduced Result is
// returned; otherwise original is returned unchanged and a diagnostic is
// logged (§4.J "If the re-executed outcome differs... reports the
// original trace unchanged").
func (s *Simplifier) Simplify(original outcome.Result) outcome.Result {
	reduced := reduce(original.Trace)
	order := unitOrder(reduced)

	result, ok := s.replay(order)
	if !ok {
		s.Diag.NoteSimplificationDiscarded()
		s.Diag.Logf("trace simplification: reduced schedule is not replayable, keeping original trace")
		return original
	}
	if !s.equal(result.Outcome, original.Outcome) {
		s.Diag.NoteSimplificationDiscarded()
		s.Diag.Logf("trace simplification: re-executed outcome %v diverges from original %v, keeping original trace", result.Outcome, original.Outcome)
		return original
	}
	return result
}

// independent reports whether two trace events commute: the oracle's
// question (§4.G), reused here instead of re-derived, is exactly
// "would swapping these two change anything observable".
func independent(a, b trace.Event) bool {
	return !oracle.Depends(a, b)
}

// isBarrier reports whether ev is one of the barrier actions that makes
// a preceding buffered commit on the same cell redundant (§4.J step 2).
func isBarrier(ev trace.Event) bool {
	switch ev.Action.Kind {
	case action.KCASCell, action.KModCellCAS, action.KAtomic:
		return true
	default:
		return false
	}
}

// reduce computes the lexicographic normal form of events (steps 1, 3,
// 4) and then drops redundant pre-barrier commits (step 2), each to a
// fixpoint bounded by len(events).
func reduce(events trace.Trace) trace.Trace {
	out := append(trace.Trace(nil), events...)
	out = normalize(out)
	out = dropRedundantCommits(out)
	return out
}

// normalize repeatedly swaps adjacent independent events whose thread
// ids are out of order, moving the lower-numbered thread's event
// earlier. This is the textbook bubble-sort computation of a trace's
// Mazurkiewicz normal form; it terminates because every swap strictly
// decreases the number of order-inverted pairs, so the bound is simply
// len(events) full passes.
func normalize(events trace.Trace) trace.Trace {
	n := len(events)
	for pass := 0; pass < n; pass++ {
		swapped := false
		for i := 0; i+1 < n; i++ {
			a, b := events[i], events[i+1]
			if a.Tid() == b.Tid() {
				continue
			}
			if a.Tid().Int() <= b.Tid().Int() {
				continue
			}
			if !independent(a, b) {
				continue
			}
			events[i], events[i+1] = b, a
			swapped = true
		}
		if !swapped {
			break
		}
	}
	return events
}

// dropRedundantCommits removes a commit event when every event between
// it and the next barrier on the same cell is independent of it (§4.J
// step 2, "modulo independents"). Only meaningful under TSO/PSO; under
// SC the trace never contains KCommit events in the first place, so the
// scan is a no-op there.
func dropRedundantCommits(events trace.Trace) trace.Trace {
	drop := make([]bool, len(events))
	for i, ev := range events {
		if ev.Action.Kind != action.KCommit {
			continue
		}
		for j := i + 1; j < len(events); j++ {
			next := events[j]
			if isBarrier(next) && next.Action.Resource == ev.Action.Resource {
				drop[i] = true
				break
			}
			if !independent(ev, next) {
				break
			}
		}
	}
	out := make(trace.Trace, 0, len(events))
	for i, ev := range events {
		if !drop[i] {
			out = append(out, ev)
		}
	}
	return out
}

// unit identifies the schedulable entity a reduced event's position
// stands for: either a thread, addressed by tid, or a memory-model
// commit pseudo-thread, addressed by (writer, cell).
type unit struct {
	tid    ids.ID
	commit bool
	writer ids.ID
	cell   ids.ID
}

func unitOfEvent(ev trace.Event) unit {
	if ev.Action.Kind == action.KCommit {
		return unit{commit: true, writer: ev.Action.Thread, cell: ev.Action.Resource}
	}
	return unit{tid: ev.Tid()}
}

func unitOfCandidate(c scheduler.Candidate) unit {
	if c.Commit != nil {
		return unit{commit: true, writer: c.Commit.Writer, cell: c.Commit.Cell}
	}
	return unit{tid: c.Tid}
}

// unitOrder extracts the sequence of units a reduced trace specifies,
// the "(tid, action-shape)" sequence re-execution must follow (§4.J).
func unitOrder(events trace.Trace) []unit {
	out := make([]unit, len(events))
	for i, ev := range events {
		out[i] = unitOfEvent(ev)
	}
	return out
}

// replay re-executes the Program from scratch, forcing each step to the
// next unit in order. Ids are never rewritten explicitly: every action
// is produced lazily by the Program's own continuations as they are
// reached, so a thread's own sequence of ids is regenerated consistently
// regardless of how the cross-thread interleaving was reordered (§4.J
// "renumber thread and cell ids" falls out of replaying through the
// original continuations rather than a detached instruction array).
// Skips a unit that has no matching candidate at its turn — the thread
// it names has already exited under the new interleaving — exactly as
// §4.J directs ("skipping decisions for exited threads").
func (s *Simplifier) replay(order []unit) (outcome.Result, bool) {
	ctx := interp.New(s.MemType)
	s.Program(ctx)

	var events []trace.Event
	oi := 0

	for {
		if ctx.Finished() {
			return outcome.Result{Outcome: ctx.RootOutcome(), Trace: trace.Trace(events)}, true
		}
		candidates := ctx.Candidates()
		if len(candidates) == 0 {
			var o outcome.Outcome
			if ctx.AllBlockedOnRetry() {
				o = outcome.Fail(outcome.STMDeadlockError())
			} else {
				o = outcome.Fail(outcome.DeadlockError())
			}
			return outcome.Result{Outcome: o, Trace: trace.Trace(events)}, true
		}

		for oi < len(order) {
			if candidateFor(candidates, order[oi]) != nil {
				break
			}
			oi++
		}

		var chosen scheduler.Candidate
		if oi < len(order) {
			c := candidateFor(candidates, order[oi])
			chosen = *c
			oi++
		} else {
			chosen = candidates[0]
		}

		kind := trace.Continue
		if len(events) == 0 {
			kind = trace.Start
		} else if !sameUnit(unitOfCandidate(chosen), unitOfEvent(events[len(events)-1])) {
			kind = trace.SwitchTo
		}

		ev, err := ctx.Step(chosen, kind)
		if err != nil {
			return outcome.Result{Outcome: outcome.Fail(err), Trace: trace.Trace(events)}, false
		}
		events = append(events, ev)
	}
}

func candidateFor(candidates []scheduler.Candidate, u unit) *scheduler.Candidate {
	for i := range candidates {
		if sameUnit(unitOfCandidate(candidates[i]), u) {
			return &candidates[i]
		}
	}
	return nil
}

func sameUnit(a, b unit) bool {
	if a.commit != b.commit {
		return false
	}
	if a.commit {
		return a.writer == b.writer && a.cell == b.cell
	}
	return a.tid == b.tid
}
