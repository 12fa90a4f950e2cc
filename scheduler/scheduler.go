// Package scheduler implements the scheduler contract (§4.F) and the
// round-robin scheduler used to run a DontCheck prelude (§4.I).
//
// The contract is phrased functionally in the spec
// (`schedule(runnable, previous, s) → (chosen, s')`); Go expresses the
// threaded state `s` as a receiver instead of a return value, the same
// shape the teacher uses for its own stateful collaborators (e.g.
// detector.Detector's methods mutate in place rather than returning a
// new detector).
package scheduler

import (
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/trace"
)

// Candidate is one schedulable unit together with a lookahead summary
// of what it would do next (§4.F). Most candidates are a real thread;
// Commit is set instead for a pending-write pseudo-thread exposed by
// the memory model (§4.B "commit_options"), deterministically
// identified by the (writer, cell) pair it would flush.
type Candidate struct {
	Tid       ids.ID
	Commit    *memmodel.CommitToken
	Lookahead trace.ActionTag
}

// Previous describes the unit and action chosen on the prior step, if
// any.
type Previous struct {
	Tid    ids.ID
	Commit *memmodel.CommitToken
	Action trace.ActionTag
}

// sameUnit reports whether c and p name the same schedulable unit.
func sameUnit(c Candidate, p Previous) bool {
	if (c.Commit == nil) != (p.Commit == nil) {
		return false
	}
	if c.Commit != nil {
		return *c.Commit == *p.Commit
	}
	return c.Tid == p.Tid
}

// Scheduler picks the next unit to run from the runnable set, or
// reports that the run should abort by returning ok == false (§4.F
// "Returning None aborts the run").
type Scheduler interface {
	Schedule(runnable []Candidate, previous *Previous) (chosen Candidate, ok bool)
}

// RoundRobin never preempts a still-runnable thread and otherwise
// cycles through runnable threads in ascending id order, wrapping
// around. It is deterministic and makes no use of lookahead, which is
// exactly what a DontCheck prelude needs (§4.I): one fixed, boring
// schedule, not exploration.
type RoundRobin struct {
	last ids.ID
}

// NewRoundRobin returns a round-robin scheduler with no prior thread.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Schedule implements Scheduler. RoundRobin only ever sees real
// threads (a DontCheck prelude runs under SC, where writes commit
// inline and no commit pseudo-thread is ever exposed), so it compares
// by Tid directly rather than via sameUnit.
func (r *RoundRobin) Schedule(runnable []Candidate, previous *Previous) (Candidate, bool) {
	if len(runnable) == 0 {
		return Candidate{}, false
	}
	if previous != nil {
		for _, c := range runnable {
			if c.Tid == previous.Tid {
				r.last = c.Tid
				return c, true
			}
		}
	}

	// previous thread is no longer runnable (or this is the first
	// step): pick the runnable candidate with the smallest id strictly
	// greater than r.last, wrapping around to the smallest overall.
	var next Candidate
	found := false
	for _, c := range runnable {
		if c.Tid.Int() > r.last.Int() {
			if !found || c.Tid.Int() < next.Tid.Int() {
				next, found = c, true
			}
		}
	}
	if !found {
		next = runnable[0]
		for _, c := range runnable[1:] {
			if c.Tid.Int() < next.Tid.Int() {
				next = c
			}
		}
	}
	r.last = next.Tid
	return next, true
}
