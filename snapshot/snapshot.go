// Package snapshot implements the snapshot facility (§4.I): when a
// computation's very first action is a DontCheck prelude, its one fixed
// round-robin schedule never needs re-exploring — only the state it
// leaves behind matters to every DPOR branch that follows. Capture runs
// that prelude once and hands back a reusable Snapshot; Restore clones
// its Context and replays its lifted effects so every later run starts
// from identical state without re-walking the prelude's own schedule.
package snapshot

import (
	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/scheduler"
	"github.com/kolkov/sct/trace"
)

// Program builds one fresh, unstarted computation, identically to
// dpor.Program — kept as its own type so this package does not need to
// import dpor for a single function signature.
type Program func(ctx *interp.Context)

// Snapshot is the state captured right after a DontCheck prelude
// finished: a Context ready to Clone from, plus the sequence of Lift
// effects it observed, replayed for their side effects (§4.I "the
// replay log is re-executed for side effects only") whenever Restore
// produces a fresh working copy.
type Snapshot struct {
	ctx    *interp.Context
	replay []func() action.Value
}

// CanSnapshot reports whether program's very first action is a
// DontCheck (§4.I "canSnapshot(c) = true iff the computation's very
// first step is DontCheck"), without running anything: Spawn installs
// the root thread's initial action directly as its Cont, so the check
// never has to step the interpreter to answer it.
func CanSnapshot(program Program) bool {
	ctx := interp.New(memmodel.SC)
	program(ctx)
	root, ok := ctx.Threads.Get(ctx.Root())
	return ok && root.Cont != nil && root.Cont.Kind() == action.KDontCheck
}

// Capture runs program's DontCheck prelude to completion under
// round-robin scheduling and SC (§4.I), and returns the resulting
// Snapshot. ok is false when program does not start with a DontCheck,
// when the prelude's Bound is exceeded, or when the prelude itself
// deadlocks or errors — in every such case the caller should fall back
// to running program from scratch.
func Capture(program Program) (snap *Snapshot, ok bool) {
	ctx := interp.New(memmodel.SC)
	program(ctx)

	root, found := ctx.Threads.Get(ctx.Root())
	if !found || root.Cont == nil || root.Cont.Kind() != action.KDontCheck {
		return nil, false
	}
	prelude := root.Cont.(action.DontCheck)

	sched := scheduler.NewRoundRobin()
	var previous *scheduler.Previous
	steps := 0
	for {
		if prelude.Bound != nil && steps >= *prelude.Bound {
			return nil, false
		}
		candidates := ctx.Candidates()
		if len(candidates) == 0 {
			return nil, false
		}
		chosen, schedOk := sched.Schedule(candidates, previous)
		if !schedOk {
			return nil, false
		}

		kind := trace.Continue
		switch {
		case previous == nil:
			kind = trace.Start
		case previous.Tid != chosen.Tid:
			kind = trace.SwitchTo
		}

		ev, err := ctx.Step(chosen, kind)
		if err != nil {
			return nil, false
		}
		previous = &scheduler.Previous{Tid: chosen.Tid, Commit: chosen.Commit, Action: ev.Action}
		steps++

		if !ctx.InDontCheck() {
			break
		}
	}

	return &Snapshot{
		ctx:    ctx.Clone(),
		replay: append([]func() action.Value(nil), ctx.LiftLog()...),
	}, true
}

// Restore produces a fresh working Context cloned from the captured
// post-prelude state, having first replayed every recorded Lift effect
// for its side effects with the return value discarded (§4.I): the
// clone's thread/memory/STM state already reflects the original return
// values, so a new call is only ever made to reproduce whatever the
// effect did to the outside world, never to feed the computation again.
func (s *Snapshot) Restore() *interp.Context {
	for _, effect := range s.replay {
		effect()
	}
	return s.ctx.Clone()
}
