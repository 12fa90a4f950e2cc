// Package dpor implements the exploration driver (§4.H): dynamic
// partial-order reduction over the schedules of a computation run
// through the interpreter (package interp). It is the piece that turns
// "an interpreter that can execute one candidate at a time" into
// "every schedule worth distinguishing, visited exactly once".
//
// The teacher's detector package decides, for a single fixed
// execution, which pairs of accesses raced. This package instead
// decides which executions to run at all: the dependency oracle
// (package oracle) answers exactly the same "do these two accesses
// commute" question the teacher's vector-clock comparison answers,
// reused here to prune the schedule space instead of to flag a race
// after the fact.
package dpor

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/diagnostics"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/oracle"
	"github.com/kolkov/sct/outcome"
	"github.com/kolkov/sct/scheduler"
	"github.com/kolkov/sct/snapshot"
	"github.com/kolkov/sct/trace"
)

// Program builds one fresh, unstarted computation by spawning threads
// into ctx. The driver calls it once per explored schedule; it must
// not depend on anything other than ctx, since a deterministic replay
// of the same schedule has to reallocate the exact same ids and
// resources every time (§4.A).
type Program func(ctx *interp.Context)

// Driver explores every schedule of a Program reachable under DPOR, up
// to the configured Bounds.
type Driver struct {
	Program Program
	MemType memmodel.Type
	Bounds  outcome.Bounds

	// Diag, if set, receives one line per bounded-failed run skipped
	// plus running exploration counters (§6 "debug_print"). A nil Diag
	// is valid: every Sink method tolerates a nil receiver.
	Diag *diagnostics.Sink

	// EarlyExit, if set, stops exploration as soon as it returns true
	// for a reported result (§6 "early_exit: terminate exploration on
	// match"). ExploreParallel can only honor it at a level boundary,
	// since a whole level's prefixes are replayed concurrently.
	EarlyExit func(outcome.Outcome) bool

	snapOnce sync.Once
	snap     *snapshot.Snapshot
}

// snapshotOnce captures the Program's DontCheck prelude, if it has one,
// the first time any run is executed and reuses the result for every
// later run (§4.I "canSnapshot"). A Program whose first action is not a
// DontCheck always returns nil here, cheaply, after the first check.
func (d *Driver) snapshotOnce() *snapshot.Snapshot {
	d.snapOnce.Do(func() {
		d.snap, _ = snapshot.Capture(snapshot.Program(d.Program))
	})
	return d.snap
}

// forcedChoice pins one step of a schedule to a specific schedulable
// unit, either a thread or a memory-model commit pseudo-thread — the
// two shapes scheduler.Candidate itself discriminates.
type forcedChoice struct {
	tid    ids.ID
	commit *memmodel.CommitToken
}

func choiceOf(c scheduler.Candidate) forcedChoice {
	return forcedChoice{tid: c.Tid, commit: c.Commit}
}

func (f forcedChoice) matches(c scheduler.Candidate) bool {
	if (f.commit == nil) != (c.Commit == nil) {
		return false
	}
	if f.commit != nil {
		return *f.commit == *c.Commit
	}
	return f.tid == c.Tid
}

// sameChoice compares two forcedChoice values by what they actually
// pin down rather than by raw struct equality: a commit choice's tid
// field is whatever the constructing context happened to fill in
// (scheduler.Candidate leaves Tid unset for commit candidates; a
// choice rebuilt from an executed trace.Event fills it in with the
// writer for readability), so only commit identity matters once either
// side has one.
func sameChoice(a, b forcedChoice) bool {
	if (a.commit == nil) != (b.commit == nil) {
		return false
	}
	if a.commit != nil {
		return *a.commit == *b.commit
	}
	return a.tid == b.tid
}

func (f forcedChoice) key() string {
	if f.commit != nil {
		return "C:" + f.commit.Writer.String() + ">" + f.commit.Cell.String()
	}
	return "T:" + f.tid.String()
}

func encodePrefix(prefix []forcedChoice) string {
	keys := make([]string, len(prefix))
	for i, f := range prefix {
		keys[i] = f.key()
	}
	return strings.Join(keys, "|")
}

// run is one full (or bound-truncated) execution of the Program,
// forced along a prefix and then left to the continue-same-thread
// heuristic (§4.H step 1).
type run struct {
	events     []trace.Event
	candidates [][]scheduler.Candidate // candidates offered at each event's index
	result     *outcome.Result         // nil if aborted or bounded-failed
	bounded    bool
}

// execute drives one schedule: prefix picks the first len(prefix)
// steps; everything after free-runs under the prefer-same-thread
// heuristic. It never mutates prefix or anything outside the fresh
// Context it builds, so concurrent calls with different prefixes never
// interfere.
func (d *Driver) execute(prefix []forcedChoice) run {
	var ctx *interp.Context
	if snap := d.snapshotOnce(); snap != nil {
		// The prelude always runs under SC (§4.I); everything after it
		// explores under the Driver's configured model. Cells carry no
		// buffered writes coming out of an SC run, so swapping the model
		// in place is safe.
		ctx = snap.Restore()
		ctx.Mem = memmodel.New(d.MemType)
	} else {
		ctx = interp.New(d.MemType)
		d.Program(ctx)
	}

	var (
		r        run
		previous *scheduler.Previous
		preempts int
		yields   = map[ids.ID]int{}
		maxLen   = d.Bounds.Length
		maxPre   = d.Bounds.Preemption
		maxFair  = d.Bounds.Fair
	)

	for step := 0; ; step++ {
		if ctx.Finished() {
			r.result = &outcome.Result{Outcome: ctx.RootOutcome(), Trace: trace.Trace(r.events)}
			return r
		}
		candidates := ctx.Candidates()
		if len(candidates) == 0 {
			var o outcome.Outcome
			if ctx.AllBlockedOnRetry() {
				o = outcome.Fail(outcome.STMDeadlockError())
			} else {
				o = outcome.Fail(outcome.DeadlockError())
			}
			r.result = &outcome.Result{Outcome: o, Trace: trace.Trace(r.events)}
			return r
		}

		var chosen scheduler.Candidate
		ok := false
		if step < len(prefix) {
			want := prefix[step]
			for _, c := range candidates {
				if want.matches(c) {
					chosen, ok = c, true
					break
				}
			}
			if !ok {
				// The forced decision from a previous run is no longer
				// reachable (the schedule genuinely diverged) — this
				// branch is stale, not a failure to report.
				return run{}
			}
		} else {
			chosen, ok = pickContinuing(candidates, previous)
			if !ok {
				r.result = &outcome.Result{Outcome: outcome.Fail(outcome.AbortError("scheduler declined every candidate")), Trace: trace.Trace(r.events)}
				return r
			}
		}

		kind := trace.Start
		if previous != nil {
			if sameUnit(chosen, *previous) {
				kind = trace.Continue
			} else {
				kind = trace.SwitchTo
				if candidateStillRunnable(candidates, *previous) {
					preempts++
				}
			}
		}

		alts := make([]trace.Alternative, 0, len(candidates))
		for _, c := range candidates {
			if sameChoice(choiceOf(c), choiceOf(chosen)) {
				continue
			}
			alts = append(alts, trace.Alternative{Tid: candidateUnit(c), Lookahead: c.Lookahead})
		}
		sort.SliceStable(alts, func(i, j int) bool { return alts[i].Tid.Int() < alts[j].Tid.Int() })

		inPrelude := ctx.InDontCheck()

		ev, err := ctx.Step(chosen, kind)
		if err != nil {
			r.result = &outcome.Result{Outcome: outcome.Fail(err), Trace: trace.Trace(r.events)}
			return r
		}
		ev.Alternatives = alts
		r.events = append(r.events, ev)
		r.candidates = append(r.candidates, candidates)

		if ev.Action.Kind == action.KYield || ev.Action.Kind == action.KThreadDelay {
			yields[ev.Tid()]++
		}

		previous = &scheduler.Previous{Tid: chosen.Tid, Commit: chosen.Commit, Action: ev.Action}

		if inPrelude {
			continue
		}
		if maxLen != nil && len(r.events) > *maxLen {
			r.bounded = true
			return r
		}
		if maxPre != nil && preempts > *maxPre {
			r.bounded = true
			return r
		}
		if maxFair != nil {
			for _, n := range yields {
				if n > *maxFair {
					r.bounded = true
					return r
				}
			}
		}
	}
}

// candidateUnit returns the id a candidate is addressed by in an
// Alternative: the thread id for a thread candidate, the writer for a
// commit pseudo-thread.
func candidateUnit(c scheduler.Candidate) ids.ID {
	if c.Commit != nil {
		return c.Commit.Writer
	}
	return c.Tid
}

func sameUnit(c scheduler.Candidate, p scheduler.Previous) bool {
	if (c.Commit == nil) != (p.Commit == nil) {
		return false
	}
	if c.Commit != nil {
		return *c.Commit == *p.Commit
	}
	return c.Tid == p.Tid
}

func candidateStillRunnable(candidates []scheduler.Candidate, p scheduler.Previous) bool {
	for _, c := range candidates {
		if sameUnit(c, p) {
			return true
		}
	}
	return false
}

// pickContinuing implements the driver's free-running heuristic
// (§4.H step 1 "prefer to continue the same thread"): stick with
// whatever ran last if it is still a candidate, else take the first
// candidate in Candidates' deterministic order.
func pickContinuing(candidates []scheduler.Candidate, previous *scheduler.Previous) (scheduler.Candidate, bool) {
	if len(candidates) == 0 {
		return scheduler.Candidate{}, false
	}
	if previous != nil {
		for _, c := range candidates {
			if sameUnit(c, *previous) {
				return c, true
			}
		}
	}
	return candidates[0], true
}

// commitOf recovers the CommitToken actually chosen when ev was
// recorded, if ev was a commit pseudo-thread step rather than a
// thread's own step.
func commitOf(candidates []scheduler.Candidate, ev trace.Event) *memmodel.CommitToken {
	if ev.Action.Kind != action.KCommit {
		return nil
	}
	for _, c := range candidates {
		if c.Commit != nil && c.Commit.Writer == ev.Tid() {
			return c.Commit
		}
	}
	return nil
}

// backtrackChoiceAt decides which candidate to add to node j's
// backtracking set given that tid raced with the event taken at j:
// tid itself, if it was enabled there, else the first other enabled
// alternative as a conservative proxy — the classical DPOR fallback
// for when the racing thread had not yet been spawned at the branch
// point (§4.G "Fork ... conservative").
func backtrackChoiceAt(candidates []scheduler.Candidate, tid ids.ID, taken trace.Event) (forcedChoice, bool) {
	already := forcedChoice{tid: taken.Tid(), commit: commitOf(candidates, taken)}

	var fallback *forcedChoice
	for i := range candidates {
		fc := choiceOf(candidates[i])
		if sameChoice(fc, already) {
			continue
		}
		if fc.commit == nil && fc.tid == tid {
			return fc, true
		}
		if fallback == nil {
			cp := fc
			fallback = &cp
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return forcedChoice{}, false
}

// prefixThrough returns the forced choices that reproduce r's first j
// steps exactly, used to build a child prefix that forces a different
// choice only at step j.
func prefixThrough(r run, j int) []forcedChoice {
	out := make([]forcedChoice, j)
	for i := 0; i < j; i++ {
		out[i] = forcedChoice{tid: r.events[i].Tid(), commit: commitOf(r.candidates[i], r.events[i])}
	}
	return out
}

// discover runs prefix once and returns its reportable result (nil if
// the branch turned out stale or bounded-failed) plus every child
// prefix steps 2/3 of §4.H call for.
func (d *Driver) discover(prefix []forcedChoice) (*outcome.Result, [][]forcedChoice) {
	r := d.execute(prefix)
	if r.events == nil && r.result == nil && !r.bounded {
		return nil, nil // stale branch: the forced prefix is no longer reachable
	}

	var children [][]forcedChoice
	n := len(r.events)

	// Races between two events this run actually executed (§4.H step 2,
	// as written): the most recent preceding dependent event from a
	// different thread.
	for i := n - 1; i >= 0; i-- {
		for j := i - 1; j >= 0; j-- {
			ei, ej := r.events[i], r.events[j]
			if ej.Tid() == ei.Tid() {
				continue
			}
			if !oracle.Depends(ej, ei) {
				continue
			}
			if fc, ok := backtrackChoiceAt(r.candidates[j], ei.Tid(), ej); ok {
				children = append(children, append(prefixThrough(r, j), fc))
			}
			break
		}
	}

	// Races against a thread this run never got around to scheduling at
	// all (e.g. a sibling left behind while the chosen thread ran to
	// completion): trace.Alternative exists exactly so this doesn't
	// require re-running the interpreter to find out what the
	// alternative would have done (trace.Alternative's doc comment).
	// Had the alternative run at j instead, would its lookahead action
	// have raced with the event actually taken at j, or with something
	// that happened later? If so, that is itself a schedule worth
	// exploring. The scan stops once the
	// alternative thread gets an actual turn, since from there on any
	// further races it's party to are already covered by the loop above.
	for j := 0; j < n; j++ {
		taken := forcedChoice{tid: r.events[j].Tid(), commit: commitOf(r.candidates[j], r.events[j])}
		for _, c := range r.candidates[j] {
			alt := choiceOf(c)
			if sameChoice(alt, taken) {
				continue
			}
			altTid := candidateUnit(c)
			hypothetical := trace.Event{Decision: trace.Decision{Tid: altTid}, Action: c.Lookahead}
			for i := j; i < n; i++ {
				if r.events[i].Tid() == altTid {
					if i == j {
						continue
					}
					break
				}
				if oracle.Depends(hypothetical, r.events[i]) {
					children = append(children, append(prefixThrough(r, j), alt))
					break
				}
			}
		}
	}

	d.Diag.NoteScheduleExplored()
	d.Diag.NoteBacktrackPointsPushed(len(children))
	if r.bounded {
		d.Diag.NoteBoundedFailedSkipped()
		d.Diag.Logf("bounded-failed run skipped (%d events)", n)
		return nil, children
	}
	return r.result, children
}

// Explore runs the full DPOR algorithm (§4.H) to completion: a
// depth-first work stack of prefixes, starting from the empty prefix,
// terminating when the stack is empty. The result order is
// deterministic for fixed inputs (§4.H "Determinism").
func (d *Driver) Explore() []outcome.Result {
	var results []outcome.Result
	done := map[string]bool{"": true}
	stack := [][]forcedChoice{nil}

	for len(stack) > 0 {
		prefix := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		res, children := d.discover(prefix)
		if res != nil {
			results = append(results, *res)
			if d.EarlyExit != nil && d.EarlyExit(res.Outcome) {
				return results
			}
		}
		for _, child := range children {
			key := encodePrefix(child)
			if done[key] {
				continue
			}
			done[key] = true
			stack = append(stack, child)
		}
	}
	return results
}

// ExploreParallel runs the same algorithm with up to workers prefixes
// replayed concurrently. Concurrency only ever affects which goroutine
// happens to finish a given prefix's (entirely independent, fresh
// Context) replay first; the structure explored — which prefixes exist
// and in what order their results and children are merged — is fixed
// by each level's deterministic iteration order, not by completion
// order, so the result order matches Explore's (§4.H "Determinism").
func (d *Driver) ExploreParallel(ctx context.Context, workers int) ([]outcome.Result, error) {
	if workers < 1 {
		workers = 1
	}

	var results []outcome.Result
	done := map[string]bool{"": true}
	frontier := [][]forcedChoice{nil}

	for len(frontier) > 0 {
		type levelOutcome struct {
			res      *outcome.Result
			children [][]forcedChoice
		}
		outs := make([]levelOutcome, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, prefix := range frontier {
			i, prefix := i, prefix
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res, children := d.discover(prefix)
				outs[i] = levelOutcome{res: res, children: children}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}

		var next [][]forcedChoice
		earlyExit := false
		for _, o := range outs {
			if o.res != nil {
				results = append(results, *o.res)
				if d.EarlyExit != nil && d.EarlyExit(o.res.Outcome) {
					earlyExit = true
				}
			}
			for _, child := range o.children {
				key := encodePrefix(child)
				if done[key] {
					continue
				}
				done[key] = true
				next = append(next, child)
			}
		}
		if earlyExit {
			return results, nil
		}
		frontier = next
	}
	return results, nil
}
