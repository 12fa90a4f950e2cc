package simplify

import (
	"testing"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/dpor"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/trace"
)

func ev(tid ids.ID, kind action.Kind, resource ids.ID) trace.Event {
	return trace.Event{
		Decision: trace.Decision{Kind: trace.Continue, Tid: tid},
		Action:   trace.ActionTag{Kind: kind, Resource: resource},
	}
}

func TestNormalizeOrdersIndependentEventsByThread(t *testing.T) {
	src := ids.NewSource()
	t1 := src.Fresh(ids.Thread, "t1")
	t2 := src.Fresh(ids.Thread, "t2")
	c1 := src.Fresh(ids.Cell, "c1")
	c2 := src.Fresh(ids.Cell, "c2")

	// t2's write precedes t1's in the input, but the two touch disjoint
	// cells, so they commute: normal form puts the lower-numbered
	// thread first.
	in := trace.Trace{
		ev(t2, action.KWriteCell, c2),
		ev(t1, action.KWriteCell, c1),
	}
	out := normalize(append(trace.Trace(nil), in...))

	if out[0].Tid() != t1 || out[1].Tid() != t2 {
		t.Errorf("normalize() = %v, %v; want t1 before t2", out[0].Tid(), out[1].Tid())
	}
}

func TestNormalizeLeavesDependentEventsInPlace(t *testing.T) {
	src := ids.NewSource()
	t1 := src.Fresh(ids.Thread, "t1")
	t2 := src.Fresh(ids.Thread, "t2")
	c1 := src.Fresh(ids.Cell, "c1")

	// Same cell, so the two events conflict and must not be reordered
	// even though t2 > t1.
	in := trace.Trace{
		ev(t2, action.KWriteCell, c1),
		ev(t1, action.KWriteCell, c1),
	}
	out := normalize(append(trace.Trace(nil), in...))

	if out[0].Tid() != t2 || out[1].Tid() != t1 {
		t.Errorf("normalize() reordered dependent events: got %v, %v", out[0].Tid(), out[1].Tid())
	}
}

func TestDropRedundantCommitsRemovesCommitBeforeSameCellBarrier(t *testing.T) {
	src := ids.NewSource()
	writer := src.Fresh(ids.Thread, "w")
	other := src.Fresh(ids.Thread, "o")
	cell := src.Fresh(ids.Cell, "c")

	commit := trace.Event{
		Decision: trace.Decision{Tid: writer},
		Action:   trace.ActionTag{Kind: action.KCommit, Access: trace.AccessWrite, Resource: cell, Thread: writer},
	}
	cas := ev(other, action.KCASCell, cell)

	out := dropRedundantCommits(trace.Trace{commit, cas})
	if len(out) != 1 || out[0].Action.Kind != action.KCASCell {
		t.Errorf("dropRedundantCommits() = %v, want only the CAS event to survive", out)
	}
}

func TestDropRedundantCommitsKeepsCommitWithNoFollowingBarrier(t *testing.T) {
	src := ids.NewSource()
	writer := src.Fresh(ids.Thread, "w")
	other := src.Fresh(ids.Thread, "o")
	cell := src.Fresh(ids.Cell, "c")
	otherCell := src.Fresh(ids.Cell, "c2")

	commit := trace.Event{
		Decision: trace.Decision{Tid: writer},
		Action:   trace.ActionTag{Kind: action.KCommit, Access: trace.AccessWrite, Resource: cell, Thread: writer},
	}
	unrelated := ev(other, action.KWriteCell, otherCell)

	out := dropRedundantCommits(trace.Trace{commit, unrelated})
	if len(out) != 2 {
		t.Errorf("dropRedundantCommits() = %v, want commit kept (no barrier on its cell follows)", out)
	}
}

// racingWrites spawns a root thread and a child, each writing a
// distinct value into a shared cell, the root reading the cell right
// after its own write and finishing with whatever it sees.
func racingWrites(ctx *interp.Context) {
	ctx.Spawn(action.NewCell{
		Initial: 0,
		Next: func(cell ids.ID) action.Action {
			return action.Fork{
				Body: action.WriteCell{
					Cell: cell, Value: 2,
					Next: func() action.Action { return action.Stop{Result: "child"} },
				},
				Next: func(ids.ID) action.Action {
					return action.WriteCell{
						Cell: cell, Value: 1,
						Next: func() action.Action {
							return action.ReadCell{
								Cell: cell,
								Next: func(v memmodel.Value) action.Action { return action.Stop{Result: v} },
							}
						},
					}
				},
			}
		},
	}, false)
}

func TestSimplifyReproducesAnEquivalentOutcome(t *testing.T) {
	d := &dpor.Driver{Program: racingWrites, MemType: memmodel.SC}
	results := d.Explore()
	if len(results) == 0 {
		t.Fatal("Explore() returned no results")
	}

	s := &Simplifier{Program: racingWrites, MemType: memmodel.SC}
	for _, original := range results {
		got := s.Simplify(original)
		if got.Outcome.Kind() != original.Outcome.Kind() || got.Outcome.Value != original.Outcome.Value {
			t.Errorf("Simplify(%v) = %v, want an equivalent outcome", original.Outcome, got.Outcome)
		}
		if len(got.Trace) > len(original.Trace) {
			t.Errorf("Simplify() grew the trace: %d events, original had %d", len(got.Trace), len(original.Trace))
		}
	}
}
