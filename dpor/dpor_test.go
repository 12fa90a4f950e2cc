package dpor

import (
	"context"
	"testing"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/outcome"
)

// racingWrites spawns a root thread that forks a child; each writes a
// distinct value into a shared cell, and the root then reads it back
// right after its own write — the textbook write-write/read race DPOR
// must explore both orderings of (§4.H). The root's own Stop result is whichever value
// its ReadCell happened to observe.
func racingWrites(ctx *interp.Context) {
	ctx.Spawn(action.NewCell{
		Initial: 0,
		Next: func(cell ids.ID) action.Action {
			return action.Fork{
				Body: action.WriteCell{
					Cell:  cell,
					Value: 2,
					Next:  func() action.Action { return action.Stop{Result: "child"} },
				},
				Next: func(ids.ID) action.Action {
					return action.WriteCell{
						Cell:  cell,
						Value: 1,
						Next: func() action.Action {
							return action.ReadCell{
								Cell: cell,
								Next: func(v memmodel.Value) action.Action {
									return action.Stop{Result: v}
								},
							}
						},
					}
				},
			}
		},
	}, false)
}

func TestExploreFindsBothInterleavingsOfARace(t *testing.T) {
	d := &Driver{Program: racingWrites, MemType: memmodel.SC}
	results := d.Explore()

	seen := map[int]bool{}
	for _, r := range results {
		if r.Outcome.Failed() {
			t.Fatalf("unexpected failure: %v", r.Outcome.Err)
		}
		v, ok := r.Outcome.Value.(int)
		if !ok {
			t.Fatalf("outcome value = %#v, want int", r.Outcome.Value)
		}
		seen[v] = true
	}
	if !seen[1] || !seen[2] {
		t.Errorf("Explore() outcomes = %v, want both the 1 and 2 interleavings reachable", seen)
	}
}

func TestExploreIsDeterministic(t *testing.T) {
	d1 := &Driver{Program: racingWrites, MemType: memmodel.SC}
	d2 := &Driver{Program: racingWrites, MemType: memmodel.SC}
	r1 := d1.Explore()
	r2 := d2.Explore()

	if len(r1) != len(r2) {
		t.Fatalf("len(Explore()) = %d and %d, want equal across repeated runs", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i].Outcome.Kind() != r2[i].Outcome.Kind() || r1[i].Outcome.Value != r2[i].Outcome.Value {
			t.Errorf("result %d diverged: %v vs %v", i, r1[i].Outcome, r2[i].Outcome)
		}
	}
}

func TestExploreParallelMatchesSequentialOrder(t *testing.T) {
	d1 := &Driver{Program: racingWrites, MemType: memmodel.SC}
	d2 := &Driver{Program: racingWrites, MemType: memmodel.SC}

	seq := d1.Explore()
	par, err := d2.ExploreParallel(context.Background(), 4)
	if err != nil {
		t.Fatalf("ExploreParallel() error = %v", err)
	}
	if len(seq) != len(par) {
		t.Fatalf("len(sequential) = %d, len(parallel) = %d, want equal", len(seq), len(par))
	}
	for i := range seq {
		if seq[i].Outcome.Value != par[i].Outcome.Value {
			t.Errorf("result %d diverged between Explore and ExploreParallel: %v vs %v", i, seq[i].Outcome.Value, par[i].Outcome.Value)
		}
	}
}

func TestLengthBoundSuppressesEveryResult(t *testing.T) {
	one := 1
	d := &Driver{Program: racingWrites, MemType: memmodel.SC, Bounds: outcome.Bounds{Length: &one}}
	if results := d.Explore(); len(results) != 0 {
		t.Errorf("Explore() with Length=1 returned %d results, want 0 (every run bounds out before finishing)", len(results))
	}
}

func deadlockedTake(ctx *interp.Context) {
	ctx.Spawn(action.NewMVar{
		Next: func(mv ids.ID) action.Action {
			return action.TakeMVar{
				MVar: mv,
				Next: func(memmodel.Value) action.Action { return action.Stop{} },
			}
		},
	}, false)
}

func TestExploreReportsDeadlock(t *testing.T) {
	d := &Driver{Program: deadlockedTake, MemType: memmodel.SC}
	results := d.Explore()
	if len(results) != 1 {
		t.Fatalf("len(Explore()) = %d, want 1", len(results))
	}
	if results[0].Outcome.Kind() != outcome.Deadlock {
		t.Errorf("Outcome.Kind() = %v, want Deadlock", results[0].Outcome.Kind())
	}
}
