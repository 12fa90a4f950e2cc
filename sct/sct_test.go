package sct

import (
	"context"
	"testing"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/interp"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/outcome"
)

// racingWrites spawns a root thread and a child, each writing a
// distinct value into a shared cell, the root reading the cell right
// after its own write and finishing with whatever it sees -- the same
// race every other package in this module tests against.
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

func TestRunFindsBothInterleavingsOfARace(t *testing.T) {
	results, err := Run(context.Background(), racingWrites)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

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
		t.Errorf("Run() outcomes = %v, want both the 1 and 2 interleavings reachable", seen)
	}
}

func TestRunDedupsEqualFailuresByDefault(t *testing.T) {
	results, err := Run(context.Background(), deadlockedTake)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(Run()) = %d, want 1 (a single deadlock, deduped by kind)", len(results))
	}
	if results[0].Outcome.Kind() != outcome.Deadlock {
		t.Errorf("Outcome.Kind() = %v, want Deadlock", results[0].Outcome.Kind())
	}
}

func TestRunWithDiscardDropsTraces(t *testing.T) {
	results, err := Run(context.Background(), deadlockedTake, WithDiscard(func(o outcome.Outcome) outcome.Discard {
		return outcome.DiscardTrace
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(Run()) = %d, want 1", len(results))
	}
	if results[0].Trace != nil {
		t.Errorf("Trace = %v, want nil after DiscardTrace", results[0].Trace)
	}
}

func TestRunWithEarlyExitStopsAtFirstResult(t *testing.T) {
	results, err := Run(context.Background(), racingWrites, WithEarlyExit(func(o outcome.Outcome) bool {
		return true
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(Run()) = %d, want 1 (every result matches an always-true early exit)", len(results))
	}
}

func TestRunParallelMatchesSequentialResultCount(t *testing.T) {
	seq, err := Run(context.Background(), racingWrites)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	par, err := Run(context.Background(), racingWrites, WithParallel(4))
	if err != nil {
		t.Fatalf("Run(WithParallel(4)) error = %v", err)
	}
	if len(seq) != len(par) {
		t.Errorf("len(sequential) = %d, len(parallel) = %d, want equal", len(seq), len(par))
	}
}
