package oracle

import (
	"testing"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/trace"
)

func ev(tid ids.ID, tag trace.ActionTag) trace.Event {
	return trace.Event{Decision: trace.Decision{Tid: tid}, Action: tag}
}

func TestSameThreadAlwaysDepends(t *testing.T) {
	s := ids.NewSource()
	tid := s.Fresh(ids.Thread, "a")
	e1 := ev(tid, trace.ActionTag{Kind: action.KYield})
	e2 := ev(tid, trace.ActionTag{Kind: action.KYield})
	if !Depends(e1, e2) {
		t.Errorf("Depends() = false for same-thread events, want true")
	}
}

func TestTwoReadsOfSameCellAreIndependent(t *testing.T) {
	s := ids.NewSource()
	a, b := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	cell := s.Fresh(ids.Cell, "c")
	e1 := ev(a, trace.ActionTag{Kind: action.KReadCell, Access: trace.AccessRead, Resource: cell})
	e2 := ev(b, trace.ActionTag{Kind: action.KReadCell, Access: trace.AccessRead, Resource: cell})
	if Depends(e1, e2) {
		t.Errorf("Depends() = true for two reads of the same cell, want false")
	}
}

func TestReadAndWriteSameCellDepend(t *testing.T) {
	s := ids.NewSource()
	a, b := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	cell := s.Fresh(ids.Cell, "c")
	e1 := ev(a, trace.ActionTag{Kind: action.KReadCell, Access: trace.AccessRead, Resource: cell})
	e2 := ev(b, trace.ActionTag{Kind: action.KWriteCell, Access: trace.AccessWrite, Resource: cell})
	if !Depends(e1, e2) {
		t.Errorf("Depends() = false for read/write of the same cell, want true")
	}
}

func TestDisjointCellsAreIndependent(t *testing.T) {
	s := ids.NewSource()
	a, b := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	c1, c2 := s.Fresh(ids.Cell, "c1"), s.Fresh(ids.Cell, "c2")
	e1 := ev(a, trace.ActionTag{Kind: action.KWriteCell, Access: trace.AccessWrite, Resource: c1})
	e2 := ev(b, trace.ActionTag{Kind: action.KWriteCell, Access: trace.AccessWrite, Resource: c2})
	if Depends(e1, e2) {
		t.Errorf("Depends() = true for disjoint cells, want false")
	}
}

func TestMVarPutTakeSameMVarDependDistinctDont(t *testing.T) {
	s := ids.NewSource()
	a, b := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	m1, m2 := s.Fresh(ids.MVar, "m1"), s.Fresh(ids.MVar, "m2")

	put := ev(a, trace.ActionTag{Kind: action.KPutMVar, Access: trace.AccessWrite, Resource: m1})
	take := ev(b, trace.ActionTag{Kind: action.KTakeMVar, Access: trace.AccessBlock, Resource: m1})
	if !Depends(put, take) {
		t.Errorf("Depends() = false for put/take on the same MVar, want true")
	}

	takeOther := ev(b, trace.ActionTag{Kind: action.KTakeMVar, Access: trace.AccessBlock, Resource: m2})
	if Depends(put, takeOther) {
		t.Errorf("Depends() = true for put/take on distinct MVars, want false")
	}
}

func TestThrowToDependsOnAnyActionOfTarget(t *testing.T) {
	s := ids.NewSource()
	thrower, target := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	throwTo := ev(thrower, trace.ActionTag{Kind: action.KThrowTo, Thread: target})
	unrelated := ev(target, trace.ActionTag{Kind: action.KYield})
	if !Depends(throwTo, unrelated) {
		t.Errorf("Depends() = false between ThrowTo and any action of its target, want true")
	}
}

func TestForkDependsOnNewThreadIndependentOfOthers(t *testing.T) {
	s := ids.NewSource()
	parent, child, bystander := s.Fresh(ids.Thread, "p"), s.Fresh(ids.Thread, "c"), s.Fresh(ids.Thread, "z")
	fork := ev(parent, trace.ActionTag{Kind: action.KFork, Thread: child})
	childAction := ev(child, trace.ActionTag{Kind: action.KYield})
	bystanderAction := ev(bystander, trace.ActionTag{Kind: action.KYield})

	if !Depends(fork, childAction) {
		t.Errorf("Depends() = false between Fork and an action of the forked thread, want true")
	}
	if Depends(fork, bystanderAction) {
		t.Errorf("Depends() = true between Fork and an unrelated thread's action, want false")
	}
}

func TestSTMConflictOnSharedWriteSet(t *testing.T) {
	s := ids.NewSource()
	a, b := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	tv := s.Fresh(ids.TVar, "x")

	tx1 := ev(a, trace.ActionTag{Kind: action.KAtomic, TVarWrites: []ids.ID{tv}})
	tx2 := ev(b, trace.ActionTag{Kind: action.KAtomic, TVarReads: []ids.ID{tv}})
	if !Depends(tx1, tx2) {
		t.Errorf("Depends() = false for a write/read conflict across transactions, want true")
	}
}

func TestSTMIndependentOnDisjointSets(t *testing.T) {
	s := ids.NewSource()
	a, b := s.Fresh(ids.Thread, "a"), s.Fresh(ids.Thread, "b")
	x, y := s.Fresh(ids.TVar, "x"), s.Fresh(ids.TVar, "y")

	tx1 := ev(a, trace.ActionTag{Kind: action.KAtomic, TVarWrites: []ids.ID{x}})
	tx2 := ev(b, trace.ActionTag{Kind: action.KAtomic, TVarWrites: []ids.ID{y}})
	if Depends(tx1, tx2) {
		t.Errorf("Depends() = true for disjoint transactions, want false")
	}
}

func TestVersionViewTracksPerThreadVisibility(t *testing.T) {
	s := ids.NewSource()
	a := s.Fresh(ids.Thread, "a")
	cell := s.Fresh(ids.Cell, "c")

	v := NewVersionView()
	if _, ok := v.Visible(a, cell); ok {
		t.Fatalf("Visible() ok = true before any Observe")
	}
	v.Observe(a, cell, 3)
	got, ok := v.Visible(a, cell)
	if !ok || got != 3 {
		t.Errorf("Visible() = %v, %v, want 3, true", got, ok)
	}
}
