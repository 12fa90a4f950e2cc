package mvar

import (
	"testing"

	"github.com/kolkov/sct/ids"
)

func TestNewEmptyMVarBlocksOnTake(t *testing.T) {
	s := ids.NewSource()
	m := New(s.Fresh(ids.MVar, "m"), nil, false)
	if m.IsFull() {
		t.Fatalf("new empty MVar reports full")
	}
}

func TestPutTakeRoundTrip(t *testing.T) {
	s := ids.NewSource()
	m := New(s.Fresh(ids.MVar, "m"), nil, false)
	m.Put(42)
	if !m.IsFull() {
		t.Fatalf("IsFull() = false after Put")
	}
	if got := m.Take(); got != 42 {
		t.Errorf("Take() = %v, want 42", got)
	}
	if m.IsFull() {
		t.Errorf("IsFull() = true after Take")
	}
}

func TestReadDoesNotDrain(t *testing.T) {
	s := ids.NewSource()
	m := New(s.Fresh(ids.MVar, "m"), 7, true)
	if got := m.Read(); got != 7 {
		t.Errorf("Read() = %v, want 7", got)
	}
	if !m.IsFull() {
		t.Errorf("IsFull() = false after Read, want still full")
	}
}

func TestWaiterQueuesFIFO(t *testing.T) {
	s := ids.NewSource()
	m := New(s.Fresh(ids.MVar, "m"), nil, false)
	a := s.Fresh(ids.Thread, "a")
	b := s.Fresh(ids.Thread, "b")
	m.EnqueueReader(a)
	m.EnqueueReader(b)

	first, ok := m.PopReader()
	if !ok || first != a {
		t.Fatalf("PopReader() = %v, %v, want %v, true", first, ok, a)
	}
	second, ok := m.PopReader()
	if !ok || second != b {
		t.Fatalf("PopReader() = %v, %v, want %v, true", second, ok, b)
	}
	if _, ok := m.PopReader(); ok {
		t.Errorf("PopReader() on empty queue reported ok")
	}
}

func TestWaitersNeverMixesOtherMVars(t *testing.T) {
	s := ids.NewSource()
	m1 := New(s.Fresh(ids.MVar, "m1"), nil, false)
	m2 := New(s.Fresh(ids.MVar, "m2"), nil, false)
	a := s.Fresh(ids.Thread, "a")
	m1.EnqueueWriter(a)

	if waiters := m2.Waiters(); len(waiters) != 0 {
		t.Errorf("unrelated MVar reports waiters %v, want none", waiters)
	}
	if waiters := m1.Waiters(); len(waiters) != 1 || waiters[0] != a {
		t.Errorf("Waiters() = %v, want [%v]", waiters, a)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := ids.NewSource()
	tbl := NewTable()
	id := s.Fresh(ids.MVar, "m")
	tbl.Register(New(id, 1, true))

	clone := tbl.Clone()
	cm, _ := clone.Get(id)
	cm.Take()

	orig, _ := tbl.Get(id)
	if !orig.IsFull() {
		t.Errorf("mutating clone affected original table")
	}
}
