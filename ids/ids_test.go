package ids

import "testing"

func TestFreshIsMonotonicPerKind(t *testing.T) {
	s := NewSource()

	t1 := s.Fresh(Thread, "main")
	c1 := s.Fresh(Cell, "counter")
	t2 := s.Fresh(Thread, "")

	if t1.Int() != 1 || t2.Int() != 2 {
		t.Errorf("thread ids = %d, %d, want 1, 2", t1.Int(), t2.Int())
	}
	if c1.Int() != 1 {
		t.Errorf("cell id = %d, want 1 (separate counter from thread)", c1.Int())
	}
	if t1.Kind() != Thread || c1.Kind() != Cell {
		t.Errorf("kinds = %v, %v, want Thread, Cell", t1.Kind(), c1.Kind())
	}
}

func TestFreshDeterministicOrder(t *testing.T) {
	alloc := func() []ID {
		s := NewSource()
		return []ID{
			s.Fresh(Thread, "a"),
			s.Fresh(Cell, "x"),
			s.Fresh(Thread, "b"),
			s.Fresh(MVar, "m"),
		}
	}
	a, b := alloc(), alloc()
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("allocation %d diverged: %v != %v", i, a[i], b[i])
		}
	}
}

func TestMarkRestoreRewindsCounters(t *testing.T) {
	s := NewSource()
	s.Fresh(Thread, "prelude-1")
	s.Fresh(Thread, "prelude-2")
	mark := s.Mark()

	first := s.Fresh(Thread, "after-snapshot")
	s.Restore(mark)
	second := s.Fresh(Thread, "after-snapshot")

	if first != second {
		t.Errorf("restored allocation = %v, want %v (replay must be reproducible)", second, first)
	}
}

func TestZeroIDInvalid(t *testing.T) {
	var z ID
	if z.Valid() {
		t.Errorf("zero ID reported Valid(), want invalid sentinel")
	}
	s := NewSource()
	id := s.Fresh(Cell, "c")
	if !id.Valid() {
		t.Errorf("allocated ID reported invalid")
	}
}

func TestIDString(t *testing.T) {
	s := NewSource()
	named := s.Fresh(Thread, "main")
	if got, want := named.String(), "main#1"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	anon := s.Fresh(Cell, "")
	if got, want := anon.String(), "cell#1"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
