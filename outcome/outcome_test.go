package outcome

import (
	"testing"

	"github.com/kolkov/sct/trace"
)

func TestOkIsNotFailed(t *testing.T) {
	o := Ok(42)
	if o.Failed() {
		t.Errorf("Failed() = true for Ok outcome")
	}
	if o.Kind() != Success {
		t.Errorf("Kind() = %v, want Success", o.Kind())
	}
}

func TestFailCarriesKind(t *testing.T) {
	o := Fail(DeadlockError())
	if !o.Failed() {
		t.Fatalf("Failed() = false for Fail outcome")
	}
	if o.Kind() != Deadlock {
		t.Errorf("Kind() = %v, want Deadlock", o.Kind())
	}
}

func TestErrorMessageIncludesKind(t *testing.T) {
	err := InternalErrorf("thread table corrupted: %d", 7)
	if got := err.Error(); got != "InternalError: thread table corrupted: 7" {
		t.Errorf("Error() = %q", got)
	}
}

func TestSettingsApplyHonorsDiscardPolicy(t *testing.T) {
	s := DefaultSettings()
	s.Discard = func(o Outcome) Discard {
		if o.Failed() {
			return DiscardNone
		}
		return DiscardTraceAndResult
	}

	failing := Result{Outcome: Fail(DeadlockError()), Trace: nil}
	if got := s.Apply(failing); got.Outcome.Kind() != Deadlock {
		t.Errorf("Apply() dropped a failing result it should have kept")
	}

	succeeding := Result{Outcome: Ok(1)}
	if got := s.Apply(succeeding); got.Outcome != (Outcome{}) {
		t.Errorf("Apply() = %v, want zero value for DiscardTraceAndResult", got)
	}
}

func TestSettingsApplyDiscardTraceKeepsOutcomeDropsTrace(t *testing.T) {
	s := DefaultSettings()
	s.Discard = func(Outcome) Discard { return DiscardTrace }

	r := Result{Outcome: Ok(1), Trace: trace.Trace{{}}}
	got := s.Apply(r)
	if got.Outcome.Kind() != Success {
		t.Errorf("Apply() dropped the outcome, want it kept")
	}
	if len(got.Trace) != 0 {
		t.Errorf("Apply() kept the trace, want it dropped")
	}
}

func TestSettingsEqualDefaultsToSameKind(t *testing.T) {
	s := DefaultSettings()
	a := Fail(DeadlockError())
	b := Fail(DeadlockError())
	if !s.Equal(a, b) {
		t.Errorf("Equal() = false for two Deadlock outcomes, want true")
	}
	c := Fail(STMDeadlockError())
	if s.Equal(a, c) {
		t.Errorf("Equal() = true across different failure kinds, want false")
	}
}

func TestSettingsEqualUsesSuppliedPredicate(t *testing.T) {
	s := DefaultSettings()
	s.Equality = func(a, b Outcome) bool { return true }
	if !s.Equal(Ok(1), Ok(2)) {
		t.Errorf("Equal() did not use the supplied predicate")
	}
}
