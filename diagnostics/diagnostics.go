// Package diagnostics implements the ambient logging/counter surface
// shared by the driver (package dpor) and simplifier (package simplify):
// the `debug_print` / `debug_fatal` settings of §6, backed by a plain
// struct of counters next to a logging hook rather than a logging
// framework — the same config-next-to-stats split the teacher uses for
// its sampler (internal/race/detector/sampler.go's SamplerConfig next
// to SamplerStats).
package diagnostics

import (
	"fmt"
	"sync/atomic"
)

// Stats accumulates exploration counters for the debug_print sink
// (SPEC_FULL.md "Diagnostic counters"): schedules explored, bounded-failed
// runs skipped, and backtrack points pushed. Every field is updated with
// sync/atomic so a Sink may be shared across Driver.ExploreParallel's
// concurrent workers, mirroring Sampler's atomic.AddUint64/LoadUint64
// pattern.
type Stats struct {
	SchedulesExplored        uint64
	BoundedFailedSkipped     uint64
	BacktrackPointsPushed    uint64
	SimplificationsDiscarded uint64
}

// Snapshot returns a copy of s's counters taken with atomic loads, safe
// to call while a Sink is still in use by a running exploration.
func (s *Stats) Snapshot() Stats {
	return Stats{
		SchedulesExplored:        atomic.LoadUint64(&s.SchedulesExplored),
		BoundedFailedSkipped:     atomic.LoadUint64(&s.BoundedFailedSkipped),
		BacktrackPointsPushed:    atomic.LoadUint64(&s.BacktrackPointsPushed),
		SimplificationsDiscarded: atomic.LoadUint64(&s.SimplificationsDiscarded),
	}
}

// Sink is the diagnostic destination a Driver or Simplifier is given:
// Print receives one formatted line per notable event (a bounded-failed
// run skipped, a discarded simplification); Fatal, when set, turns the
// same event into a panic instead (§6 "debug_fatal: treat diagnostics
// as fatal") — useful in tests that must not silently tolerate the
// conditions debug_print exists to surface.
type Sink struct {
	Print func(msg string)
	Fatal bool

	Stats Stats
}

// Logf formats and dispatches one diagnostic line. A nil Sink is valid
// and simply discards every line, so callers never need a nil check
// before logging.
func (s *Sink) Logf(format string, args ...any) {
	if s == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if s.Fatal {
		panic(msg)
	}
	if s.Print != nil {
		s.Print(msg)
	}
}

// NoteScheduleExplored records one completed discover() call (§4.H),
// reportable or not.
func (s *Sink) NoteScheduleExplored() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.Stats.SchedulesExplored, 1)
}

// NoteBoundedFailedSkipped records one run excluded from results
// because a bound (§4.H) was exceeded.
func (s *Sink) NoteBoundedFailedSkipped() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.Stats.BoundedFailedSkipped, 1)
}

// NoteBacktrackPointsPushed records n new schedule prefixes queued for
// exploration.
func (s *Sink) NoteBacktrackPointsPushed(n int) {
	if s == nil || n == 0 {
		return
	}
	atomic.AddUint64(&s.Stats.BacktrackPointsPushed, uint64(n))
}

// NoteSimplificationDiscarded records one reduced trace (§4.J) rejected
// because re-execution diverged from the original outcome.
func (s *Sink) NoteSimplificationDiscarded() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.Stats.SimplificationsDiscarded, 1)
}
