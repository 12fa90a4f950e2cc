// Package oracle implements the dependency oracle (§4.G): deciding
// whether two recorded events commute, the question the DPOR driver
// (§4.H) asks of every pair of events in a completed trace to compute
// backtracking sets.
//
// The teacher's detector package answers a structurally identical
// question — "do these two memory accesses race?" — by comparing
// vector clocks (internal/race/detector.OnWrite/OnRead). Here the
// comparison is simpler (the interpreter already serializes every
// step, so there is no concurrent-access race to detect) but the
// shape survives: a same-resource, conflicting-access-kind check
// playing the role FastTrack's happens-before comparison played there.
package oracle

import (
	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/trace"
)

// Depends reports whether e1 and e2 are dependent: whether swapping
// them could change the execution's outcome (§4.G). Independent pairs
// are exactly the ones DPOR need not branch on.
func Depends(e1, e2 trace.Event) bool {
	t1, t2 := e1.Tid(), e2.Tid()
	if t1 == t2 {
		// "Same thread: never independent" — trivially ordered by
		// the thread's own continuation, not meaningfully swappable.
		return true
	}

	a1, a2 := e1.Action, e2.Action

	if throwsAt(a1, t2) || throwsAt(a2, t1) {
		return true
	}
	if forksInto(a1, t2) || forksInto(a2, t1) {
		return true
	}
	if a1.Kind == action.KAtomic || a2.Kind == action.KAtomic {
		if stmConflict(a1, a2) {
			return true
		}
	}
	if a1.Resource.Valid() && a1.Resource == a2.Resource {
		return accessConflicts(a1.Access, a2.Access)
	}
	return false
}

func throwsAt(a trace.ActionTag, target ids.ID) bool {
	return a.Kind == action.KThrowTo && a.Thread == target
}

func forksInto(a trace.ActionTag, child ids.ID) bool {
	return (a.Kind == action.KFork || a.Kind == action.KForkOS) && a.Thread == child
}

// accessConflicts implements the per-resource rules: two reads never
// conflict; anything else touching the same resource does (covers
// read/write, write/write, and commit-then-any-op on the same cell,
// since a commit is recorded with AccessWrite).
func accessConflicts(k1, k2 trace.AccessKind) bool {
	if k1 == trace.AccessRead && k2 == trace.AccessRead {
		return false
	}
	return true
}

func stmConflict(a1, a2 trace.ActionTag) bool {
	return intersects(a1.TVarWrites, a2.TVarWrites) ||
		intersects(a1.TVarWrites, a2.TVarReads) ||
		intersects(a1.TVarReads, a2.TVarWrites)
}

func intersects(a, b []ids.ID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[ids.ID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// VersionView is the oracle's rolling dependency state: the committed
// cell/TVar version each thread last observed (§4.G "a rolling
// dependency state ... so that permutation functions can be run
// without re-executing the computation"). Neither the DPOR driver nor
// the trace simplifier (§4.J) consults it: the simplifier's reorderings
// rest on Depends alone, checked afterwards by re-execution.
type VersionView struct {
	seen map[ids.ID]map[ids.ID]uint64 // thread -> resource -> version
}

// NewVersionView returns an empty view.
func NewVersionView() *VersionView {
	return &VersionView{seen: make(map[ids.ID]map[ids.ID]uint64)}
}

// Observe records that tid has now seen resource at version.
func (v *VersionView) Observe(tid, resource ids.ID, version uint64) {
	byResource, ok := v.seen[tid]
	if !ok {
		byResource = make(map[ids.ID]uint64)
		v.seen[tid] = byResource
	}
	byResource[resource] = version
}

// Visible returns the version tid last observed for resource, and
// whether it has observed it at all.
func (v *VersionView) Visible(tid, resource ids.ID) (uint64, bool) {
	byResource, ok := v.seen[tid]
	if !ok {
		return 0, false
	}
	version, ok := byResource[resource]
	return version, ok
}
