package threads

import (
	"testing"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
)

func TestRunnableFollowsCreationOrderNotMapOrder(t *testing.T) {
	s := ids.NewSource()
	tbl := NewTable()
	var want []ids.ID
	for i := 0; i < 20; i++ {
		id := s.Fresh(ids.Thread, "")
		tbl.Spawn(id, "", false, action.Stop{})
		want = append(want, id)
	}

	got := tbl.Runnable()
	if len(got) != len(want) {
		t.Fatalf("Runnable() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Runnable()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRunnableExcludesBlockedAndFinished(t *testing.T) {
	s := ids.NewSource()
	tbl := NewTable()
	a := s.Fresh(ids.Thread, "a")
	b := s.Fresh(ids.Thread, "b")
	c := s.Fresh(ids.Thread, "c")
	tbl.Spawn(a, "a", false, action.Stop{})
	tbl.Spawn(b, "b", false, action.Stop{})
	tbl.Spawn(c, "c", false, action.Stop{})

	tbl.threads[b].Status = BlockedTakeMVar
	tbl.threads[c].Status = Finished

	got := tbl.Runnable()
	if len(got) != 1 || got[0] != a {
		t.Errorf("Runnable() = %v, want [%v]", got, a)
	}
}

func TestAllBlockedRequiresNoRunnableAndSomeUnfinished(t *testing.T) {
	s := ids.NewSource()
	tbl := NewTable()
	a := s.Fresh(ids.Thread, "a")
	tbl.Spawn(a, "a", false, action.Stop{})

	if tbl.AllBlocked() {
		t.Fatalf("AllBlocked() = true while a runnable thread exists")
	}

	tbl.threads[a].Status = Finished
	if tbl.AllBlocked() {
		t.Errorf("AllBlocked() = true when every thread finished, want false (not a deadlock)")
	}

	b := s.Fresh(ids.Thread, "b")
	tbl.Spawn(b, "b", false, action.Stop{})
	tbl.threads[b].Status = BlockedTakeMVar
	if !tbl.AllBlocked() {
		t.Errorf("AllBlocked() = false, want true (one finished, one blocked, none runnable)")
	}
}

func TestFindHandlerSearchesInnermostFirst(t *testing.T) {
	th := &Thread{}
	var order []string
	th.PushHandler(Handler{
		Matches: func(action.Value) bool { return true },
		Run: func(action.Value) action.Action {
			order = append(order, "outer")
			return action.Stop{}
		},
	})
	th.PushHandler(Handler{
		Matches: func(exc action.Value) bool { return exc == "special" },
		Run: func(action.Value) action.Action {
			order = append(order, "inner")
			return action.Stop{}
		},
	})

	h, depth, ok := th.FindHandler("special")
	if !ok {
		t.Fatalf("FindHandler() ok = false, want true")
	}
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
	h.Run("special")
	if len(order) != 1 || order[0] != "inner" {
		t.Errorf("Run invoked %v, want [inner]", order)
	}
}

func TestFindHandlerFallsThroughWhenNoneMatch(t *testing.T) {
	th := &Thread{}
	th.PushHandler(Handler{Matches: func(action.Value) bool { return false }})
	if _, _, ok := th.FindHandler("x"); ok {
		t.Errorf("FindHandler() ok = true, want false")
	}
}

func TestTruncateHandlersDropsFramesAboveDepth(t *testing.T) {
	th := &Thread{}
	th.PushHandler(Handler{})
	th.PushHandler(Handler{})
	th.PushHandler(Handler{})
	th.TruncateHandlers(1)
	if len(th.Handlers) != 1 {
		t.Errorf("len(Handlers) = %d, want 1", len(th.Handlers))
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := ids.NewSource()
	tbl := NewTable()
	id := s.Fresh(ids.Thread, "a")
	tbl.Spawn(id, "a", false, action.Stop{})
	tbl.threads[id].WatchSet = []ids.ID{s.Fresh(ids.TVar, "x")}

	clone := tbl.Clone()
	cth, _ := clone.Get(id)
	cth.Status = Finished
	cth.WatchSet = append(cth.WatchSet, s.Fresh(ids.TVar, "y"))

	orig, _ := tbl.Get(id)
	if orig.Status == Finished {
		t.Errorf("mutating clone's Status affected original")
	}
	if len(orig.WatchSet) != 1 {
		t.Errorf("mutating clone's WatchSet affected original: %v", orig.WatchSet)
	}
}
