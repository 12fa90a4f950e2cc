// Package threads implements the thread table (§4.C / §3 "Thread"):
// per-thread scheduling state — the remaining computation, why a
// thread is blocked if it is, its exception handler stack and mask
// level — plus a table keyed by id with deterministic creation-order
// iteration, since the DPOR driver (§4.H) must see the same candidate
// set in the same order on every replay of a given schedule.
package threads

import (
	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
)

// Status is why a thread is, or is not, a candidate for the next step.
type Status int

const (
	// Runnable threads have a pending Cont and nothing stopping it
	// from executing next.
	Runnable Status = iota
	BlockedTakeMVar
	BlockedPutMVar
	BlockedReadMVar
	BlockedThrowTo
	BlockedRetry
	Finished
)

func (s Status) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case BlockedTakeMVar:
		return "blocked(takeMVar)"
	case BlockedPutMVar:
		return "blocked(putMVar)"
	case BlockedReadMVar:
		return "blocked(readMVar)"
	case BlockedThrowTo:
		return "blocked(throwTo)"
	case BlockedRetry:
		return "blocked(retry)"
	case Finished:
		return "finished"
	default:
		return "status(?)"
	}
}

// Handler is one frame of a thread's exception handler stack, installed
// by a Catching action (§4.D) and consulted, innermost first, when a
// Throw unwinds.
type Handler struct {
	Matches func(action.Value) bool
	Run     func(exc action.Value) action.Action
}

// Thread is one schedulable strand of a computation.
type Thread struct {
	ID   ids.ID
	Name string
	Bound bool

	// Cont is the remaining computation. Nil iff Status == Finished.
	Cont action.Action

	Status Status

	// BlockedOn names the MVar this thread is parked on; zero unless
	// Status is one of the BlockedXMVar values.
	BlockedOn ids.ID

	// ThrowTarget/ThrowErr describe a pending ThrowTo this thread
	// issued and is waiting to be accepted (BlockedThrowTo).
	ThrowTarget ids.ID
	ThrowErr    action.Value

	// WatchSet is the read set of the transaction that last called
	// Retry, used to decide when a BlockedRetry thread becomes
	// schedulable again (§5 "Retry").
	WatchSet []ids.ID

	Mask     action.MaskState
	Handlers []Handler

	// PendingUnmask holds the mask level to restore once a blocked
	// in-progress UnmaskScope's wrapped action finally completes; nil
	// means no unmask is waiting on this thread's next wake (§9).
	PendingUnmask *action.MaskState

	// SubDepth counts Sub actions currently in this thread's dynamic
	// extent; non-zero forbids entering another Sub (§7
	// IllegalSubconcurrency).
	SubDepth int

	// Result/Err hold the outcome once Status == Finished.
	Result action.Value
	Err    error
}

// PushHandler installs h as the innermost handler.
func (t *Thread) PushHandler(h Handler) {
	t.Handlers = append(t.Handlers, h)
}

// PopHandler removes the innermost handler, if any.
func (t *Thread) PopHandler() {
	if len(t.Handlers) > 0 {
		t.Handlers = t.Handlers[:len(t.Handlers)-1]
	}
}

// FindHandler searches the handler stack innermost-first for one
// accepting exc, returning it and its stack depth (so the caller can
// truncate the stack to that depth once the handler is invoked —
// Catching frames installed inside the matched one do not survive the
// unwind). ok is false if nothing matches, in which case exc propagates
// past this thread entirely.
func (t *Thread) FindHandler(exc action.Value) (h Handler, depth int, ok bool) {
	for i := len(t.Handlers) - 1; i >= 0; i-- {
		if t.Handlers[i].Matches(exc) {
			return t.Handlers[i], i, true
		}
	}
	return Handler{}, 0, false
}

// TruncateHandlers drops every handler frame above depth, as part of
// unwinding to a matched Catching.
func (t *Thread) TruncateHandlers(depth int) {
	t.Handlers = t.Handlers[:depth]
}

// clone deep-copies t, used by Table.Clone for snapshotting (§4.I).
// Cont and the handler closures
// are shared by reference: actions are immutable once built, so
// aliasing them across clones is safe.
func (t *Thread) clone() *Thread {
	c := *t
	c.WatchSet = append([]ids.ID(nil), t.WatchSet...)
	c.Handlers = append([]Handler(nil), t.Handlers...)
	return &c
}

// Table is the set of threads live during a run, with deterministic
// creation-order iteration.
type Table struct {
	threads map[ids.ID]*Thread
	order   []ids.ID
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{threads: make(map[ids.ID]*Thread)}
}

// Spawn registers a new thread and appends it to the creation order.
func (tbl *Table) Spawn(id ids.ID, name string, bound bool, cont action.Action) *Thread {
	th := &Thread{ID: id, Name: name, Bound: bound, Cont: cont, Status: Runnable}
	tbl.threads[id] = th
	tbl.order = append(tbl.order, id)
	return th
}

// Get returns the thread for id, if any.
func (tbl *Table) Get(id ids.ID) (*Thread, bool) {
	th, ok := tbl.threads[id]
	return th, ok
}

// All returns every thread id in creation order.
func (tbl *Table) All() []ids.ID {
	return append([]ids.ID(nil), tbl.order...)
}

// Runnable returns the ids of every thread with Status == Runnable, in
// creation order — the candidate set the scheduler (§4.F) chooses
// among. Creation order, not map iteration order, is what makes two
// runs that allocate threads identically also see identical candidate
// lists (§4.H "Determinism").
func (tbl *Table) Runnable() []ids.ID {
	out := make([]ids.ID, 0, len(tbl.order))
	for _, id := range tbl.order {
		if tbl.threads[id].Status == Runnable {
			out = append(out, id)
		}
	}
	return out
}

// AllBlocked reports whether every thread is either Finished or
// blocked — the deadlock precondition (§7 "Deadlock"): no thread is
// Runnable and at least one thread is not Finished.
func (tbl *Table) AllBlocked() bool {
	sawUnfinished := false
	for _, id := range tbl.order {
		switch tbl.threads[id].Status {
		case Runnable:
			return false
		case Finished:
		default:
			sawUnfinished = true
		}
	}
	return sawUnfinished
}

// Clone deep-copies the table for snapshotting (§4.I).
func (tbl *Table) Clone() *Table {
	out := &Table{
		threads: make(map[ids.ID]*Thread, len(tbl.threads)),
		order:   append([]ids.ID(nil), tbl.order...),
	}
	for id, th := range tbl.threads {
		out.threads[id] = th.clone()
	}
	return out
}
