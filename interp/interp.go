// Package interp implements the action interpreter (§4.D): the single
// component that actually executes one Action at a time against shared
// state (cells under a chosen memory model, MVars, TVars) and advances
// a thread's continuation. Everything else — the scheduler, the DPOR
// driver, the trace simplifier — only ever calls Step; none of them
// know how an individual action kind behaves.
//
// Context plays the role the teacher's detector.Detector plays for
// FastTrack: one struct owning every piece of mutable state a single
// step might touch, with each exported method corresponding to one
// kind of event the outside world can feed it.
package interp

import (
	"fmt"
	"sort"

	"github.com/kolkov/sct/action"
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/mvar"
	"github.com/kolkov/sct/outcome"
	"github.com/kolkov/sct/scheduler"
	"github.com/kolkov/sct/stm"
	"github.com/kolkov/sct/threads"
	"github.com/kolkov/sct/trace"
)

// Context is the full mutable state of one computation: thread table,
// every cell/MVar/TVar allocated so far, and the memory model they are
// simulated under.
type Context struct {
	IDs             *ids.Source
	Threads         *threads.Table
	Cells           map[ids.ID]*memmodel.Cell
	Mem             memmodel.Model
	MVars           *mvar.Table
	TVars           *stm.Table
	NumCapabilities int

	root ids.ID

	// firstActionSeen/firstWasDontCheck latch whether the very first
	// action this Context ever executed was a DontCheck, the
	// precondition canSnapshot relies on (§4.I) and IllegalDontCheck
	// enforces (§7). dontCheckUsed then ensures at most one DontCheck
	// ever runs, even when the head action legitimately was one.
	firstActionSeen   bool
	firstWasDontCheck bool
	dontCheckUsed     bool

	// inDontCheck is true for the dynamic extent of the running
	// DontCheck prelude's body, so a Sub attempted from inside it is
	// rejected (§7 IllegalSubconcurrency).
	inDontCheck bool

	// liftLog records every Lift action's Effect closure invoked during
	// the dynamic extent of a DontCheck prelude, in issue order — the
	// replay log the snapshot facility (§4.I) needs to reproduce
	// external side effects when resuming from a captured Context
	// instead of re-running the prelude.
	liftLog []func() action.Value
}

// New returns an empty Context simulated under memType, with no threads
// or resources yet.
func New(memType memmodel.Type) *Context {
	return &Context{
		IDs:             ids.NewSource(),
		Threads:         threads.NewTable(),
		Cells:           make(map[ids.ID]*memmodel.Cell),
		Mem:             memmodel.New(memType),
		MVars:           mvar.NewTable(),
		TVars:           stm.NewTable(),
		NumCapabilities: 1,
	}
}

// Spawn registers body as a new thread and returns its id. The first
// call on a fresh Context becomes the computation's root thread: the
// one whose Stop/uncaught-exception decides the whole run's outcome
// (§3 "main thread"), mirroring GHC's main exiting ends the program.
func (c *Context) Spawn(body action.Action, bound bool) ids.ID {
	tid := c.IDs.Fresh(ids.Thread, "")
	c.Threads.Spawn(tid, "", bound, body)
	if !c.root.Valid() {
		c.root = tid
	}
	return tid
}

// Clone deep-copies every piece of mutable state, used by the snapshot
// facility (§4.I) to rewind to the state right after a DontCheck
// prelude. The memory model value itself is shared: apart from TSO's
// global write-order counter, Cell carries all the state a model
// mutates, so two clones never observe each other's writes.
func (c *Context) Clone() *Context {
	idsClone := ids.NewSource()
	idsClone.Restore(c.IDs.Mark())

	cells := make(map[ids.ID]*memmodel.Cell, len(c.Cells))
	for id, cell := range c.Cells {
		cells[id] = cell.Clone()
	}

	return &Context{
		IDs:               idsClone,
		Threads:           c.Threads.Clone(),
		Cells:             cells,
		Mem:               c.Mem,
		MVars:             c.MVars.Clone(),
		TVars:             c.TVars.Clone(),
		NumCapabilities:   c.NumCapabilities,
		root:              c.root,
		firstActionSeen:   c.firstActionSeen,
		firstWasDontCheck: c.firstWasDontCheck,
		dontCheckUsed:     c.dontCheckUsed,
		inDontCheck:       c.inDontCheck,
		liftLog:           append([]func() action.Value(nil), c.liftLog...),
	}
}

// Root returns the id of the computation's main thread (§3 "main
// thread"), valid once at least one thread has been spawned.
func (c *Context) Root() ids.ID {
	return c.root
}

// LiftLog returns every Lift action's Effect closure invoked so far
// during a DontCheck prelude's dynamic extent, in issue order (§4.I).
func (c *Context) LiftLog() []func() action.Value {
	return c.liftLog
}

// Finished reports whether the root thread has run to completion —
// the computation-wide stopping condition (§3 "main thread"), whatever
// state any other thread is left in.
func (c *Context) Finished() bool {
	root, ok := c.Threads.Get(c.root)
	return ok && root.Status == threads.Finished
}

// RootOutcome reads off the final outcome once Finished is true.
func (c *Context) RootOutcome() outcome.Outcome {
	root, ok := c.Threads.Get(c.root)
	if !ok {
		return outcome.Fail(outcome.InternalErrorf("no root thread"))
	}
	if root.Err != nil {
		return outcome.Fail(outcome.UncaughtExceptionError(root.Err.Error()))
	}
	return outcome.Ok(root.Result)
}

// Deadlocked reports whether every thread is finished or blocked, with
// none runnable and at least one not finished (§7 "Deadlock").
func (c *Context) Deadlocked() bool {
	return c.Threads.AllBlocked()
}

// InDontCheck reports whether execution is currently within the
// dynamic extent of a DontCheck prelude's body, so callers (the DPOR
// driver's bound checks, §4.H "DontCheck prefixes are exempt") can
// treat its steps differently from exploration proper.
func (c *Context) InDontCheck() bool {
	return c.inDontCheck
}

// AllBlockedOnRetry reports whether every unfinished thread is parked
// in an STM retry — the STMDeadlock refinement of Deadlocked (§7), only
// meaningful once Deadlocked() is already known to hold.
func (c *Context) AllBlockedOnRetry() bool {
	sawAny := false
	for _, tid := range c.Threads.All() {
		th, _ := c.Threads.Get(tid)
		if th.Status == threads.Finished {
			continue
		}
		sawAny = true
		if th.Status != threads.BlockedRetry {
			return false
		}
	}
	return sawAny
}

// Candidates lists every schedulable unit right now (§4.F): runnable
// threads plus any memory-model commit pseudo-threads, in the
// deterministic order the scheduler contract requires (§4.H
// "Determinism"). It opportunistically retries ThrowTo deliveries that
// an intervening mask change may have unblocked, since those aren't
// triggered by any single earlier step the way MVar/STM wakeups are.
func (c *Context) Candidates() []scheduler.Candidate {
	c.retryBlockedThrows()

	runnable := c.Threads.Runnable()
	out := make([]scheduler.Candidate, 0, len(runnable))
	for _, tid := range runnable {
		th, _ := c.Threads.Get(tid)
		out = append(out, scheduler.Candidate{Tid: tid, Lookahead: lookahead(th.Cont)})
	}

	toks := c.Mem.CommitOptions(c.cellSlice())
	sort.Slice(toks, func(i, j int) bool {
		if toks[i].Writer.Int() != toks[j].Writer.Int() {
			return toks[i].Writer.Int() < toks[j].Writer.Int()
		}
		return toks[i].Cell.Int() < toks[j].Cell.Int()
	})
	for i := range toks {
		tok := toks[i]
		out = append(out, scheduler.Candidate{
			Commit:    &tok,
			Lookahead: trace.ActionTag{Kind: action.KCommit, Access: trace.AccessWrite, Resource: tok.Cell, Thread: tok.Writer},
		})
	}
	return out
}

func (c *Context) cellSlice() []*memmodel.Cell {
	out := make([]*memmodel.Cell, 0, len(c.Cells))
	for _, cell := range c.Cells {
		out = append(out, cell)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Int() < out[j].ID.Int() })
	return out
}

// lookahead summarizes a not-yet-executed action for the scheduler and
// the dependency oracle (§4.G), without running it.
func lookahead(a action.Action) trace.ActionTag {
	switch v := a.(type) {
	case action.ReadCell:
		return trace.ActionTag{Kind: action.KReadCell, Access: trace.AccessRead, Resource: v.Cell}
	case action.ReadCellCAS:
		return trace.ActionTag{Kind: action.KReadCellCAS, Access: trace.AccessRead, Resource: v.Cell}
	case action.WriteCell:
		return trace.ActionTag{Kind: action.KWriteCell, Access: trace.AccessWrite, Resource: v.Cell}
	case action.CASCell:
		return trace.ActionTag{Kind: action.KCASCell, Access: trace.AccessWrite, Resource: v.Cell}
	case action.ModCellCAS:
		return trace.ActionTag{Kind: action.KModCellCAS, Access: trace.AccessWrite, Resource: v.Cell}
	case action.PutMVar:
		return trace.ActionTag{Kind: action.KPutMVar, Access: trace.AccessWrite, Resource: v.MVar}
	case action.TakeMVar:
		return trace.ActionTag{Kind: action.KTakeMVar, Access: trace.AccessRead, Resource: v.MVar}
	case action.ReadMVar:
		return trace.ActionTag{Kind: action.KReadMVar, Access: trace.AccessRead, Resource: v.MVar}
	case action.TryPutMVar:
		return trace.ActionTag{Kind: action.KTryPutMVar, Access: trace.AccessWrite, Resource: v.MVar}
	case action.TryTakeMVar:
		return trace.ActionTag{Kind: action.KTryTakeMVar, Access: trace.AccessRead, Resource: v.MVar}
	case action.TryReadMVar:
		return trace.ActionTag{Kind: action.KTryReadMVar, Access: trace.AccessRead, Resource: v.MVar}
	case action.ThrowTo:
		return trace.ActionTag{Kind: action.KThrowTo, Thread: v.Target}
	case action.Atomic:
		// A transaction's true read/write footprint is only known once
		// it actually runs — Tx is an opaque closure. Reporting no
		// resource here is a deliberate under-approximation that only
		// affects alternatives DPOR did not choose to run; the step
		// that does run gets its real footprint from runAtomic's log.
		return trace.ActionTag{Kind: action.KAtomic}
	default:
		return trace.ActionTag{Kind: a.Kind()}
	}
}

// Step executes exactly one schedulable unit chosen by a Scheduler,
// producing the trace.Event to append.
func (c *Context) Step(chosen scheduler.Candidate, decisionKind trace.DecisionKind) (trace.Event, *outcome.Error) {
	if chosen.Commit != nil {
		return c.stepCommit(*chosen.Commit, decisionKind)
	}
	th, ok := c.Threads.Get(chosen.Tid)
	if !ok {
		return trace.Event{}, outcome.InternalErrorf("Step: unknown thread %v", chosen.Tid)
	}
	return c.stepThread(th, decisionKind)
}

func (c *Context) stepCommit(tok memmodel.CommitToken, decisionKind trace.DecisionKind) (trace.Event, *outcome.Error) {
	if !c.Mem.Commit(tok, c.Cells) {
		return trace.Event{}, outcome.InternalErrorf("commit: stale token %+v", tok)
	}
	tag := trace.ActionTag{Kind: action.KCommit, Access: trace.AccessWrite, Resource: tok.Cell, Thread: tok.Writer}
	return trace.Event{Decision: trace.Decision{Kind: decisionKind, Tid: tok.Writer}, Action: tag}, nil
}

func (c *Context) stepThread(th *threads.Thread, decisionKind trace.DecisionKind) (trace.Event, *outcome.Error) {
	if th.Status != threads.Runnable {
		return trace.Event{}, outcome.InternalErrorf("stepThread: %v not runnable (%v)", th.ID, th.Status)
	}
	a := th.Cont
	if !c.firstActionSeen {
		c.firstActionSeen = true
		_, c.firstWasDontCheck = a.(action.DontCheck)
	}
	tag, err := c.execute(th, a)
	if err != nil {
		return trace.Event{}, err
	}
	return trace.Event{Decision: trace.Decision{Kind: decisionKind, Tid: th.ID}, Action: tag}, nil
}

// execute runs exactly one action, mutating th.Cont (and whatever
// shared state the action touches) to describe what comes next.
func (c *Context) execute(th *threads.Thread, a action.Action) (trace.ActionTag, *outcome.Error) {
	switch v := a.(type) {

	// --- control ---------------------------------------------------
	case action.Fork:
		child := c.Spawn(v.Body, false)
		th.Cont = v.Next(child)
		return trace.ActionTag{Kind: action.KFork, Thread: child}, nil
	case action.ForkOS:
		child := c.Spawn(v.Body, true)
		th.Cont = v.Next(child)
		return trace.ActionTag{Kind: action.KForkOS, Thread: child}, nil
	case action.Yield:
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KYield}, nil
	case action.ThreadDelay:
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KThreadDelay}, nil
	case action.MyThreadID:
		th.Cont = v.Next(th.ID)
		return trace.ActionTag{Kind: action.KMyThreadID}, nil
	case action.Stop:
		th.Result = v.Result
		th.Status = threads.Finished
		th.Cont = nil
		return trace.ActionTag{Kind: action.KStop}, nil
	case action.GetNumCapabilities:
		th.Cont = v.Next(c.NumCapabilities)
		return trace.ActionTag{Kind: action.KGetNumCapabilities}, nil
	case action.SetNumCapabilities:
		c.NumCapabilities = v.N
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KSetNumCapabilities}, nil
	case action.IsBound:
		th.Cont = v.Next(th.Bound)
		return trace.ActionTag{Kind: action.KIsBound}, nil
	case action.Lift:
		if c.inDontCheck {
			c.liftLog = append(c.liftLog, v.Effect)
		}
		result := v.Effect()
		th.Cont = v.Next(result)
		return trace.ActionTag{Kind: action.KLift}, nil
	case action.Message:
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KMessage}, nil

	// --- cells -------------------------------------------------------
	case action.NewCell:
		cid := c.IDs.Fresh(ids.Cell, v.Name)
		c.Cells[cid] = memmodel.NewCell(cid, v.Initial)
		th.Cont = v.Next(cid)
		return trace.ActionTag{Kind: action.KNewCell, Access: trace.AccessCreate, Resource: cid}, nil
	case action.ReadCell:
		cell, ok := c.Cells[v.Cell]
		if !ok {
			return trace.ActionTag{}, outcome.InternalErrorf("ReadCell: unknown cell %v", v.Cell)
		}
		val := c.Mem.ReadsFor(th.ID, cell)
		th.Cont = v.Next(val)
		return trace.ActionTag{Kind: action.KReadCell, Access: trace.AccessRead, Resource: v.Cell}, nil
	case action.ReadCellCAS:
		cell, ok := c.Cells[v.Cell]
		if !ok {
			return trace.ActionTag{}, outcome.InternalErrorf("ReadCellCAS: unknown cell %v", v.Cell)
		}
		val := c.Mem.ReadsFor(th.ID, cell)
		th.Cont = v.Next(cell.Version(), val)
		return trace.ActionTag{Kind: action.KReadCellCAS, Access: trace.AccessRead, Resource: v.Cell}, nil
	case action.WriteCell:
		cell, ok := c.Cells[v.Cell]
		if !ok {
			return trace.ActionTag{}, outcome.InternalErrorf("WriteCell: unknown cell %v", v.Cell)
		}
		c.Mem.AfterWrite(th.ID, cell, v.Value)
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KWriteCell, Access: trace.AccessWrite, Resource: v.Cell}, nil
	case action.CASCell:
		cell, ok := c.Cells[v.Cell]
		if !ok {
			return trace.ActionTag{}, outcome.InternalErrorf("CASCell: unknown cell %v", v.Cell)
		}
		c.Mem.Barrier([]*memmodel.Cell{cell})
		matched := cell.Version() == v.Ticket
		if matched {
			c.Mem.AfterWrite(th.ID, cell, v.Value)
			c.Mem.Barrier([]*memmodel.Cell{cell})
		}
		th.Cont = v.Next(matched)
		return trace.ActionTag{Kind: action.KCASCell, Access: trace.AccessWrite, Resource: v.Cell}, nil
	case action.ModCellCAS:
		cell, ok := c.Cells[v.Cell]
		if !ok {
			return trace.ActionTag{}, outcome.InternalErrorf("ModCellCAS: unknown cell %v", v.Cell)
		}
		c.Mem.Barrier([]*memmodel.Cell{cell})
		next := v.Func(cell.Peek())
		c.Mem.AfterWrite(th.ID, cell, next)
		c.Mem.Barrier([]*memmodel.Cell{cell})
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KModCellCAS, Access: trace.AccessWrite, Resource: v.Cell}, nil

	// --- MVars -------------------------------------------------------
	case action.NewMVar:
		mid := c.IDs.Fresh(ids.MVar, v.Name)
		c.MVars.Register(mvar.New(mid, v.Initial, v.Full))
		th.Cont = v.Next(mid)
		return trace.ActionTag{Kind: action.KNewMVar, Access: trace.AccessCreate, Resource: mid}, nil
	case action.PutMVar:
		return c.putMVar(th, v.MVar, v.Value, v.Next)
	case action.TakeMVar:
		return c.takeMVar(th, v.MVar, false, v.Next)
	case action.ReadMVar:
		return c.takeMVar(th, v.MVar, true, v.Next)
	case action.TryPutMVar:
		return c.tryPutMVar(th, v)
	case action.TryTakeMVar:
		return c.tryTakeMVar(th, v)
	case action.TryReadMVar:
		return c.tryReadMVar(th, v)

	// --- exceptions / mask -------------------------------------------
	case action.Throw:
		c.unwind(th, v.Err)
		return trace.ActionTag{Kind: action.KThrow}, nil
	case action.ThrowTo:
		return c.throwTo(th, v)
	case action.Catching:
		depth := len(th.Handlers)
		var resume func(action.Value) action.Action
		resume = func(result action.Value) action.Action {
			th.TruncateHandlers(depth)
			return v.Next(result)
		}
		th.PushHandler(threads.Handler{
			Matches: v.Matches,
			Run: func(exc action.Value) action.Action {
				return v.Handler(exc, resume)
			},
		})
		th.Cont = v.Body(resume)
		return trace.ActionTag{Kind: action.KCatching}, nil
	case action.Masking:
		outer := th.Mask
		th.Mask = v.Level
		resume := func(result action.Value) action.Action {
			th.Mask = outer
			return v.Next(result)
		}
		unmask := func(inner action.Action) action.Action {
			return action.UnmaskScope{Inner: inner, RestoreTo: outer}
		}
		th.Cont = v.Body(unmask, resume)
		return trace.ActionTag{Kind: action.KMasking}, nil
	case action.UnmaskScope:
		masked := th.Mask
		th.Mask = v.RestoreTo
		tag, err := c.execute(th, v.Inner)
		if err != nil {
			return tag, err
		}
		if th.Status == threads.Runnable {
			th.Mask = masked
		} else {
			// Inner blocked while unmasked: stay unmasked for the
			// remainder of the block, restoring only once woken (§9) —
			// otherwise a ThrowTo that arrives while parked would see
			// the wrong, masked level.
			restore := masked
			th.PendingUnmask = &restore
		}
		return tag, nil

	// --- STM -----------------------------------------------------------
	case action.NewTVar:
		tvid := c.IDs.Fresh(ids.TVar, v.Name)
		c.TVars.Register(stm.New(tvid, v.Initial))
		th.Cont = v.Next(tvid)
		return trace.ActionTag{Kind: action.KNewTVar, Access: trace.AccessCreate, Resource: tvid}, nil
	case action.Atomic:
		return c.runAtomic(th, v)

	// --- meta ------------------------------------------------------------
	case action.Sub:
		return c.runSub(th, v)
	case action.DontCheck:
		if c.dontCheckUsed || (c.firstActionSeen && !c.firstWasDontCheck) {
			return trace.ActionTag{}, outcome.IllegalDontCheckError()
		}
		c.dontCheckUsed = true
		c.inDontCheck = true
		resume := func(result action.Value) action.Action {
			c.inDontCheck = false
			return v.Next(result)
		}
		th.Cont = v.Body(resume)
		return trace.ActionTag{Kind: action.KDontCheck}, nil

	default:
		return trace.ActionTag{}, outcome.InternalErrorf("unhandled action kind %v", a.Kind())
	}
}

// --- MVar helpers -----------------------------------------------------

func (c *Context) putMVar(th *threads.Thread, mid ids.ID, value mvar.Value, next func() action.Action) (trace.ActionTag, *outcome.Error) {
	m, ok := c.MVars.Get(mid)
	if !ok {
		return trace.ActionTag{}, outcome.InternalErrorf("PutMVar: unknown MVar %v", mid)
	}
	if m.IsFull() {
		th.Status = threads.BlockedPutMVar
		th.BlockedOn = mid
		m.EnqueueWriter(th.ID)
		return trace.ActionTag{Kind: action.KPutMVar, Access: trace.AccessBlock, Resource: mid}, nil
	}
	m.Put(value)
	c.wakeReader(m)
	th.Cont = next()
	return trace.ActionTag{Kind: action.KPutMVar, Access: trace.AccessWrite, Resource: mid}, nil
}

func (c *Context) takeMVar(th *threads.Thread, mid ids.ID, readOnly bool, next func(mvar.Value) action.Action) (trace.ActionTag, *outcome.Error) {
	m, ok := c.MVars.Get(mid)
	if !ok {
		return trace.ActionTag{}, outcome.InternalErrorf("TakeMVar: unknown MVar %v", mid)
	}
	kind, status := action.KTakeMVar, threads.BlockedTakeMVar
	if readOnly {
		kind, status = action.KReadMVar, threads.BlockedReadMVar
	}
	if !m.IsFull() {
		th.Status = status
		th.BlockedOn = mid
		m.EnqueueReader(th.ID)
		return trace.ActionTag{Kind: kind, Access: trace.AccessBlock, Resource: mid}, nil
	}
	var val mvar.Value
	if readOnly {
		val = m.Read()
	} else {
		val = m.Take()
		c.wakeWriter(m)
	}
	th.Cont = next(val)
	return trace.ActionTag{Kind: kind, Access: trace.AccessRead, Resource: mid}, nil
}

func (c *Context) tryPutMVar(th *threads.Thread, v action.TryPutMVar) (trace.ActionTag, *outcome.Error) {
	m, ok := c.MVars.Get(v.MVar)
	if !ok {
		return trace.ActionTag{}, outcome.InternalErrorf("TryPutMVar: unknown MVar %v", v.MVar)
	}
	if m.IsFull() {
		th.Cont = v.Next(false)
		return trace.ActionTag{Kind: action.KTryPutMVar, Access: trace.AccessRead, Resource: v.MVar}, nil
	}
	m.Put(v.Value)
	c.wakeReader(m)
	th.Cont = v.Next(true)
	return trace.ActionTag{Kind: action.KTryPutMVar, Access: trace.AccessWrite, Resource: v.MVar}, nil
}

func (c *Context) tryTakeMVar(th *threads.Thread, v action.TryTakeMVar) (trace.ActionTag, *outcome.Error) {
	m, ok := c.MVars.Get(v.MVar)
	if !ok {
		return trace.ActionTag{}, outcome.InternalErrorf("TryTakeMVar: unknown MVar %v", v.MVar)
	}
	if !m.IsFull() {
		th.Cont = v.Next(nil, false)
		return trace.ActionTag{Kind: action.KTryTakeMVar, Access: trace.AccessRead, Resource: v.MVar}, nil
	}
	val := m.Take()
	c.wakeWriter(m)
	th.Cont = v.Next(val, true)
	return trace.ActionTag{Kind: action.KTryTakeMVar, Access: trace.AccessWrite, Resource: v.MVar}, nil
}

func (c *Context) tryReadMVar(th *threads.Thread, v action.TryReadMVar) (trace.ActionTag, *outcome.Error) {
	m, ok := c.MVars.Get(v.MVar)
	if !ok {
		return trace.ActionTag{}, outcome.InternalErrorf("TryReadMVar: unknown MVar %v", v.MVar)
	}
	if !m.IsFull() {
		th.Cont = v.Next(nil, false)
		return trace.ActionTag{Kind: action.KTryReadMVar, Access: trace.AccessRead, Resource: v.MVar}, nil
	}
	th.Cont = v.Next(m.Read(), true)
	return trace.ActionTag{Kind: action.KTryReadMVar, Access: trace.AccessRead, Resource: v.MVar}, nil
}

// wakeReader/wakeWriter pop the oldest queued waiter, skipping any
// stale entry left behind by a ThrowTo that redirected that thread
// elsewhere while it was parked (§9).
func (c *Context) wakeReader(m *mvar.MVar) {
	for {
		tid, ok := m.PopReader()
		if !ok {
			return
		}
		th, ok := c.Threads.Get(tid)
		if !ok {
			continue
		}
		if (th.Status != threads.BlockedTakeMVar && th.Status != threads.BlockedReadMVar) || th.BlockedOn != m.ID {
			continue
		}
		c.wake(tid)
		return
	}
}

func (c *Context) wakeWriter(m *mvar.MVar) {
	for {
		tid, ok := m.PopWriter()
		if !ok {
			return
		}
		th, ok := c.Threads.Get(tid)
		if !ok {
			continue
		}
		if th.Status != threads.BlockedPutMVar || th.BlockedOn != m.ID {
			continue
		}
		c.wake(tid)
		return
	}
}

// wake marks tid runnable again, restoring any mask level an unmasked
// block left pending (§9).
func (c *Context) wake(tid ids.ID) {
	th, ok := c.Threads.Get(tid)
	if !ok {
		return
	}
	th.Status = threads.Runnable
	if th.PendingUnmask != nil {
		th.Mask = *th.PendingUnmask
		th.PendingUnmask = nil
	}
}

// --- exceptions --------------------------------------------------------

// unwind searches th's handler stack innermost-first for one accepting
// exc. A match truncates the stack to that depth and replaces th.Cont
// with the handler's continuation; no match finishes th with exc as an
// uncaught exception — fatal for the whole run only if th is the root
// thread (§7, checked by RootOutcome once Finished is true).
func (c *Context) unwind(th *threads.Thread, exc action.Value) {
	if h, depth, ok := th.FindHandler(exc); ok {
		th.TruncateHandlers(depth)
		th.Cont = h.Run(exc)
		return
	}
	th.Cont = nil
	th.Status = threads.Finished
	th.Err = fmt.Errorf("%v", exc)
}

// throwTo delivers v.Err to its target immediately if the target's
// mask permits it, else blocks the thrower (§4.D "ThrowTo is
// synchronous").
func (c *Context) throwTo(th *threads.Thread, v action.ThrowTo) (trace.ActionTag, *outcome.Error) {
	target, ok := c.Threads.Get(v.Target)
	if !ok {
		return trace.ActionTag{}, outcome.InternalErrorf("ThrowTo: unknown thread %v", v.Target)
	}
	if c.tryDeliver(target, v.Err) {
		th.Cont = v.Next()
		return trace.ActionTag{Kind: action.KThrowTo, Thread: v.Target}, nil
	}
	th.Status = threads.BlockedThrowTo
	th.ThrowTarget = v.Target
	th.ThrowErr = v.Err
	return trace.ActionTag{Kind: action.KThrowTo, Access: trace.AccessBlock, Thread: v.Target}, nil
}

// tryDeliver reports whether exc was (or could trivially be) delivered
// to target: a finished thread absorbs it as a no-op; a thread masked
// uninterruptible refuses it; otherwise it is unwound into immediately
// and forced runnable, overriding whatever it was blocked on.
func (c *Context) tryDeliver(target *threads.Thread, exc action.Value) bool {
	if target.Status == threads.Finished {
		return true
	}
	if target.Mask == action.MaskedUninterruptible {
		return false
	}
	c.unwind(target, exc)
	if target.Status != threads.Finished {
		target.Status = threads.Runnable
		target.PendingUnmask = nil
	}
	return true
}

// retryBlockedThrows re-attempts every pending ThrowTo whose target
// may have become interruptible since it last blocked — the thrower's
// own Cont is still the original ThrowTo (execute never replaced it
// while blocking), so delivering just means advancing past it.
func (c *Context) retryBlockedThrows() {
	for _, tid := range c.Threads.All() {
		th, _ := c.Threads.Get(tid)
		if th.Status != threads.BlockedThrowTo {
			continue
		}
		target, ok := c.Threads.Get(th.ThrowTarget)
		if !ok {
			continue
		}
		if c.tryDeliver(target, th.ThrowErr) {
			if tc, ok := th.Cont.(action.ThrowTo); ok {
				th.Cont = tc.Next()
			}
			th.Status = threads.Runnable
		}
	}
}

// --- STM -----------------------------------------------------------------

func (c *Context) runAtomic(th *threads.Thread, v action.Atomic) (trace.ActionTag, *outcome.Error) {
	result, committed, retried, readSet, writeSet := stm.RunAtomic(c.TVars, v.Tx)
	if retried {
		th.Status = threads.BlockedRetry
		th.WatchSet = readSet
		return trace.ActionTag{Kind: action.KAtomic, Access: trace.AccessBlock, TVarReads: readSet}, nil
	}
	if !committed {
		// Lost a race against a concurrent commit; th.Cont is still
		// this same Atomic, so the next step re-executes it from
		// scratch with a fresh log (§5).
		return trace.ActionTag{Kind: action.KAtomic, Access: trace.AccessRead, TVarReads: readSet, TVarWrites: writeSet}, nil
	}
	c.wakeRetriers(writeSet)
	th.Cont = v.Next(result)
	return trace.ActionTag{Kind: action.KAtomic, Access: trace.AccessWrite, TVarReads: readSet, TVarWrites: writeSet}, nil
}

// wakeRetriers wakes every BlockedRetry thread whose watched read set
// intersects a just-committed write set (§5 "Retry").
func (c *Context) wakeRetriers(writeSet []ids.ID) {
	if len(writeSet) == 0 {
		return
	}
	for _, tid := range c.Threads.All() {
		th, _ := c.Threads.Get(tid)
		if th.Status == threads.BlockedRetry && idSetsIntersect(th.WatchSet, writeSet) {
			c.wake(tid)
		}
	}
}

func idSetsIntersect(a, b []ids.ID) bool {
	seen := make(map[ids.ID]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}

// --- meta ------------------------------------------------------------------

func (c *Context) runSub(th *threads.Thread, v action.Sub) (trace.ActionTag, *outcome.Error) {
	if th.SubDepth > 0 || c.inDontCheck {
		return trace.ActionTag{}, outcome.IllegalSubconcurrencyError()
	}
	th.SubDepth++
	depth := len(th.Handlers)
	resume := func(result action.Value) action.Action {
		th.SubDepth--
		th.TruncateHandlers(depth)
		return v.Next(action.SubResult{Value: result})
	}
	th.PushHandler(threads.Handler{
		Matches: func(action.Value) bool { return true },
		Run: func(exc action.Value) action.Action {
			th.SubDepth--
			th.TruncateHandlers(depth)
			return v.Next(action.SubResult{Err: fmt.Errorf("%v", exc)})
		},
	})
	th.Cont = v.Body(resume)
	return trace.ActionTag{Kind: action.KSub}, nil
}
