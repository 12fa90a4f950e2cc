// Package action defines the reified action alphabet (§4.D) that a
// computation is built from: control, cell, MVar, exception/mask, STM
// and meta actions. A computation is a tree of Action values linked by
// success continuations, in continuation-passing style (§9 "Design
// Notes: Continuation-passing action tree").
//
// The shape — one concrete struct per action kind, all satisfying a
// common interface — follows the teacher's request/thread split
// (v.io's internal testing/concurrency package structures each
// scheduling intention as its own request type: mutexLockRequest,
// rwMutexLockRequest, goRequest, ...). Here every concrete type plays
// the role those request types played, except the payload describes an
// interpreter primitive instead of a sync.Mutex operation.
package action

import (
	"github.com/kolkov/sct/ids"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/stm"
)

// Value is the type carried by continuations and action payloads. The
// interpreter never inspects it.
type Value = any

// MaskState mirrors GHC's three-level asynchronous-exception mask, used
// by Masking and carried on each Thread (§3 "mask state").
type MaskState int

const (
	Unmasked MaskState = iota
	MaskedInterruptible
	MaskedUninterruptible
)

func (m MaskState) String() string {
	switch m {
	case MaskedInterruptible:
		return "MaskedInterruptible"
	case MaskedUninterruptible:
		return "MaskedUninterruptible"
	default:
		return "Unmasked"
	}
}

// Kind discriminates members of the action alphabet; see §4.D.
type Kind int

const (
	KFork Kind = iota
	KForkOS
	KYield
	KThreadDelay
	KMyThreadID
	KStop
	KGetNumCapabilities
	KSetNumCapabilities
	KIsBound
	KLift
	KMessage

	KNewCell
	KReadCell
	KReadCellCAS
	KWriteCell
	KCASCell
	KModCellCAS

	KNewMVar
	KPutMVar
	KTakeMVar
	KReadMVar
	KTryPutMVar
	KTryTakeMVar
	KTryReadMVar

	KThrow
	KThrowTo
	KCatching
	KMasking
	KUnmaskScope

	KNewTVar
	KAtomic

	KSub
	KDontCheck

	// KCommit tags a memory-model commit pseudo-step (§4.B); it never
	// appears as a node in a computation's action tree, only as a
	// trace.ActionTag recording that a buffered write was flushed.
	KCommit
)

var kindNames = map[Kind]string{
	KFork: "fork", KForkOS: "forkOS", KYield: "yield", KThreadDelay: "threadDelay",
	KMyThreadID: "myThreadId", KStop: "stop", KGetNumCapabilities: "getNumCapabilities",
	KSetNumCapabilities: "setNumCapabilities", KIsBound: "isBound", KLift: "lift",
	KMessage: "message", KNewCell: "newCell", KReadCell: "readCell",
	KReadCellCAS: "readCellCAS", KWriteCell: "writeCell", KCASCell: "casCell",
	KModCellCAS: "modCellCAS", KNewMVar: "newMVar", KPutMVar: "putMVar",
	KTakeMVar: "takeMVar", KReadMVar: "readMVar", KTryPutMVar: "tryPutMVar",
	KTryTakeMVar: "tryTakeMVar", KTryReadMVar: "tryReadMVar", KThrow: "throw",
	KThrowTo: "throwTo", KCatching: "catching", KMasking: "masking",
	KUnmaskScope: "unmaskScope", KNewTVar: "newTVar", KAtomic: "atomic",
	KSub: "sub", KDontCheck: "dontCheck", KCommit: "commit",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Action is the common interface implemented by every concrete action
// type below. It carries no behavior of its own: the interpreter (§4.D)
// type-switches on the concrete type to execute it, and the dependency
// oracle (§4.G) type-switches to compute its resource footprint.
type Action interface {
	Kind() Kind
}

// Unmask is the scoped capability passed into a Masking body (§9
// "Masking and scoped unmask"). Calling it with a single action wraps
// that action to run at the mask level in effect just outside the
// enclosing Masking; the interpreter restores the inner mask the
// moment the wrapped action finishes.
type Unmask func(inner Action) Action

// --- Control -----------------------------------------------------------

type Fork struct {
	Name string
	Body Action
	Next func(thread ids.ID) Action
}

func (Fork) Kind() Kind { return KFork }

type ForkOS struct {
	Name string
	Body Action
	Next func(thread ids.ID) Action
}

func (ForkOS) Kind() Kind { return KForkOS }

type Yield struct {
	Next func() Action
}

func (Yield) Kind() Kind { return KYield }

type ThreadDelay struct {
	N    int
	Next func() Action
}

func (ThreadDelay) Kind() Kind { return KThreadDelay }

type MyThreadID struct {
	Next func(self ids.ID) Action
}

func (MyThreadID) Kind() Kind { return KMyThreadID }

// Stop is terminal: the thread carrying it exits with Result.
type Stop struct {
	Result Value
}

func (Stop) Kind() Kind { return KStop }

type GetNumCapabilities struct {
	Next func(n int) Action
}

func (GetNumCapabilities) Kind() Kind { return KGetNumCapabilities }

type SetNumCapabilities struct {
	N    int
	Next func() Action
}

func (SetNumCapabilities) Kind() Kind { return KSetNumCapabilities }

type IsBound struct {
	Next func(bound bool) Action
}

func (IsBound) Kind() Kind { return KIsBound }

// Lift performs a user-supplied effect atomically from the interpreter's
// perspective (§4.D). For snapshotting, the effect is recorded and
// replayed on restore without capturing return values (§4.I); this
// requires the effect to be idempotent, a user contract (§9).
type Lift struct {
	Effect func() Value
	Next   func(result Value) Action
}

func (Lift) Kind() Kind { return KLift }

type Message struct {
	Payload Value
	Next    func() Action
}

func (Message) Kind() Kind { return KMessage }

// --- Cells ---------------------------------------------------------------

type NewCell struct {
	Name    string
	Initial memmodel.Value
	Next    func(cell ids.ID) Action
}

func (NewCell) Kind() Kind { return KNewCell }

type ReadCell struct {
	Cell ids.ID
	Next func(v memmodel.Value) Action
}

func (ReadCell) Kind() Kind { return KReadCell }

type ReadCellCAS struct {
	Cell ids.ID
	Next func(ticket memmodel.Ticket, v memmodel.Value) Action
}

func (ReadCellCAS) Kind() Kind { return KReadCellCAS }

type WriteCell struct {
	Cell  ids.ID
	Value memmodel.Value
	Next  func() Action
}

func (WriteCell) Kind() Kind { return KWriteCell }

type CASCell struct {
	Cell   ids.ID
	Ticket memmodel.Ticket
	Value  memmodel.Value
	Next   func(ok bool) Action
}

func (CASCell) Kind() Kind { return KCASCell }

// ModCellCAS atomically reads, applies Func and CAS-writes a cell under
// one barrier (§4.D): "ModCellCAS is atomic and barriered", unlike
// ModCell below which is sugar for two separate, interleavable events.
type ModCellCAS struct {
	Cell ids.ID
	Func func(memmodel.Value) memmodel.Value
	Next func() Action
}

func (ModCellCAS) Kind() Kind { return KModCellCAS }

// ModCell desugars into a ReadCell immediately followed by a WriteCell:
// "reads-then-writes non-atomically (two events, buffered)" (§4.D). It
// is not its own Kind — constructing it directly builds the two-step
// tree, so a context switch between the read and the write is visible
// to the scheduler exactly like any other pair of actions.
func NewModCell(cell ids.ID, f func(memmodel.Value) memmodel.Value, next func() Action) Action {
	return ReadCell{
		Cell: cell,
		Next: func(v memmodel.Value) Action {
			return WriteCell{Cell: cell, Value: f(v), Next: next}
		},
	}
}

// --- MVars ---------------------------------------------------------------

type NewMVar struct {
	Name    string
	Initial memmodel.Value
	Full    bool
	Next    func(mvar ids.ID) Action
}

func (NewMVar) Kind() Kind { return KNewMVar }

type PutMVar struct {
	MVar  ids.ID
	Value memmodel.Value
	Next  func() Action
}

func (PutMVar) Kind() Kind { return KPutMVar }

type TakeMVar struct {
	MVar ids.ID
	Next func(v memmodel.Value) Action
}

func (TakeMVar) Kind() Kind { return KTakeMVar }

type ReadMVar struct {
	MVar ids.ID
	Next func(v memmodel.Value) Action
}

func (ReadMVar) Kind() Kind { return KReadMVar }

type TryPutMVar struct {
	MVar  ids.ID
	Value memmodel.Value
	Next  func(ok bool) Action
}

func (TryPutMVar) Kind() Kind { return KTryPutMVar }

type TryTakeMVar struct {
	MVar ids.ID
	Next func(v memmodel.Value, ok bool) Action
}

func (TryTakeMVar) Kind() Kind { return KTryTakeMVar }

type TryReadMVar struct {
	MVar ids.ID
	Next func(v memmodel.Value, ok bool) Action
}

func (TryReadMVar) Kind() Kind { return KTryReadMVar }

// --- Exceptions / mask -----------------------------------------------------

// Throw is terminal in its branch: control transfers to the nearest
// matching handler (§4.D), never to a success continuation.
type Throw struct {
	Err Value
}

func (Throw) Kind() Kind { return KThrow }

// ThrowTo is synchronous: the thrower blocks until the target's mask
// permits delivery (§4.D).
type ThrowTo struct {
	Target ids.ID
	Err    Value
	Next   func() Action
}

func (ThrowTo) Kind() Kind { return KThrowTo }

// Catching installs a handler around Body. Body and Handler are built
// lazily from a resume callback rather than a fixed Action, because an
// arbitrary number of interpreter steps may pass before either reaches
// its own tail — resume is that tail: calling it pops this handler and
// feeds its argument to whatever follows the catch (§4.D, §9 "resume
// callback"). If Body throws and Matches accepts the exception, Handler
// runs with the exception value in place of Body; Handler must itself
// call resume (or propagate by throwing again) to produce a result.
type Catching struct {
	Matches func(Value) bool
	Handler func(exc Value, resume func(Value) Action) Action
	Body    func(resume func(Value) Action) Action
	Next    func(result Value) Action
}

func (Catching) Kind() Kind { return KCatching }

// Masking pushes Level on entry to Body and pops it on exit, handing
// Body both a scoped Unmask capability and a resume callback (§4.D,
// §9). Calling resume restores the mask in effect before this Masking
// and feeds its argument onward to Next.
type Masking struct {
	Level MaskState
	Body  func(unmask Unmask, resume func(Value) Action) Action
	Next  func(result Value) Action
}

func (Masking) Kind() Kind { return KMasking }

// UnmaskScope is produced by invoking an Unmask capability: Inner runs
// at RestoreTo, the mask level in effect just outside the enclosing
// Masking, for exactly the duration of that one action (§9). Unmasking
// a longer sequence means wrapping each of its blocking actions
// individually rather than the sequence as a whole.
type UnmaskScope struct {
	Inner     Action
	RestoreTo MaskState
}

func (UnmaskScope) Kind() Kind { return KUnmaskScope }

// --- STM -------------------------------------------------------------------

// NewTVar allocates a transactional cell outside any transaction,
// addressed by id from then on exactly like NewCell/NewMVar (§4.D).
type NewTVar struct {
	Name    string
	Initial stm.Value
	Next    func(tvar ids.ID) Action
}

func (NewTVar) Kind() Kind { return KNewTVar }

// Atomic runs Tx to completion within one visible interpreter step
// (§5): reads and writes log against the transaction rather than global
// state, and Commit (or Retry) happens under a single barrier.
type Atomic struct {
	Tx   func(tx *stm.Tx) Value
	Next func(result Value) Action
}

func (Atomic) Kind() Kind { return KAtomic }

// --- Meta ------------------------------------------------------------------

// Sub runs Body to completion in the same thread and shared state,
// capturing its outcome (success value or failure) rather than letting
// a failure propagate past Sub. Nesting a Sub inside another Sub's
// dynamic extent, or inside a DontCheck prelude, is IllegalSubconcurrency
// (§7) — a Sub is meant to delimit exactly one layer of "run this and
// see what happens", not to recurse.
type Sub struct {
	Body func(resume func(Value) Action) Action
	Next func(result SubResult) Action
}

func (Sub) Kind() Kind { return KSub }

// SubResult is what a Sub action hands to its continuation: either the
// nested computation's successful value, or the failure it produced.
type SubResult struct {
	Value Value
	Err   error // non-nil iff the nested computation failed
}

// DontCheck marks Body as a deterministic prelude (§4.I): it runs once
// under round-robin scheduling and its post-state can be snapshotted.
// Bound, if non-nil, caps the number of scheduling steps taken while
// running it. canSnapshot(c) = true iff c's very first action is a
// DontCheck (§4.I); a DontCheck appearing anywhere else is
// IllegalDontCheck (§7).
type DontCheck struct {
	Bound *int
	Body  func(resume func(Value) Action) Action
	Next  func(result Value) Action
}

func (DontCheck) Kind() Kind { return KDontCheck }
