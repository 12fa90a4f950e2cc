// Package memmodel implements the relaxed-memory simulator (§4.B):
// per-cell write buffers keyed by thread, and the commit semantics that
// make buffered writes globally visible under SC, TSO and PSO.
//
// The shape of Cell mirrors the teacher's shadowmem.VarState: a cell with
// no buffered write carries a nil buffer (the fast path, and always the
// case under SC); the backing slice is allocated by the first write
// buffered under TSO or PSO.
package memmodel

import "github.com/kolkov/sct/ids"

// Type selects which memory model a run is simulated under.
type Type int

const (
	SC Type = iota
	TSO
	PSO
)

func (t Type) String() string {
	switch t {
	case SC:
		return "SC"
	case TSO:
		return "TSO"
	case PSO:
		return "PSO"
	default:
		return "unknown"
	}
}

// Value is the type of a cell's contents. The interpreter never inspects
// it; user programs put whatever they like there.
type Value = any

type pendingWrite struct {
	writer ids.ID
	value  Value
	// seq orders writes globally across cells, needed by TSO to find
	// the oldest pending write for a writer even though storage is
	// partitioned per cell. PSO and SC leave this at zero.
	seq uint64
}

// Cell is a single mutable memory location together with its per-thread
// write buffers.
type Cell struct {
	ID      ids.ID
	global  Value
	version uint64 // bumped on every commit; backs CAS tickets

	// buffer holds writes not yet committed to global, in the order they
	// were issued. Under SC this is always empty (writes commit inline).
	// Under TSO it holds every writer's pending writes interleaved by
	// issue order; under PSO each cell's buffer only ever holds writes
	// from threads that have written to THIS cell.
	buffer []pendingWrite
}

// Ticket is an opaque capability representing an observed cell version,
// required by CASCell to detect that the cell has not moved since the
// ticket was read.
type Ticket uint64

// NewCell creates a cell with the given initial value. Fresh cells start
// with an empty buffer and version 0.
func NewCell(id ids.ID, initial Value) *Cell {
	return &Cell{ID: id, global: initial}
}

// Peek returns the committed global value, bypassing any thread's buffer.
// Used by the interpreter's ModCellCAS, after a Barrier has flushed the
// cell.
func (c *Cell) Peek() Value { return c.global }

// Version returns the cell's current commit version, usable as a CAS
// ticket once exposed via ReadCellCAS.
func (c *Cell) Version() Ticket { return Ticket(c.version) }

// hasBufferedWriteFrom reports whether writer has at least one pending
// write queued in this cell's buffer.
func (c *Cell) hasBufferedWriteFrom(writer ids.ID) bool {
	for _, w := range c.buffer {
		if w.writer == writer {
			return true
		}
	}
	return false
}

// mostRecentFrom returns the most recently buffered write issued by
// writer, if any, scanning from the tail since later writes shadow
// earlier ones for that same reader.
func (c *Cell) mostRecentFrom(writer ids.ID) (Value, bool) {
	for i := len(c.buffer) - 1; i >= 0; i-- {
		if c.buffer[i].writer == writer {
			return c.buffer[i].value, true
		}
	}
	return nil, false
}

// commitOldestFrom removes and applies the oldest pending write issued by
// writer, maintaining FIFO order per writer (§3 invariants).
func (c *Cell) commitOldestFrom(writer ids.ID) bool {
	for i, w := range c.buffer {
		if w.writer == writer {
			c.global = w.value
			c.version++
			c.buffer = append(c.buffer[:i], c.buffer[i+1:]...)
			return true
		}
	}
	return false
}

// oldestSeqFrom returns the sequence number of writer's oldest pending
// write in this cell, if any.
func (c *Cell) oldestSeqFrom(writer ids.ID) (uint64, bool) {
	for _, w := range c.buffer {
		if w.writer == writer {
			return w.seq, true
		}
	}
	return 0, false
}

// commitAll forces every pending write in the buffer to apply, in FIFO
// order, regardless of writer. Used by Barrier.
func (c *Cell) commitAll() {
	for len(c.buffer) > 0 {
		c.global = c.buffer[0].value
		c.version++
		c.buffer = c.buffer[1:]
	}
}

// Clone deep-copies c, used by the snapshot facility (§4.I).
func (c *Cell) Clone() *Cell {
	return &Cell{
		ID:      c.ID,
		global:  c.global,
		version: c.version,
		buffer:  append([]pendingWrite(nil), c.buffer...),
	}
}

// CommitToken names a deferred write becoming globally visible: a
// synthetic "commit-thread" exposed to the scheduler as a runnable
// pseudo-thread (§4.B). Under TSO, Cell is the zero ID (one buffer per
// writer, shared across all cells); under PSO, Cell identifies which
// cell's buffer this token drains (one buffer per (writer, cell) pair).
type CommitToken struct {
	Writer ids.ID
	Cell   ids.ID
}

// Model is the relaxed-memory simulator interface implemented by SC, TSO
// and PSO (§4.B).
type Model interface {
	Type() Type

	// AfterWrite records that writer wrote value to c. Under SC this
	// commits immediately; under TSO/PSO it enqueues into a buffer.
	AfterWrite(writer ids.ID, c *Cell, value Value)

	// ReadsFor returns what reader currently observes in c: its own most
	// recent buffered write if any, else the committed global value.
	ReadsFor(reader ids.ID, c *Cell) Value

	// CommitOptions returns every pending commit available to be
	// scheduled right now, across the given cells.
	CommitOptions(cells []*Cell) []CommitToken

	// Commit performs the write named by tok, removing it from its
	// buffer and promoting it to the cell's global value.
	Commit(tok CommitToken, cells map[ids.ID]*Cell) bool

	// Barrier forces every pending write to the given cells (or, if
	// cells is nil, a full barrier is the caller's responsibility to
	// enumerate) to commit before the calling action proceeds. Used by
	// CAS and other fence-carrying operations (§4.D).
	Barrier(cells []*Cell)
}

// New constructs the simulator for the requested memory type.
func New(t Type) Model {
	switch t {
	case TSO:
		return &tsoModel{seq: new(uint64)}
	case PSO:
		return psoModel{}
	default:
		return scModel{}
	}
}
