// Package stm implements the software-transactional-memory sub
// interpreter (§4.D "STM", §5 "Atomicity of STM"): TVars readable and
// writable only within a transaction, and a per-transaction log that
// either commits atomically or aborts and retries.
//
// TVar's version counter plays the same role as the teacher's
// vectorclock/epoch pair: a compact, cheaply-comparable stamp that lets
// Commit decide in O(1) per touched TVar whether the read set is still
// valid, without re-reading every TVar's full history.
package stm

import "github.com/kolkov/sct/ids"

// Value is the type of a TVar's contents.
type Value = any

// TVar is a cell readable/writable only within a transaction.
type TVar struct {
	ID      ids.ID
	value   Value
	version uint64
}

// New creates a TVar with the given initial value.
func New(id ids.ID, initial Value) *TVar {
	return &TVar{ID: id, value: initial}
}

// Table is the set of TVars allocated during a run.
type Table struct {
	vars map[ids.ID]*TVar
}

// NewTable returns an empty TVar table.
func NewTable() *Table {
	return &Table{vars: make(map[ids.ID]*TVar)}
}

// Register inserts a freshly allocated TVar.
func (t *Table) Register(tv *TVar) { t.vars[tv.ID] = tv }

// Get returns the TVar for id, if registered.
func (t *Table) Get(id ids.ID) (*TVar, bool) {
	tv, ok := t.vars[id]
	return tv, ok
}

// Clone deep-copies the table (snapshot).
func (t *Table) Clone() *Table {
	out := NewTable()
	for id, tv := range t.vars {
		out.vars[id] = &TVar{ID: tv.ID, value: tv.value, version: tv.version}
	}
	return out
}

// Log is a single transaction's read set (TVarId -> observed version)
// and write set (TVarId -> tentative value), per §3 "Transaction log".
type Log struct {
	table    *Table
	reads    map[ids.ID]uint64
	writes   map[ids.ID]Value
}

// NewLog starts a fresh transaction log against table.
func NewLog(table *Table) *Log {
	return &Log{
		table:  table,
		reads:  make(map[ids.ID]uint64),
		writes: make(map[ids.ID]Value),
	}
}

// Read returns the transaction's view of tv: its own tentative write if
// one is pending, else the committed value, recording tv in the read
// set the first time it is observed.
func (l *Log) Read(tv *TVar) Value {
	if v, ok := l.writes[tv.ID]; ok {
		return v
	}
	if _, seen := l.reads[tv.ID]; !seen {
		l.reads[tv.ID] = tv.version
	}
	return tv.value
}

// Write records a tentative write; it is only made visible to other
// transactions on Commit.
func (l *Log) Write(tv *TVar, v Value) {
	l.writes[tv.ID] = v
}

// ReadSet exposes the TVars this log has observed, used by the retry
// mechanism (§5 "Retry suspends ... waiting on any TVar in the read set
// changing") to compute which TVars must be watched.
func (l *Log) ReadSet() []ids.ID {
	out := make([]ids.ID, 0, len(l.reads))
	for id := range l.reads {
		out = append(out, id)
	}
	return out
}

// WriteSet exposes the TVars this log would modify, used by the
// dependency oracle to decide whether two transactions conflict.
func (l *Log) WriteSet() []ids.ID {
	out := make([]ids.ID, 0, len(l.writes))
	for id := range l.writes {
		out = append(out, id)
	}
	return out
}

// Validate reports whether every TVar in the read set still carries the
// version observed when it was read — the precondition for Commit.
func (l *Log) Validate() bool {
	for id, version := range l.reads {
		tv, ok := l.table.vars[id]
		if !ok || tv.version != version {
			return false
		}
	}
	return true
}

// Commit applies the write set atomically under a single memory barrier
// (§5): either the read set validates and every write set entry is
// applied, or none are and the caller must re-execute the transaction.
// Returns false if
// validation failed.
func (l *Log) Commit() bool {
	if !l.Validate() {
		return false
	}
	for id, v := range l.writes {
		tv := l.table.vars[id]
		tv.value = v
		tv.version++
	}
	return true
}

// retrySignal is the sentinel panicked by Tx.Retry and recovered by
// RunAtomic; it never escapes a transaction body.
type retrySignal struct{}

// Tx is the handle a transaction body runs against (action.Atomic's
// Tx field). It wraps a Log with the user-facing ReadTVar/WriteTVar
// names and the Retry primitive, keeping the raw Log type free of
// retry's panic/recover control flow.
type Tx struct {
	log *Log
}

// ReadTVar reads the TVar named by id within the transaction, addressed
// the same way ReadCell addresses a cell: by id, resolved against the
// shared table rather than a pointer the caller must already hold.
func (tx *Tx) ReadTVar(id ids.ID) Value {
	tv, ok := tx.log.table.vars[id]
	if !ok {
		panic("stm: ReadTVar of unknown TVar " + id.String())
	}
	return tx.log.Read(tv)
}

// WriteTVar writes the TVar named by id within the transaction.
func (tx *Tx) WriteTVar(id ids.ID, v Value) {
	tv, ok := tx.log.table.vars[id]
	if !ok {
		panic("stm: WriteTVar of unknown TVar " + id.String())
	}
	tx.log.Write(tv, v)
}

// Retry abandons the current attempt and blocks the calling thread
// until some TVar in its read set changes (§5 "Retry suspends the
// thread, waiting on any TVar in the read set changing, then restarts
// the transaction from scratch with a fresh log"). It never returns.
func (tx *Tx) Retry() {
	panic(retrySignal{})
}

// RunAtomic executes body against a fresh log over table, attempting
// commit on normal return. It reports whether body called Retry
// instead of returning, in which case result is zero and readSet names
// the TVars that must change before this transaction is worth
// reattempting (§5). The caller is responsible for re-invoking
// RunAtomic once one of those TVars' versions changes, and for driving
// the commit-then-reattempt-on-conflict loop when neither retried nor
// committed is true (Commit failed validation). writeSet names the TVars the transaction would have
// modified, for the dependency oracle's benefit, whether or not commit
// ultimately succeeded.
func RunAtomic(table *Table, body func(tx *Tx) Value) (result Value, committed bool, retried bool, readSet, writeSet []ids.ID) {
	log := NewLog(table)
	tx := &Tx{log: log}

	retried = func() (r bool) {
		defer func() {
			if rec := recover(); rec != nil {
				if _, ok := rec.(retrySignal); ok {
					r = true
					return
				}
				panic(rec)
			}
		}()
		result = body(tx)
		return false
	}()

	if retried {
		return nil, false, true, log.ReadSet(), log.WriteSet()
	}
	return result, log.Commit(), false, log.ReadSet(), log.WriteSet()
}
