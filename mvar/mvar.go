// Package mvar implements the blocking single-slot channel primitive
// (§3 "MVar"): an optional value plus FIFO queues of threads waiting to
// put and to take.
//
// The shape mirrors the teacher's syncshadow package: a lazily-populated
// table of shadow state keyed by id (syncshadow.SyncShadow), except that
// here the table is a plain map rather than sync.Map, because the
// interpreter that owns it is single-threaded by construction (§5).
package mvar

import "github.com/kolkov/sct/ids"

// Value is the type of an MVar's contents.
type Value = any

// MVar is a single-slot blocking channel. A put on a full MVar blocks;
// a take on an empty MVar blocks. TryPut/TryTake never block.
type MVar struct {
	ID       ids.ID
	full     bool
	value    Value
	readers  []ids.ID // threads parked on TakeMVar/ReadMVar, FIFO
	writers  []ids.ID // threads parked on PutMVar, FIFO
}

// New creates an MVar holding initial, full iff full is true;
// pass New(id, nil, false) for newEmptyMVar.
func New(id ids.ID, initial Value, full bool) *MVar {
	return &MVar{ID: id, value: initial, full: full}
}

// IsFull reports whether the MVar currently holds a value.
func (m *MVar) IsFull() bool { return m.full }

// Waiters reports every thread id queued on this MVar, readers first,
// then writers. A parked thread's entry is not removed when a delivered
// exception wakes it, so a returned thread may no longer be blocked here.
func (m *MVar) Waiters() []ids.ID {
	out := make([]ids.ID, 0, len(m.readers)+len(m.writers))
	out = append(out, m.readers...)
	out = append(out, m.writers...)
	return out
}

// EnqueueWriter parks tid on PutMVar; it must be woken explicitly once
// the MVar next becomes empty.
func (m *MVar) EnqueueWriter(tid ids.ID) { m.writers = append(m.writers, tid) }

// EnqueueReader parks tid on TakeMVar/ReadMVar; it must be woken
// explicitly once the MVar next becomes full.
func (m *MVar) EnqueueReader(tid ids.ID) { m.readers = append(m.readers, tid) }

// PopWriter dequeues the longest-waiting parked writer, if any.
func (m *MVar) PopWriter() (ids.ID, bool) {
	if len(m.writers) == 0 {
		return ids.ID{}, false
	}
	tid := m.writers[0]
	m.writers = m.writers[1:]
	return tid, true
}

// PopReader dequeues the longest-waiting parked reader, if any.
func (m *MVar) PopReader() (ids.ID, bool) {
	if len(m.readers) == 0 {
		return ids.ID{}, false
	}
	tid := m.readers[0]
	m.readers = m.readers[1:]
	return tid, true
}

// Put fills an empty MVar. Callers must check IsFull first; Put panics
// on a full MVar to surface interpreter bugs loudly (an InternalError in
// the taxonomy above it, never a user-reachable state).
func (m *MVar) Put(v Value) {
	if m.full {
		panic("mvar: Put on full MVar")
	}
	m.value, m.full = v, true
}

// Take empties a full MVar and returns its value. Callers must check
// IsFull first.
func (m *MVar) Take() Value {
	if !m.full {
		panic("mvar: Take on empty MVar")
	}
	v := m.value
	m.value, m.full = nil, false
	return v
}

// Read returns the current value without draining it. Callers must
// check IsFull first.
func (m *MVar) Read() Value {
	if !m.full {
		panic("mvar: Read on empty MVar")
	}
	return m.value
}

// Table is the lazily-populated shadow state for every MVar allocated
// during a run, keyed by id (cf. syncshadow.SyncShadow.GetOrCreate).
type Table struct {
	vars map[ids.ID]*MVar
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{vars: make(map[ids.ID]*MVar)}
}

// Register inserts a freshly allocated MVar.
func (t *Table) Register(m *MVar) { t.vars[m.ID] = m }

// Get returns the MVar for id, if one has been registered.
func (t *Table) Get(id ids.ID) (*MVar, bool) {
	m, ok := t.vars[id]
	return m, ok
}

// Clone returns a deep copy of the table, used when snapshotting (§4.I).
func (t *Table) Clone() *Table {
	out := NewTable()
	for id, m := range t.vars {
		clone := &MVar{
			ID:      m.ID,
			full:    m.full,
			value:   m.value,
			readers: append([]ids.ID(nil), m.readers...),
			writers: append([]ids.ID(nil), m.writers...),
		}
		out.vars[id] = clone
	}
	return out
}
