package memmodel

import "github.com/kolkov/sct/ids"

// tsoModel implements x86-style total store order: a single FIFO write
// buffer per thread, shared across every cell that thread writes to. A
// thread always sees its own most recent write to a cell immediately;
// other threads only see it once the commit-thread for that writer runs.
//
// seq assigns a global order to writes so that, although each cell keeps
// its own buffer slice, Commit can still find a writer's globally oldest
// pending write across every cell it has touched.
type tsoModel struct {
	seq *uint64
}

func (m *tsoModel) Type() Type { return TSO }

func (m *tsoModel) AfterWrite(writer ids.ID, c *Cell, value Value) {
	*m.seq++
	c.buffer = append(c.buffer, pendingWrite{writer: writer, value: value, seq: *m.seq})
}

func (m *tsoModel) ReadsFor(reader ids.ID, c *Cell) Value {
	if v, ok := c.mostRecentFrom(reader); ok {
		return v
	}
	return c.global
}

func (m *tsoModel) CommitOptions(cells []*Cell) []CommitToken {
	seen := make(map[ids.ID]bool)
	var toks []CommitToken
	for _, c := range cells {
		for _, w := range c.buffer {
			if !seen[w.writer] {
				seen[w.writer] = true
				// Under TSO the commit-thread id is derived from the
				// writer alone: the same synthetic thread drains every
				// cell that writer has pending writes in (§4.B, §8.5).
				toks = append(toks, CommitToken{Writer: w.writer})
			}
		}
	}
	return toks
}

func (m *tsoModel) Commit(tok CommitToken, cells map[ids.ID]*Cell) bool {
	var oldest *Cell
	var oldestSeq uint64
	for _, c := range cells {
		if seq, ok := c.oldestSeqFrom(tok.Writer); ok {
			if oldest == nil || seq < oldestSeq {
				oldest, oldestSeq = c, seq
			}
		}
	}
	if oldest == nil {
		return false
	}
	return oldest.commitOldestFrom(tok.Writer)
}

func (m *tsoModel) Barrier(cells []*Cell) {
	for _, c := range cells {
		c.commitAll()
	}
}
