package memmodel

import "github.com/kolkov/sct/ids"

// psoModel implements partial store order: one write buffer per
// (thread, cell) pair, so a writer's buffers for two different cells
// drain independently of one another. This is strictly weaker than TSO:
// every TSO-observable outcome remains observable, and reordering across
// distinct cells becomes additionally visible (§8.4).
type psoModel struct{}

func (psoModel) Type() Type { return PSO }

func (psoModel) AfterWrite(writer ids.ID, c *Cell, value Value) {
	c.buffer = append(c.buffer, pendingWrite{writer: writer, value: value})
}

func (psoModel) ReadsFor(reader ids.ID, c *Cell) Value {
	if v, ok := c.mostRecentFrom(reader); ok {
		return v
	}
	return c.global
}

func (psoModel) CommitOptions(cells []*Cell) []CommitToken {
	var toks []CommitToken
	for _, c := range cells {
		seen := make(map[ids.ID]bool)
		for _, w := range c.buffer {
			if !seen[w.writer] {
				seen[w.writer] = true
				// Under PSO the commit-thread id is derived from both
				// the writer and the cell (§4.B, §8.5): each cell's
				// buffer for a given writer drains independently.
				toks = append(toks, CommitToken{Writer: w.writer, Cell: c.ID})
			}
		}
	}
	return toks
}

func (psoModel) Commit(tok CommitToken, cells map[ids.ID]*Cell) bool {
	c, ok := cells[tok.Cell]
	if !ok {
		return false
	}
	return c.commitOldestFrom(tok.Writer)
}

func (psoModel) Barrier(cells []*Cell) {
	for _, c := range cells {
		c.commitAll()
	}
}
