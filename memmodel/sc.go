package memmodel

import "github.com/kolkov/sct/ids"

// scModel implements sequential consistency: writes commit the instant
// they are issued, so no thread ever observes a value through a buffer.
type scModel struct{}

func (scModel) Type() Type { return SC }

func (scModel) AfterWrite(_ ids.ID, c *Cell, value Value) {
	c.global = value
	c.version++
}

func (scModel) ReadsFor(_ ids.ID, c *Cell) Value {
	return c.global
}

func (scModel) CommitOptions(_ []*Cell) []CommitToken {
	// Nothing is ever buffered under SC, so there is nothing to commit
	// as a separate scheduling step.
	return nil
}

func (scModel) Commit(CommitToken, map[ids.ID]*Cell) bool {
	return false
}

func (scModel) Barrier(_ []*Cell) {
	// Writes already commit inline; a barrier is a no-op.
}
