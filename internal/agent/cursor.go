package agent

import "encoding/json"

// candidateCursor counts how many remote candidates have been handed out so
// each one is applied exactly once, in append order.
type candidateCursor struct {
	applied int
}

// next returns the suffix of list not seen yet and advances past it.
func (c *candidateCursor) next(list []json.RawMessage) []json.RawMessage {
	if len(list) <= c.applied {
		return nil
	}
	fresh := list[c.applied:]
	c.applied = len(list)
	return fresh
}

func (c *candidateCursor) reset() {
	c.applied = 0
}
