package pack

// Cursor is a mutating iterator over a Pack's wrapper list supporting
// peek/advance/remove-current, replacing the kernel source's BEGIN / DATA /
// DELETED / END cursor state machine with the standard Go iterator shape
// (DESIGN NOTES §9). It is used by the completion/GC stage to walk a pack's
// wrappers, removing each as it is confirmed done.
type Cursor struct {
	wrappers []*BioWrapper
	pos      int
}

// NewCursor returns a Cursor positioned before the first wrapper. It walks
// a copy of p.Wrappers rather than p.Wrappers itself, so a caller that
// writes the cursor's Remaining() list back into p.Wrappers can do so
// without racing a concurrent range over the original slice.
func NewCursor(p *Pack) *Cursor {
	wrappers := make([]*BioWrapper, len(p.Wrappers))
	copy(wrappers, p.Wrappers)
	return &Cursor{wrappers: wrappers}
}

// Done reports whether the cursor has passed the last wrapper.
func (c *Cursor) Done() bool {
	return c.pos >= len(c.wrappers)
}

// Peek returns the current wrapper without advancing, or nil if Done.
func (c *Cursor) Peek() *BioWrapper {
	if c.Done() {
		return nil
	}
	return c.wrappers[c.pos]
}

// Advance moves the cursor to the next wrapper.
func (c *Cursor) Advance() {
	if !c.Done() {
		c.pos++
	}
}

// RemoveCurrent removes the wrapper the cursor currently points to and
// advances past it. It is a no-op if Done.
func (c *Cursor) RemoveCurrent() {
	if c.Done() {
		return
	}
	c.wrappers = append(c.wrappers[:c.pos], c.wrappers[c.pos+1:]...)
	// pos now indexes the element that followed the removed one.
}

// Remaining returns the wrappers not yet removed.
func (c *Cursor) Remaining() []*BioWrapper {
	return c.wrappers
}
