package facematch

// Cursor tracks a position within a match set for result paging. A new
// cursor starts at the best match. Moves past either boundary are no-ops
// that report false; they never panic.
type Cursor struct {
	set   *MatchSet
	index int
}

// NewCursor creates a cursor over a match set, positioned at index 0.
func NewCursor(set *MatchSet) *Cursor {
	return &Cursor{set: set}
}

// Len returns the number of matches under the cursor.
func (c *Cursor) Len() int {
	if c.set == nil {
		return 0
	}
	return len(c.set.Matches)
}

// Index returns the current position.
func (c *Cursor) Index() int {
	return c.index
}

// Current returns the match at the cursor, or false for an empty set.
func (c *Cursor) Current() (Match, bool) {
	if c.index >= c.Len() {
		return Match{}, false
	}
	return c.set.Matches[c.index], true
}

// HasNext reports whether a later match exists.
func (c *Cursor) HasNext() bool {
	return c.index < c.Len()-1
}

// HasPrevious reports whether an earlier match exists.
func (c *Cursor) HasPrevious() bool {
	return c.index > 0
}

// Next advances to the following match. Returns false at the last match.
func (c *Cursor) Next() bool {
	if !c.HasNext() {
		return false
	}
	c.index++
	return true
}

// Previous steps back to the preceding match. Returns false at the first
// match.
func (c *Cursor) Previous() bool {
	if !c.HasPrevious() {
		return false
	}
	c.index--
	return true
}
