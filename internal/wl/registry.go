package wl

// This file implements §4.1's PEB Registry & Ordered Sets operations as
// methods on Core. All Locked-suffixed methods require c.mu to already be
// held by the caller; none of them perform I/O.

// setFor returns the ordered set backing loc, or nil for locations that
// aren't one of the four ordered sets (protection queue, move slots, erase
// pending, bad -- those are tracked elsewhere or not at all).
func (c *Core) setFor(loc Location) *orderedSet {
	switch loc {
	case LocFree:
		return c.free
	case LocUsed:
		return c.used
	case LocScrub:
		return c.scrub
	case LocErroneous:
		return c.erroneous
	default:
		return nil
	}
}

// FreeCount returns |free|. Must be called with c.mu held, or treated as a
// racy snapshot otherwise (exported for tests and CLI status reporting,
// which take the lock themselves via Stats()).
func (c *Core) FreeCount() int { return c.free.Len() }

// ErroneousCount returns |erroneous|.
func (c *Core) ErroneousCount() int { return c.erroneous.Len() }

// FullCount returns |full|.
func (c *Core) FullCount() int {
	c.fullMu.Lock()
	defer c.fullMu.Unlock()

	return c.full.len()
}

// insertLocked places e into loc's container, updating e.Loc. loc must be
// one of the four ordered-set locations; protection-queue and move-slot
// transitions go through protQueue.Add / the dedicated move-state fields
// instead, since they carry extra bookkeeping insertLocked doesn't know
// about.
func (c *Core) insertLocked(e *PEBEntry, loc Location) {
	s := c.setFor(loc)
	if s == nil {
		panic("wl: insertLocked called with non-ordered-set location")
	}

	e.Loc = loc
	s.Insert(e)
}

// removeFromCurrentLocked removes e from whichever of the four ordered
// sets or the protection queue it currently occupies. Reports whether it
// was found. No-op (returns false) for move-slot/erase-pending/bad
// entries, which aren't membership-tracked beyond the lookup table.
func (c *Core) removeFromCurrentLocked(e *PEBEntry) bool {
	if s := c.setFor(e.Loc); s != nil {
		return s.Remove(e)
	}

	if e.Loc == LocProtQueue {
		_, ok := c.prot.Remove(e.Pnum)

		return ok
	}

	return false
}

// findEntryLocked returns the entry for pnum and whether it exists.
func (c *Core) findEntryLocked(pnum int32) (*PEBEntry, bool) {
	e, ok := c.lookup[pnum]

	return e, ok
}
