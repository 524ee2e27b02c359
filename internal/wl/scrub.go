package wl

import (
	"context"
	"fmt"
)

// ScrubPEB moves pnum into the scrub set (spec.md §4.8), marking it for
// proactive data relocation on the next wear-leveling cycle. Idempotent
// when pnum is already scrubbing. torture additionally requests a
// write/erase torture cycle once the PEB is eventually erased.
func (c *Core) ScrubPEB(ctx context.Context, pnum int32, torture bool) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	c.mu.Lock()

	e, ok := c.findEntryLocked(pnum)
	if !ok {
		c.mu.Unlock()

		return fmt.Errorf("scrub %d: %w", pnum, ErrNotFound)
	}

	switch e.Loc {
	case LocScrub:
		c.mu.Unlock()

		return nil
	case LocUsed, LocErroneous:
		c.removeFromCurrentLocked(e)

		if torture {
			e.Torture = true
		}

		c.insertLocked(e, LocScrub)
	default:
		c.mu.Unlock()

		return fmt.Errorf("scrub %d: peb not eligible from state %s: %w", pnum, e.Loc, ErrBusy)
	}

	c.mu.Unlock()

	if err := c.EnsureWL(ctx); err != nil && err != ErrAlreadyScheduled {
		return err
	}

	return nil
}
