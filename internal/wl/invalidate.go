package wl

import (
	"context"
	"fmt"
)

// InvalidateLEB implements spec.md §4.11: a LEB is going away (volume
// truncated, volume removed, LEB unmapped by the user). It removes any
// full-LEB-set membership, tells EBA the mapping is gone, and reconciles
// the backing PEB:
//
//   - single-LEB PEB: the whole PEB is now dead data, scheduled for erase.
//   - consolidated PEB, this is the first slot to die since the PEB was
//     packed: every other still-live slot is promoted into the full-LEB
//     set in its own right, since an N-1-slot consolidated PEB holding
//     data nobody points a second copy at is no better than N-1 ordinary
//     full LEBs that happen to share a home.
//   - consolidated PEB, a later slot dies (some were already dead): just
//     mark it dead; its own full-LEB membership (from the promotion above)
//     is already dropped by the unconditional removal at the top.
//   - consolidated PEB, 0 live slots remain: the whole PEB is dropped from
//     the consolidated map and scheduled for erase.
func (c *Core) InvalidateLEB(ctx context.Context, volID, lnum int32) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	c.fullMu.Lock()
	c.full.remove(fullKey{VolID: volID, Lnum: lnum})
	c.fullMu.Unlock()

	pnum, mapped, err := c.eba.Lookup(ctx, volID, lnum)
	if err != nil {
		return fmt.Errorf("invalidate %d/%d: lookup: %w", volID, lnum, err)
	}

	if !mapped {
		return nil
	}

	if err := c.eba.InvalidateMapping(ctx, volID, lnum); err != nil {
		return fmt.Errorf("invalidate %d/%d: %w", volID, lnum, err)
	}

	c.consoLock.Lock()
	slots, isConsolidated := c.consolidated[pnum]

	if !isConsolidated {
		c.consoLock.Unlock()
		c.schedulePEBErase(pnum, false)

		return nil
	}

	liveBefore := 0
	targetIdx := -1

	for i, s := range slots {
		if !s.live() {
			continue
		}

		liveBefore++

		if s.VolID == volID && s.Lnum == lnum {
			targetIdx = i
		}
	}

	firstDeath := liveBefore == len(slots)

	if targetIdx >= 0 {
		slots[targetIdx] = cpebSlot{VolID: -1}
	}

	var survivors []cpebSlot

	liveCount := 0

	for _, s := range slots {
		if !s.live() {
			continue
		}

		liveCount++

		if firstDeath {
			survivors = append(survivors, s)
		}
	}

	c.consolidated[pnum] = slots

	if liveCount == 0 {
		delete(c.consolidated, pnum)
	}

	c.consoLock.Unlock()

	if liveCount == 0 {
		c.schedulePEBErase(pnum, false)

		return nil
	}

	if firstDeath {
		c.fullMu.Lock()
		for _, s := range survivors {
			c.full.add(fullKey{VolID: s.VolID, Lnum: s.Lnum})
		}
		c.fullMu.Unlock()

		if err := c.EnsureConsolidate(ctx); err != nil {
			c.log.Warn().Err(err).Msg("wl.consolidate_rearm_after_invalidate")
		}
	}

	return nil
}
