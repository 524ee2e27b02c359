package wl

import (
	"context"
	"errors"
	"fmt"
)

// schedulePEBErase tags pnum LocErasePending and hands a WorkKindErase item
// to the engine (spec.md §4.5). The entry must currently be reachable via
// c.lookup; callers that already hold c.mu must not call this (it takes
// the lock itself). A pnum that is still a live consolidated target is
// refused here with an ErrConsolidatedEraseRace log entry, and doErase
// checks the same condition again at execute time.
func (c *Core) schedulePEBErase(pnum int32, torture bool) {
	c.consoLock.Lock()
	slots, consolidated := c.consolidated[pnum]
	c.consoLock.Unlock()

	if consolidated && !allDead(slots) {
		c.log.Error().Err(ErrConsolidatedEraseRace).Int32("pnum", pnum).Msg("wl.schedule_erase_refused")

		return
	}

	c.mu.Lock()

	if e, ok := c.findEntryLocked(pnum); ok {
		c.removeFromCurrentLocked(e)
		e.Loc = LocErasePending

		if torture {
			e.Torture = true
		}
	}

	c.mu.Unlock()

	w := newWork(WorkKindErase, pnum, func(ctx context.Context, shutdown bool) error {
		return c.doErase(ctx, pnum, shutdown)
	})

	if err := c.wq.schedule(w); err != nil {
		c.log.Error().Err(err).Int32("pnum", pnum).Msg("wl.schedule_erase_failed")
	}
}

// doErase is the WorkFunc for WorkKindErase items (spec.md §4.5, §4.9
// torture cycle, §4.7 bad-PEB retirement). It asserts against the
// Consolidation->Erase race (spec.md §9): a PEB that is still a live
// consolidated target must never reach the eraser.
func (c *Core) doErase(ctx context.Context, pnum int32, shutdown bool) error {
	if shutdown {
		return ErrShutdown
	}

	c.consoLock.Lock()
	slots, stillConsolidated := c.consolidated[pnum]
	c.consoLock.Unlock()

	if stillConsolidated && !allDead(slots) {
		return fmt.Errorf("erase %d: %w", pnum, ErrConsolidatedEraseRace)
	}

	c.mu.Lock()
	entry, found := c.findEntryLocked(pnum)
	if !found {
		c.mu.Unlock()

		return fmt.Errorf("erase %d: %w", pnum, ErrNotFound)
	}

	torture := entry.Torture
	c.mu.Unlock()

	cycles, err := c.io.SyncErase(ctx, pnum, torture)
	if err != nil {
		if errors.Is(err, ErrMediaError) {
			return c.retireBadPEBFromErase(ctx, pnum)
		}

		return fmt.Errorf("erase %d: %w", pnum, err)
	}

	newEC := entry.EC + uint64(cycles)
	if newEC > c.cfg.MaxEC {
		c.enterReadOnly(ErrMaxECOverflow)

		return ErrMaxECOverflow
	}

	if err := c.io.WriteECHeader(ctx, pnum, newEC); err != nil {
		return fmt.Errorf("erase %d: write ec header: %w", pnum, err)
	}

	c.mu.Lock()
	entry.EC = newEC
	entry.Torture = false

	if newEC > c.maxEC {
		c.maxEC = newEC
	}

	c.insertLocked(entry, LocFree)
	c.prot.Advance(func(promoted *PEBEntry) {
		c.insertLocked(promoted, LocUsed)
	})
	c.mu.Unlock()

	if err := c.EnsureWL(ctx); err != nil && !errors.Is(err, ErrAlreadyScheduled) {
		c.log.Warn().Err(err).Msg("wl.rearm_after_erase")
	}

	if err := c.EnsureConsolidate(ctx); err != nil {
		c.log.Warn().Err(err).Msg("wl.consolidate_rearm_after_erase")
	}

	return nil
}

// retireBadPEBFromErase handles a media-error erase failure: the PEB is
// marked bad at the transport level and permanently removed from the
// registry, consuming one slot from the bad-PEB reserve pool, or from the
// available PEB count once that pool is empty (spec.md §4.7).
func (c *Core) retireBadPEBFromErase(ctx context.Context, pnum int32) error {
	if err := c.io.MarkBad(ctx, pnum); err != nil {
		c.log.Error().Err(err).Int32("pnum", pnum).Msg("wl.mark_bad_failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.lookup, pnum)
	c.badPEBCount++
	c.goodPEBCount--

	switch {
	case c.bebRsvdPEBs > 0:
		c.bebRsvdPEBs--
	default:
		c.availPEBs--
	}

	c.log.Warn().Int32("pnum", pnum).Int("bad_count", c.badPEBCount).Msg("wl.peb_retired")

	return nil
}
