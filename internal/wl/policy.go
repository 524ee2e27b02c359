package wl

import (
	"context"
	"errors"
	"fmt"
)

// errNoWLWork is an internal sentinel meaning "nothing to do this cycle",
// never returned across a public API boundary.
var errNoWLWork = errors.New("ubi: no wl work pending")

// EnsureWL schedules a wear-leveling work item if one isn't already
// pending and the trigger condition in spec.md §4.4 holds: a non-empty
// scrub set, or the free/used erase-counter spread exceeding Threshold.
// Entries in the erroneous set do not trigger a cycle. Returns ErrAlreadyScheduled (non-fatal, informational) if a
// cycle is already in flight.
func (c *Core) EnsureWL(ctx context.Context) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	c.mu.Lock()

	if c.wlScheduled {
		c.mu.Unlock()

		return ErrAlreadyScheduled
	}

	if !c.wlNeededLocked() {
		c.mu.Unlock()

		return nil
	}

	c.wlScheduled = true
	c.mu.Unlock()

	w := newWork(WorkKindWL, -1, c.doWL)
	if err := c.wq.schedule(w); err != nil {
		c.mu.Lock()
		c.wlScheduled = false
		c.mu.Unlock()

		return err
	}

	return nil
}

// wlNeededLocked evaluates the trigger predicate. Requires c.mu held.
func (c *Core) wlNeededLocked() bool {
	if c.scrub.Len() > 0 {
		return true
	}

	maxFree, hasFree := c.free.MaxEC()
	minUsed, hasUsed := c.used.MinEC()

	if !hasFree || !hasUsed {
		return false
	}

	return maxFree-minUsed > c.cfg.Threshold
}

func (c *Core) isAnchorPnum(pnum int32) bool {
	return c.cfg.hasAnchor() && pnum >= c.cfg.AnchorLo && pnum <= c.cfg.AnchorHi
}

// selectMoveLocked picks the (source, target) pair for one wear-leveling
// cycle, preferring scrub entries, then the ordinary erase-counter-spread
// case (spec.md §4.4); erroneous entries are never picked as a source.
// Requires c.mu held;
// both entries are removed from their ordered sets and tagged
// LocMoveFrom/LocMoveTo before return.
func (c *Core) selectMoveLocked() (*PEBEntry, *PEBEntry, error) {
	var src *PEBEntry

	switch {
	case c.scrub.Len() > 0:
		src = c.scrub.First()
	default:
		maxFree, hasFree := c.free.MaxEC()
		minUsed, hasUsed := c.used.MinEC()

		if !hasFree || !hasUsed || maxFree-minUsed <= c.cfg.Threshold {
			return nil, nil, errNoWLWork
		}

		src = c.used.First()
	}

	if src == nil {
		return nil, nil, errNoWLWork
	}

	minFree, ok := c.free.MinEC()
	if !ok {
		return nil, nil, fmt.Errorf("select move target: %w", ErrNoSpace)
	}

	pref := func(e *PEBEntry) bool { return !c.isAnchorPnum(e.Pnum) }
	if c.isAnchorPnum(src.Pnum) {
		pref = func(e *PEBEntry) bool { return c.isAnchorPnum(e.Pnum) }
	}

	dst := c.free.FindClosest(minFree+c.cfg.FreeMaxDiff()+1, pref)
	if dst == nil {
		return nil, nil, fmt.Errorf("select move target: %w", ErrNoSpace)
	}

	c.removeFromCurrentLocked(src)
	c.free.Remove(dst)

	src.Loc = LocMoveFrom
	dst.Loc = LocMoveTo
	c.moveFrom = src
	c.moveTo = dst
	c.moveToPut = false

	return src, dst, nil
}

// doWL is the WorkFunc run by the single-consumer engine for
// WorkKindWL items (spec.md §4.4).
func (c *Core) doWL(ctx context.Context, shutdown bool) error {
	c.mu.Lock()
	c.wlScheduled = false

	if shutdown {
		c.mu.Unlock()

		return ErrShutdown
	}

	src, dst, err := c.selectMoveLocked()
	if err != nil {
		c.mu.Unlock()

		if errors.Is(err, errNoWLWork) {
			return nil
		}

		return err
	}
	c.mu.Unlock()

	moveErr := c.executeMove(ctx, src, dst)

	// A move can shed more wl work (the pair it picked may still leave the
	// spread above threshold, or a retry target is needed); re-arm.
	if rearmErr := c.EnsureWL(ctx); rearmErr != nil && !errors.Is(rearmErr, ErrAlreadyScheduled) {
		c.log.Warn().Err(rearmErr).Msg("wl.rearm")
	}

	return moveErr
}

// executeMove performs one source->target data move under moveMutex and
// reconciles registry state from the EBAResult outcome table (spec.md
// §4.4, §9 open question "move outcome handling").
func (c *Core) executeMove(ctx context.Context, src, dst *PEBEntry) error {
	c.moveMutex.Lock()
	defer c.moveMutex.Unlock()

	c.consoLock.Lock()
	slots, wasConsolidated := c.consolidated[src.Pnum]
	c.consoLock.Unlock()

	var (
		result EBAResult
		err    error
	)

	if wasConsolidated {
		vids := make([]VIDHeader, 0, len(slots))

		for _, s := range slots {
			if !s.live() {
				continue
			}

			vids = append(vids, VIDHeader{Sqnum: c.seq.Next(), VolID: s.VolID, Lnum: s.Lnum, CopyFlag: 1})
		}

		result, err = c.eba.CopyLEBs(ctx, src.Pnum, dst.Pnum, vids)
	} else {
		srcVids, _, rerr := c.io.ReadVIDHeaders(ctx, src.Pnum)
		if rerr != nil && !errors.Is(rerr, ErrBitflipsDetected) {
			c.abortMove(src, dst)

			return fmt.Errorf("wl move %d->%d: read source vid header: %w", src.Pnum, dst.Pnum, rerr)
		}

		if len(srcVids) != 1 {
			c.abortMove(src, dst)

			return fmt.Errorf("wl move %d->%d: expected 1 vid header on single-leb peb, found %d", src.Pnum, dst.Pnum, len(srcVids))
		}

		vid := srcVids[0]
		vid.Sqnum = c.seq.Next()
		vid.CopyFlag = 1

		result, err = c.eba.CopyLEB(ctx, src.Pnum, dst.Pnum, vid)
	}

	if err != nil {
		c.abortMove(src, dst)

		return fmt.Errorf("wl move %d->%d: %w", src.Pnum, dst.Pnum, err)
	}

	switch result {
	case EBAOK:
		c.commitMove(src, dst, wasConsolidated)

		return nil

	case EBACancelRace, EBARetry:
		c.abortMove(src, dst)

		return nil

	case EBATargetBitflips, EBATargetWrErr, EBATargetRdErr:
		c.retireBadTarget(ctx, dst, result)
		c.restoreSource(src)

		return nil

	case EBASourceRdErr:
		return c.demoteErroneousSource(src, dst)

	default:
		c.abortMove(src, dst)

		return fmt.Errorf("wl move %d->%d: %w", src.Pnum, dst.Pnum, fmt.Errorf("unrecognized eba result %d", result))
	}
}

// commitMove installs the post-move registry state: dst takes over src's
// data and enters the protection queue (spec.md §4.6), src is scheduled
// for erase.
func (c *Core) commitMove(src, dst *PEBEntry, wasConsolidated bool) {
	c.mu.Lock()

	if wasConsolidated {
		c.consoLock.Lock()
		c.consolidated[dst.Pnum] = c.consolidated[src.Pnum]
		delete(c.consolidated, src.Pnum)
		c.consoLock.Unlock()
	}

	c.moveFrom = nil
	c.moveTo = nil
	c.prot.Add(dst)
	c.mu.Unlock()

	c.schedulePEBErase(src.Pnum, src.Torture)
}

// abortMove returns dst to free and src to used (see restoreSourceLocked),
// with no I/O and no other state change (the "never neither" guarantee).
func (c *Core) abortMove(src, dst *PEBEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.moveFrom = nil
	c.moveTo = nil

	c.restoreSourceLocked(src)
	c.insertLocked(dst, LocFree)
}

func (c *Core) restoreSource(src *PEBEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.moveFrom = nil
	c.restoreSourceLocked(src)
}

// restoreSourceLocked reinstates src into the used set. selectMoveLocked
// has already overwritten src.Loc with LocMoveFrom, so a source taken from
// the scrub set goes back to used, not to scrub.
func (c *Core) restoreSourceLocked(src *PEBEntry) {
	switch src.Loc {
	case LocMoveFrom:
		c.insertLocked(src, LocUsed)
	default:
		c.insertLocked(src, src.Loc)
	}
}

// retireBadTarget marks dst permanently bad at the flash-transport level
// and updates the bad/good PEB accounting (spec.md §4.7).
func (c *Core) retireBadTarget(ctx context.Context, dst *PEBEntry, result EBAResult) {
	c.log.Warn().Int32("pnum", dst.Pnum).Str("result", result.String()).Msg("wl.target_retired")

	if err := c.io.MarkBad(ctx, dst.Pnum); err != nil {
		c.log.Error().Err(err).Int32("pnum", dst.Pnum).Msg("wl.mark_bad_failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dst.Loc = LocBad
	delete(c.lookup, dst.Pnum)
	c.badPEBCount++
	c.goodPEBCount--
}

// demoteErroneousSource moves src into the erroneous set after a source
// read error, escalating to read-only mode if MaxErroneous is exceeded
// (spec.md §4.4, §7).
func (c *Core) demoteErroneousSource(src, dst *PEBEntry) error {
	c.mu.Lock()

	c.moveFrom = nil
	c.moveTo = nil
	c.insertLocked(dst, LocFree)

	src.Loc = LocErroneous
	c.erroneous.Insert(src)

	count := c.erroneous.Len()
	c.mu.Unlock()

	if count > c.cfg.MaxErroneous {
		c.enterReadOnly(ErrTooManyErroneous)

		return ErrTooManyErroneous
	}

	return nil
}
