package wl

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// NewCore builds an idle engine around its flash-transport and
// eraseblock-association collaborators. Call Attach before anything else;
// an unattached Core has an empty registry and GetPEB/PutPEB will simply
// report ErrNoSpace / ErrNotFound.
func NewCore(cfg Config, io IO, eba EBA, vols Volumes, seq SeqNumGen, fastmap Fastmap, log zerolog.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Core{
		lookup:       make(map[int32]*PEBEntry),
		free:         newOrderedSet(),
		used:         newOrderedSet(),
		scrub:        newOrderedSet(),
		erroneous:    newOrderedSet(),
		prot:         newProtQueue(cfg.ProtQueueLen),
		full:         newFullLEBSet(),
		consolidated: make(map[int32][]cpebSlot),
		cfg:          cfg,
		io:           io,
		eba:          eba,
		vols:         vols,
		seq:          seq,
		fastmap:      fastmap,
		log:          log,
	}

	c.wq = newWorkEngine(cfg.WorkMaxFailures, c.enterReadOnly, log)

	return c, nil
}

// GetPEB hands out a free PEB, rotated off the lowest-erase-count entry so
// wear accrues evenly. External callers (internal=false) are refused once
// the free pool would dip into ReservedPEBs headroom; internal callers
// (consolidation) may use it down to empty. Wear-leveling picks its move
// target from the free set directly and does not go through GetPEB.
func (c *Core) GetPEB(ctx context.Context, internal bool) (int32, error) {
	if err := c.checkWritable(); err != nil {
		return -1, err
	}

	c.mu.Lock()

	if !internal && c.free.Len() <= c.cfg.ReservedPEBs {
		c.mu.Unlock()

		return -1, fmt.Errorf("get_peb: %w", ErrNoSpace)
	}

	e := c.free.First()
	if e == nil {
		c.mu.Unlock()

		return -1, fmt.Errorf("get_peb: %w", ErrNoSpace)
	}

	c.free.Remove(e)
	e.Loc = LocUsed
	c.used.Insert(e)
	pnum := e.Pnum
	c.mu.Unlock()

	if err := c.EnsureWL(ctx); err != nil && !errors.Is(err, ErrAlreadyScheduled) {
		c.log.Warn().Err(err).Msg("wl.rearm_after_get_peb")
	}

	return pnum, nil
}

// PutPEB returns pnum to circulation: its data is no longer needed, so it
// is scheduled for erase. If pnum is the current wear-leveling source
// (moveFrom), PutPEB blocks on moveMutex until that move's I/O finishes
// before proceeding, so it never races the in-flight copy.
func (c *Core) PutPEB(ctx context.Context, pnum int32) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	c.mu.Lock()

	if c.moveFrom != nil && c.moveFrom.Pnum == pnum {
		c.mu.Unlock()
		c.moveMutex.Lock()
		c.moveMutex.Unlock() //nolint:staticcheck // synchronization barrier only, not data protection.
		c.mu.Lock()
	}

	entry, ok := c.findEntryLocked(pnum)
	if !ok {
		c.mu.Unlock()

		return fmt.Errorf("put_peb %d: %w", pnum, ErrNotFound)
	}

	if entry.Loc == LocProtQueue {
		c.mu.Unlock()

		return fmt.Errorf("put_peb %d: %w", pnum, ErrPEBInProtection)
	}

	c.mu.Unlock()

	c.schedulePEBErase(pnum, false)

	return nil
}

// BitflipCheck is the collaborator hook fired whenever a read corrects one
// or more bit-flips (spec.md §4.8, §4.9). A PEB inside Fastmap's own index
// is handled by asking Fastmap to rewrite itself rather than scrubbing it
// through the ordinary LEB-data path.
func (c *Core) BitflipCheck(ctx context.Context, pnum int32) error {
	if c.fastmap != nil && c.fastmap.Owns(pnum) {
		return c.fastmap.RequestRewrite(ctx, pnum)
	}

	return c.ScrubPEB(ctx, pnum, false)
}

// enterReadOnly latches the engine read-only. Idempotent: only the first
// caller's error sticks and is logged. It does not stop the work engine;
// the engine closes itself after WorkMaxFailures consecutive failures.
func (c *Core) enterReadOnly(err error) {
	if !c.roMode.CompareAndSwap(false, true) {
		return
	}

	c.roErr.Store(&err)
	c.log.Error().Err(err).Msg("wl.read_only")
}

// IsReadOnly reports whether the engine has latched read-only.
func (c *Core) IsReadOnly() bool { return c.roMode.Load() }

// checkWritable is the guard every side-effecting entry point calls first.
func (c *Core) checkWritable() error {
	if !c.roMode.Load() {
		return nil
	}

	if p := c.roErr.Load(); p != nil && *p != nil {
		return fmt.Errorf("%w: %w", ErrReadOnly, *p)
	}

	return ErrReadOnly
}

// Stats is a point-in-time snapshot for CLI/console reporting.
type Stats struct {
	Free, Used, Scrub, Erroneous, Full int
	BadPEBs, GoodPEBs                  int
	MaxEC                              uint64
	ReadOnly                           bool
}

// PEBInfo is a point-in-time snapshot of one PEB's registry entry, for
// CLI/console inspection (ubishell's "peb <n>").
type PEBInfo struct {
	Pnum    int32
	EC      uint64
	Loc     Location
	Torture bool
	NumLEBs int
}

// PEBInfo looks up pnum's current registry entry. The second return is
// false if pnum was never attached or was retired as bad.
func (c *Core) PEBInfo(pnum int32) (PEBInfo, bool) {
	c.mu.Lock()
	e, ok := c.findEntryLocked(pnum)

	var info PEBInfo
	if ok {
		info = PEBInfo{Pnum: e.Pnum, EC: e.EC, Loc: e.Loc, Torture: e.Torture, NumLEBs: 1}
	}
	c.mu.Unlock()

	if !ok {
		return PEBInfo{}, false
	}

	c.consoLock.Lock()
	if slots, ok := c.consolidated[pnum]; ok {
		info.NumLEBs = len(slots)
	}
	c.consoLock.Unlock()

	return info, true
}

// Stats takes c.mu and returns a consistent snapshot.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Free:      c.free.Len(),
		Used:      c.used.Len(),
		Scrub:     c.scrub.Len(),
		Erroneous: c.erroneous.Len(),
		BadPEBs:   c.badPEBCount,
		GoodPEBs:  c.goodPEBCount,
		MaxEC:     c.maxEC,
		ReadOnly:  c.roMode.Load(),
	}
	c.mu.Unlock()

	s.Full = c.FullCount()

	return s
}

// Flush blocks until every work item scheduled so far has completed,
// including work those items schedule while they run (a move's source
// erase, a consolidation's orphan erases). One-shot CLI callers use this
// before inspecting Stats or persisting a snapshot, since
// GetPEB/PutPEB/ScrubPEB/TryConsolidate only enqueue work and return.
func (c *Core) Flush() {
	for {
		c.wq.mu.Lock()
		before := c.wq.lastAdded
		c.wq.mu.Unlock()

		c.wq.flush()

		c.wq.mu.Lock()
		after := c.wq.lastAdded
		c.wq.mu.Unlock()

		if after == before {
			return
		}
	}
}

// Close drains the work engine and releases the Fastmap collaborator, if
// any. It does not itself latch read-only; callers that want the engine to
// refuse further writes after Close should check IsReadOnly or discard the
// Core entirely.
func (c *Core) Close(ctx context.Context) error {
	c.wq.close(ErrShutdown)
	<-c.wq.Done()

	if c.fastmap != nil {
		return c.fastmap.Close(ctx)
	}

	return nil
}
