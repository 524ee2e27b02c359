package wl

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
)

// fullLEBSet is the FIFO of fully-written LEB candidates from spec.md §3
// ("Full-LEB Set"). Duplicate (vol_id, lnum) entries never appear.
type fullLEBSet struct {
	order   []fullKey
	present map[fullKey]bool
}

func newFullLEBSet() *fullLEBSet {
	return &fullLEBSet{present: make(map[fullKey]bool)}
}

func (f *fullLEBSet) len() int { return len(f.order) }

// add appends k to the tail. Reports whether it was newly added (false if
// already present, matching the "duplicate never appears" invariant).
func (f *fullLEBSet) add(k fullKey) bool {
	if f.present[k] {
		return false
	}

	f.order = append(f.order, k)
	f.present[k] = true

	return true
}

func (f *fullLEBSet) remove(k fullKey) bool {
	if !f.present[k] {
		return false
	}

	for i, v := range f.order {
		if v == k {
			f.order = append(f.order[:i], f.order[i+1:]...)

			break
		}
	}

	delete(f.present, k)

	return true
}

func (f *fullLEBSet) contains(k fullKey) bool { return f.present[k] }

// popFront removes and returns the head entry.
func (f *fullLEBSet) popFront() (fullKey, bool) {
	if len(f.order) == 0 {
		return fullKey{}, false
	}

	k := f.order[0]
	f.order = f.order[1:]
	delete(f.present, k)

	return k, true
}

// AddFullLEB registers (volID, lnum) as a consolidation candidate. Called
// by EBA/volume-layer collaborators when a dynamic LEB becomes fully
// written. InvalidateLEB adds the survivors of a consolidated PEB to the
// same set directly, on that PEB's first slot death.
func (c *Core) AddFullLEB(ctx context.Context, volID, lnum int32) {
	c.fullMu.Lock()
	c.full.add(fullKey{VolID: volID, Lnum: lnum})
	c.fullMu.Unlock()

	if err := c.EnsureConsolidate(ctx); err != nil {
		c.log.Warn().Err(err).Msg("wl.consolidate_rearm_after_full")
	}
}

// consolCandidate is one locked, volume-resolved full LEB gathered for a
// consolidation cycle.
type consolCandidate struct {
	volID, lnum int32
	srcPnum     int32
	vol         Volume
}

// consolidationNeededLocked implements spec.md §4.10's trigger predicate.
// Requires c.mu held.
func (c *Core) consolidationNeededLocked() bool {
	n := c.cfg.LebsPerCPEB
	if n < 2 {
		return false
	}

	if c.FullCount() < n {
		return false
	}

	if c.free.Len() < c.cfg.ReservedPEBs {
		return false
	}

	return c.free.Len()-c.bebRsvdPEBs <= c.consolidationThresholdLocked()
}

func (c *Core) consolidationThresholdLocked() int {
	if c.cfg.ConsolidationThreshold > 0 {
		return c.cfg.ConsolidationThreshold
	}

	t := (c.availPEBs + c.rsvdPEBs) / 3
	if t < c.cfg.LebsPerCPEB {
		t = c.cfg.LebsPerCPEB
	}

	return t
}

// findConsolidableLEBs implements the bounded try-lock-with-rotation loop
// from spec.md §4.10 step 1 and §9's "retry with rotation" design note: try
// to lock N distinct entries from the full FIFO, rotating contended entries
// to the tail, bounded by the FIFO's length at the start of the attempt.
func (c *Core) findConsolidableLEBs(ctx context.Context, n int) ([]consolCandidate, error) {
	c.fullMu.Lock()
	maxAttempts := c.full.len()

	var gathered []consolCandidate

	for len(gathered) < n && maxAttempts > 0 {
		k, ok := c.full.popFront()
		if !ok {
			break
		}

		maxAttempts--

		lockRes, err := c.eba.LEBWriteTryLock(ctx, k.VolID, k.Lnum)
		if err != nil {
			c.fullMu.Unlock()

			return nil, fmt.Errorf("consolidate: trylock %d/%d: %w", k.VolID, k.Lnum, err)
		}

		if lockRes == LockContended {
			c.full.add(k)

			continue
		}

		vol, exists, verr := c.vols.Get(ctx, k.VolID)
		if verr != nil {
			_ = c.eba.LEBWriteUnlock(ctx, k.VolID, k.Lnum)
			c.fullMu.Unlock()

			return nil, fmt.Errorf("consolidate: resolve volume %d: %w", k.VolID, verr)
		}

		if !exists {
			// Volume vanished between being queued and being
			// consolidated: abort this slot (spec.md §4.10 step 1).
			_ = c.eba.LEBWriteUnlock(ctx, k.VolID, k.Lnum)

			continue
		}

		pnum, mapped, lerr := c.eba.Lookup(ctx, k.VolID, k.Lnum)
		if lerr != nil || !mapped {
			_ = c.eba.LEBWriteUnlock(ctx, k.VolID, k.Lnum)

			continue
		}

		gathered = append(gathered, consolCandidate{volID: k.VolID, lnum: k.Lnum, srcPnum: pnum, vol: vol})
	}

	c.fullMu.Unlock()

	if len(gathered) < n {
		for _, cand := range gathered {
			_ = c.eba.LEBWriteUnlock(ctx, cand.volID, cand.lnum)
		}

		c.fullMu.Lock()
		for _, cand := range gathered {
			c.full.add(fullKey{VolID: cand.volID, Lnum: cand.lnum})
		}
		c.fullMu.Unlock()

		return nil, fmt.Errorf("consolidate: gathered %d/%d candidates: %w", len(gathered), n, ErrBusy)
	}

	return gathered, nil
}

// EnsureConsolidate schedules one consolidation cycle on the work engine
// if spec.md §4.10's trigger predicate holds. Unlike EnsureWL it carries no
// "already scheduled" latch: concurrent cycles simply contend for
// candidates via findConsolidableLEBs and the loser finds too few and
// backs off, so over-scheduling is harmless, just wasted work.
func (c *Core) EnsureConsolidate(ctx context.Context) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	c.mu.Lock()
	needed := c.consolidationNeededLocked()
	c.mu.Unlock()

	if !needed {
		return nil
	}

	w := newWork(WorkKindConsolidate, -1, func(ctx context.Context, shutdown bool) error {
		if shutdown {
			return ErrShutdown
		}

		return c.TryConsolidate(ctx)
	})

	return c.wq.schedule(w)
}

// TryConsolidate runs one consolidation cycle (spec.md §4.10). It is a
// no-op returning nil when LebsPerCPEB < 2. On any failure after
// candidates are gathered but before the EBA update commits, every locked
// LEB is put back on full, the freshly allocated PEB is released to the
// erase queue, and the locks are released -- no EBA state changes on
// failure (spec.md §8 property 6).
func (c *Core) TryConsolidate(ctx context.Context) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	n := c.cfg.LebsPerCPEB
	if n < 2 {
		return nil
	}

	candidates, err := c.findConsolidableLEBs(ctx, n)
	if err != nil {
		return err
	}

	releaseAndRequeue := func() {
		for _, cand := range candidates {
			_ = c.eba.LEBWriteUnlock(ctx, cand.volID, cand.lnum)
		}

		c.fullMu.Lock()
		for _, cand := range candidates {
			c.full.add(fullKey{VolID: cand.volID, Lnum: cand.lnum})
		}
		c.fullMu.Unlock()
	}

	newPnum, err := c.GetPEB(ctx, true)
	if err != nil {
		releaseAndRequeue()

		return fmt.Errorf("consolidate: allocate target: %w", err)
	}

	c.bufMutex.Lock()
	defer c.bufMutex.Unlock()

	vids := make([]VIDHeader, n)
	payload := make([][]byte, n)

	for i, cand := range candidates {
		data, dataSize, rerr := c.readSourceLEB(ctx, cand)
		if rerr != nil {
			releaseAndRequeue()
			c.schedulePEBErase(newPnum, false)

			return fmt.Errorf("consolidate: read source %d/%d: %w", cand.volID, cand.lnum, rerr)
		}

		payload[i] = data
		vids[i] = VIDHeader{
			Sqnum:    c.seq.Next(),
			VolID:    cand.volID,
			Lnum:     cand.lnum,
			DataSize: dataSize,
			UsedEBs:  cand.vol.UsedEBs,
			DataPad:  cand.vol.DataPad,
			DataCRC:  crc32.ChecksumIEEE(data),
			VolType:  cand.vol.VolType,
			CopyFlag: 1,
		}
	}

	if err := c.io.WriteVIDHeaders(ctx, newPnum, vids); err != nil {
		releaseAndRequeue()
		c.schedulePEBErase(newPnum, false)

		return fmt.Errorf("consolidate: write vid headers: %w", err)
	}

	headerRegion := n * VIDHeaderWireSize

	for i, data := range payload {
		if err := c.io.RawWrite(ctx, newPnum, headerRegion+i*len(data), data); err != nil {
			releaseAndRequeue()
			c.schedulePEBErase(newPnum, false)

			return fmt.Errorf("consolidate: write data region %d: %w", i, err)
		}
	}

	// Step 6: atomically update EBA. Only now do we touch state visible
	// outside this function.
	orphaned, err := c.commitConsolidation(ctx, newPnum, candidates)
	if err != nil {
		// The EBA update itself is expected to be effectively atomic at
		// the collaborator boundary; if it fails partway the candidates
		// may be partially migrated. We do not attempt to roll back
		// already-applied SetMapping calls here, matching spec.md §8
		// property 6's "never neither" guarantee from the EBA
		// collaborator's own contract, not ours to re-implement.
		return fmt.Errorf("consolidate: commit: %w", err)
	}

	for _, cand := range candidates {
		_ = c.eba.LEBWriteUnlock(ctx, cand.volID, cand.lnum)
	}

	for _, opnum := range orphaned {
		c.schedulePEBErase(opnum, false)
	}

	c.log.Info().Int32("new_pnum", newPnum).Int("n", n).Msg("wl.consolidate")

	return nil
}

// readSourceLEB reads a candidate's live data and computes its data_size,
// per spec.md §4.10 step 3: a read of the data area after the single VID
// header for a single-LEB source, an offset read for a source that was
// itself already consolidated. A dynamic volume without a DataSize closure
// gets the largest size that lets LebsPerCPEB header+data slots share one
// PEB.
func (c *Core) readSourceLEB(ctx context.Context, cand consolCandidate) ([]byte, uint32, error) {
	c.consoLock.Lock()
	slots, isConsolidated := c.consolidated[cand.srcPnum]
	c.consoLock.Unlock()

	var dataSize uint32

	if cand.vol.VolType == VolTypeStatic {
		vids, _, err := c.io.ReadVIDHeaders(ctx, cand.srcPnum)
		if err != nil {
			return nil, 0, err
		}

		for _, v := range vids {
			if v.VolID == cand.volID && v.Lnum == cand.lnum {
				dataSize = v.DataSize

				break
			}
		}
	} else if cand.vol.DataSize != nil {
		dataSize = cand.vol.DataSize(cand.lnum)
	} else {
		dataSize = uint32(c.io.PEBSize()/c.cfg.LebsPerCPEB-VIDHeaderWireSize) - cand.vol.DataPad
	}

	if !isConsolidated {
		data, err := c.io.Read(ctx, cand.srcPnum, VIDHeaderWireSize, int(dataSize))

		return data, dataSize, unwrapBitflips(err)
	}

	idx := -1

	for i, s := range slots {
		if s.live() && s.VolID == cand.volID && s.Lnum == cand.lnum {
			idx = i

			break
		}
	}

	if idx < 0 {
		return nil, 0, fmt.Errorf("consolidate: %d/%d not found on consolidated peb %d: %w", cand.volID, cand.lnum, cand.srcPnum, ErrNotFound)
	}

	headerRegion := len(slots) * VIDHeaderWireSize
	data, err := c.io.RawRead(ctx, cand.srcPnum, headerRegion+idx*int(dataSize), int(dataSize))

	return data, dataSize, unwrapBitflips(err)
}

// unwrapBitflips treats ErrBitflipsDetected as success: the data is valid.
func unwrapBitflips(err error) error {
	if errors.Is(err, ErrBitflipsDetected) {
		return nil
	}

	return err
}

// commitConsolidation performs step 6: install the new mappings, drop or
// shrink the old consolidated-map entries, and install consolidated[newPnum].
// Returns the set of old PEBs that are now entirely orphaned and should be
// erased.
func (c *Core) commitConsolidation(ctx context.Context, newPnum int32, candidates []consolCandidate) ([]int32, error) {
	slots := make([]cpebSlot, len(candidates))
	orphanSet := make(map[int32]bool)

	for i, cand := range candidates {
		if err := c.eba.InvalidateMapping(ctx, cand.volID, cand.lnum); err != nil {
			return nil, fmt.Errorf("invalidate old mapping %d/%d: %w", cand.volID, cand.lnum, err)
		}

		if err := c.eba.SetMapping(ctx, cand.volID, cand.lnum, newPnum); err != nil {
			return nil, fmt.Errorf("set mapping %d/%d: %w", cand.volID, cand.lnum, err)
		}

		slots[i] = cpebSlot{VolID: cand.volID, Lnum: cand.lnum}

		c.consoLock.Lock()
		oldSlots, wasConsolidated := c.consolidated[cand.srcPnum]

		if wasConsolidated {
			for j, s := range oldSlots {
				if s.live() && s.VolID == cand.volID && s.Lnum == cand.lnum {
					oldSlots[j] = cpebSlot{VolID: -1}
				}
			}

			if allDead(oldSlots) {
				delete(c.consolidated, cand.srcPnum)
				orphanSet[cand.srcPnum] = true
			} else {
				c.consolidated[cand.srcPnum] = oldSlots
			}
		} else {
			orphanSet[cand.srcPnum] = true
		}
		c.consoLock.Unlock()
	}

	c.consoLock.Lock()
	c.consolidated[newPnum] = slots
	c.consoLock.Unlock()

	orphaned := make([]int32, 0, len(orphanSet))
	for pnum := range orphanSet {
		orphaned = append(orphaned, pnum)
	}

	return orphaned, nil
}

func allDead(slots []cpebSlot) bool {
	for _, s := range slots {
		if s.live() {
			return false
		}
	}

	return true
}
