package wl

import (
	"context"
	"fmt"
)

// Attach scans pnum in [0, pebCount) and builds the registry: each PEB's
// erase counter and VID-header outcome classify it into the free, used, or
// scrub sets, or the consolidated map when it carries more than one live
// VID header slot (spec.md §4.1, §4.2). A PEB whose headers can't be read
// at all is treated as already bad and excluded from every set. Attach
// also pulls in any Fastmap reserve and tops up the anchor range.
func (c *Core) Attach(ctx context.Context, pebCount int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var maxEC uint64

	for pnum := int32(0); pnum < pebCount; pnum++ {
		ec, err := c.io.ReadECHeader(ctx, pnum)
		if err != nil {
			c.retireBadPEBLocked(ctx, pnum)

			continue
		}

		vids, vidResult, err := c.io.ReadVIDHeaders(ctx, pnum)
		if err != nil {
			c.retireBadPEBLocked(ctx, pnum)

			continue
		}

		if ec > maxEC {
			maxEC = ec
		}

		entry := &PEBEntry{Pnum: pnum, EC: ec}
		c.lookup[pnum] = entry
		c.goodPEBCount++

		switch vidResult {
		case VIDFF:
			c.insertLocked(entry, LocFree)
		case VIDFFBitflips, VIDBitflips:
			c.insertLocked(entry, LocScrub)
		case VIDOK:
			c.insertLocked(entry, LocUsed)

			if len(vids) > 1 {
				slots := make([]cpebSlot, len(vids))
				for i, v := range vids {
					slots[i] = cpebSlot{VolID: v.VolID, Lnum: v.Lnum}
				}

				c.consoLock.Lock()
				c.consolidated[pnum] = slots
				c.consoLock.Unlock()
			}
		default:
			c.insertLocked(entry, LocScrub)
		}
	}

	c.maxEC = maxEC
	c.rsvdPEBs = c.cfg.ReservedPEBs
	c.availPEBs = c.free.Len()

	if c.fastmap != nil {
		reserved, err := c.fastmap.Init(ctx)
		if err != nil {
			return fmt.Errorf("attach: fastmap init: %w", err)
		}

		c.rsvdPEBs += reserved
	}

	if c.cfg.hasAnchor() {
		return c.ensureAnchorPEBsLocked(ctx)
	}

	return nil
}

// retireBadPEBLocked records pnum as bad without touching the registry
// sets (it was never entered into one). Requires c.mu held.
func (c *Core) retireBadPEBLocked(ctx context.Context, pnum int32) {
	if err := c.io.MarkBad(ctx, pnum); err != nil {
		c.log.Error().Err(err).Int32("pnum", pnum).Msg("wl.attach_mark_bad_failed")
	}

	c.badPEBCount++
}

// EnsureAnchorPEBs tops up the anchor pnum range (spec.md §4 supplemented
// feature, mirroring ubi_ensure_anchor_pebs): any PEB inside
// [AnchorLo, AnchorHi] that is currently carrying ordinary LEB data is
// moved into the scrub set, so the next wear-leveling cycle relocates it
// and the anchor range stays free for Fastmap's own use. It does not
// schedule that cycle itself. A no-op when the config has no anchor range.
func (c *Core) EnsureAnchorPEBs(ctx context.Context) error {
	if !c.cfg.hasAnchor() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ensureAnchorPEBsLocked(ctx)
}

func (c *Core) ensureAnchorPEBsLocked(ctx context.Context) error {
	for pnum := c.cfg.AnchorLo; pnum <= c.cfg.AnchorHi; pnum++ {
		entry, ok := c.findEntryLocked(pnum)
		if !ok {
			continue
		}

		if entry.Loc != LocUsed {
			continue
		}

		c.removeFromCurrentLocked(entry)
		entry.Loc = LocScrub
		c.scrub.Insert(entry)
	}

	return nil
}
