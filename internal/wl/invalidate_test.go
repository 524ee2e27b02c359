package wl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// consolidateFour packs lnums 0..3 of volID 1 onto one PEB via the normal
// consolidation path, returning the resulting consolidated pnum.
func consolidateFour(t *testing.T, ctx context.Context, core *wl.Core) int32 {
	t.Helper()

	for lnum := int32(0); lnum < 4; lnum++ {
		core.AddFullLEB(ctx, 1, lnum)
	}

	core.Flush()

	require.Equal(t, 0, core.FullCount(), "consolidation should have consumed all 4 candidates")

	for pnum := int32(0); ; pnum++ {
		info, ok := core.PEBInfo(pnum)
		if !ok {
			break
		}

		if info.NumLEBs == 4 {
			return pnum
		}
	}

	t.Fatal("no consolidated peb found")

	return -1
}

// Test_InvalidateLEB_On_Consolidated_PEB_Promotes_Survivors_On_First_Death
// covers the "invalidate-LEB on consolidated PEB" scenario: invalidating 3
// of the 4 packed slots one at a time. The first invalidation must migrate
// every other still-live slot into the full set in its own right; the
// remaining two invalidations must not re-promote anything, since those
// slots are already full-set members. Once all 4 are gone the PEB drops out
// of the consolidated map entirely and is scheduled for erase.
func Test_InvalidateLEB_On_Consolidated_PEB_Promotes_Survivors_On_First_Death(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LebsPerCPEB = 4
	cfg.ConsolidationThreshold = 100

	const numPEBs = 6
	core, sim, store := newHarness(t, cfg, numPEBs, 512)

	store.AddVolume(wl.Volume{VolID: 1, VolType: wl.VolTypeDynamic})

	for lnum := int32(0); lnum < 4; lnum++ {
		seedUsed(t, sim, store, lnum, 1, lnum, 3, 16)
	}

	seedFree(t, sim, 4, 3)
	seedFree(t, sim, 5, 3)

	ctx := context.Background()
	require.NoError(t, core.Attach(ctx, numPEBs))

	cpeb := consolidateFour(t, ctx, core)

	require.NoError(t, core.InvalidateLEB(ctx, 1, 0))

	assert.Equal(t, 3, core.FullCount(), "the first death should promote the other 3 live slots to full")

	info, ok := core.PEBInfo(cpeb)
	require.True(t, ok)
	assert.Equal(t, 4, info.NumLEBs, "the slot count on a consolidated peb covers dead slots too, until the whole peb is dropped")

	require.NoError(t, core.InvalidateLEB(ctx, 1, 1))

	assert.Equal(t, 2, core.FullCount(), "a later death just removes its own full membership, no re-promotion")

	require.NoError(t, core.InvalidateLEB(ctx, 1, 2))

	assert.Equal(t, 1, core.FullCount())

	require.NoError(t, core.InvalidateLEB(ctx, 1, 3))

	core.Flush()

	assert.Equal(t, 0, core.FullCount(), "the last slot's death drops the peb out of the consolidated map")

	info, ok = core.PEBInfo(cpeb)
	require.True(t, ok)
	assert.Equal(t, wl.LocFree, info.Loc, "a fully-dead consolidated peb is erased and returned to free")
	assert.Equal(t, 1, info.NumLEBs, "a plain free peb reports as a single-leb entry")
}
