package wl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// Test_TryConsolidate_Packs_LebsPerCPEB_Full_LEBs_Into_One_PEB covers the
// "consolidation lebs_per_cpeb=4" scenario: four full LEBs, each living
// alone on its own single-LEB PEB, get packed onto one freshly allocated
// PEB, the EBA follows all four to it, and the four now-empty source PEBs
// are scheduled for erase.
func Test_TryConsolidate_Packs_LebsPerCPEB_Full_LEBs_Into_One_PEB(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LebsPerCPEB = 4
	cfg.ConsolidationThreshold = 100 // always eligible once 4 full LEBs exist

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

	for lnum := int32(0); lnum < 4; lnum++ {
		core.AddFullLEB(ctx, 1, lnum)
	}

	core.Flush()

	require.Equal(t, 0, core.FullCount(), "all four candidates should have been consumed by one cycle")

	var newPnum int32 = -1

	for pnum := int32(0); pnum < numPEBs; pnum++ {
		info, ok := core.PEBInfo(pnum)
		if !ok {
			continue
		}

		if info.NumLEBs == 4 {
			newPnum = pnum

			break
		}
	}

	require.NotEqual(t, int32(-1), newPnum, "one peb should have ended up holding all 4 consolidated slots")

	for lnum := int32(0); lnum < 4; lnum++ {
		pnum, mapped, err := store.Lookup(ctx, 1, lnum)
		require.NoError(t, err)
		require.True(t, mapped)
		assert.Equal(t, newPnum, pnum, "lnum %d should now resolve to the consolidated peb", lnum)
	}

	for pnum := int32(0); pnum < 4; pnum++ {
		info, ok := core.PEBInfo(pnum)
		require.True(t, ok)
		assert.Equal(t, wl.LocFree, info.Loc, "orphaned source pnum %d should be erased and free", pnum)
	}
}

// Test_TryConsolidate_Is_A_Noop_Below_LebsPerCPEB_Candidates asserts that a
// partial batch of full LEBs never triggers a cycle: the full set keeps
// accumulating candidates untouched until there are enough to pack a whole
// consolidated PEB.
func Test_TryConsolidate_Is_A_Noop_Below_LebsPerCPEB_Candidates(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LebsPerCPEB = 4
	cfg.ConsolidationThreshold = 100

	core, sim, store := newHarness(t, cfg, 6, 512)
	store.AddVolume(wl.Volume{VolID: 1, VolType: wl.VolTypeDynamic})

	for lnum := int32(0); lnum < 3; lnum++ {
		seedUsed(t, sim, store, lnum, 1, lnum, 3, 16)
	}

	seedFree(t, sim, 3, 3)
	seedFree(t, sim, 4, 3)
	seedFree(t, sim, 5, 3)

	ctx := context.Background()
	require.NoError(t, core.Attach(ctx, 6))

	for lnum := int32(0); lnum < 3; lnum++ {
		core.AddFullLEB(ctx, 1, lnum)
	}

	core.Flush()

	assert.Equal(t, 3, core.FullCount(), "three candidates is short of lebs_per_cpeb=4, nothing should consolidate")
}
