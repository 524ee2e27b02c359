package wl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// Test_EnsureWL_Moves_Lowest_EC_Used_PEB_When_Spread_Exceeds_Threshold covers
// the "wear trigger" scenario: a used PEB sitting far below a free PEB's
// erase count must be relocated once the spread clears Threshold.
func Test_EnsureWL_Moves_Lowest_EC_Used_PEB_When_Spread_Exceeds_Threshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	core, sim, store := newHarness(t, cfg, 2, 512)

	store.AddVolume(wl.Volume{VolID: 1, VolType: wl.VolTypeDynamic})

	seedUsed(t, sim, store, 0, 1, 0, 0, 16)
	seedFree(t, sim, 1, 5000)

	ctx := context.Background()
	require.NoError(t, core.Attach(ctx, 2))

	require.NoError(t, core.EnsureWL(ctx))
	core.Flush()

	srcInfo, ok := core.PEBInfo(0)
	require.True(t, ok)
	assert.Equal(t, wl.LocFree, srcInfo.Loc, "source should be erased and back in free")
	assert.Equal(t, uint64(1), srcInfo.EC, "one erase cycle should bump ec from 0 to 1")

	dstInfo, ok := core.PEBInfo(1)
	require.True(t, ok)
	assert.Equal(t, wl.LocProtQueue, dstInfo.Loc, "target parks in the protection queue after taking over the data")

	pnum, mapped, err := store.Lookup(ctx, 1, 0)
	require.NoError(t, err)
	require.True(t, mapped)
	assert.EqualValues(t, 1, pnum, "eba mapping should follow the moved leb to its new pnum")
}

// Test_EnsureWL_Is_A_Noop_When_Spread_Is_Below_Threshold covers the "below
// threshold" scenario.
func Test_EnsureWL_Is_A_Noop_When_Spread_Is_Below_Threshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	core, sim, store := newHarness(t, cfg, 2, 512)

	store.AddVolume(wl.Volume{VolID: 1, VolType: wl.VolTypeDynamic})

	seedUsed(t, sim, store, 0, 1, 0, 0, 16)
	seedFree(t, sim, 1, 10)

	ctx := context.Background()
	require.NoError(t, core.Attach(ctx, 2))

	require.NoError(t, core.EnsureWL(ctx))
	core.Flush()

	srcInfo, ok := core.PEBInfo(0)
	require.True(t, ok)
	assert.Equal(t, wl.LocUsed, srcInfo.Loc, "no move should have happened")
	assert.Equal(t, uint64(0), srcInfo.EC)

	dstInfo, ok := core.PEBInfo(1)
	require.True(t, ok)
	assert.Equal(t, wl.LocFree, dstInfo.Loc)
}

// Test_EnsureWL_Moves_Scrub_Entries_Regardless_Of_EC_Spread covers the
// "scrub entry" scenario: a PEB flagged for scrubbing is relocated even when
// the ordinary erase-counter trigger wouldn't fire.
func Test_EnsureWL_Moves_Scrub_Entries_Regardless_Of_EC_Spread(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	core, sim, store := newHarness(t, cfg, 2, 512)

	store.AddVolume(wl.Volume{VolID: 1, VolType: wl.VolTypeDynamic})

	seedUsed(t, sim, store, 0, 1, 0, 7, 16)
	seedFree(t, sim, 1, 7)

	ctx := context.Background()
	require.NoError(t, core.Attach(ctx, 2))

	require.NoError(t, core.ScrubPEB(ctx, 0, false))
	core.Flush()

	srcInfo, ok := core.PEBInfo(0)
	require.True(t, ok)
	assert.Equal(t, wl.LocFree, srcInfo.Loc, "scrubbed source should end up erased and free")
	assert.Equal(t, uint64(8), srcInfo.EC)

	pnum, mapped, err := store.Lookup(ctx, 1, 0)
	require.NoError(t, err)
	require.True(t, mapped)
	assert.EqualValues(t, 1, pnum)
}

// Test_WL_Move_Demotes_Source_To_Erroneous_On_Source_Read_Error covers the
// "source read error" scenario.
func Test_WL_Move_Demotes_Source_To_Erroneous_On_Source_Read_Error(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	core, sim, store := newHarness(t, cfg, 2, 512)

	store.AddVolume(wl.Volume{VolID: 1, VolType: wl.VolTypeDynamic})

	seedUsed(t, sim, store, 0, 1, 0, 0, 16)
	seedFree(t, sim, 1, 5000)

	ctx := context.Background()
	require.NoError(t, core.Attach(ctx, 2))

	var fired bool

	store.SetFault(func(op string, volID, lnum int32) (wl.EBAResult, error) {
		if fired || op != "copy_leb" {
			return wl.EBAOK, nil
		}

		fired = true

		return wl.EBASourceRdErr, nil
	})

	require.NoError(t, core.EnsureWL(ctx))
	core.Flush()

	srcInfo, ok := core.PEBInfo(0)
	require.True(t, ok)
	assert.Equal(t, wl.LocErroneous, srcInfo.Loc, "a source read error demotes the source to erroneous")

	dstInfo, ok := core.PEBInfo(1)
	require.True(t, ok)
	assert.Equal(t, wl.LocFree, dstInfo.Loc, "the never-written target is released back to free")

	stats := core.Stats()
	assert.Equal(t, 1, stats.Erroneous)
	assert.False(t, stats.ReadOnly, "a single erroneous peb must stay well under max_erroneous")
}
