package wl_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/ubi-wl/internal/eba"
	"github.com/calvinalkan/ubi-wl/internal/flashio"
	"github.com/calvinalkan/ubi-wl/internal/wl"
	"github.com/calvinalkan/ubi-wl/internal/wllog"
)

// noopLogger is used by tests that only care about NewCore's validation
// path and never run the engine for real.
func noopLogger() zerolog.Logger { return zerolog.Nop() }

// testSeq is a simple monotonically increasing wl.SeqNumGen for tests that
// don't care about sqnum values beyond uniqueness.
type testSeq struct{ n atomic.Uint64 }

func (s *testSeq) Next() uint64 { return s.n.Add(1) }

// newHarness builds an unattached Core over a simulated numPEBs x pebSize
// flash, wired to an in-memory EBA store. Tests seed PEB state into sim
// directly before calling Attach.
func newHarness(t *testing.T, cfg wl.Config, numPEBs, pebSize int) (*wl.Core, *flashio.Sim, *eba.Store) {
	t.Helper()

	sim := flashio.NewSim(numPEBs, pebSize, 1, 0)
	store := eba.NewStore(sim)
	log := wllog.New(wllog.Options{Level: "error"})

	core, err := wl.NewCore(cfg, sim, store, store, &testSeq{}, nil, log)
	require.NoError(t, err, "NewCore should accept a valid config")

	return core, sim, store
}

// seedFree writes ec and leaves the VID header region blank, so Attach
// classifies pnum as free.
func seedFree(t *testing.T, sim *flashio.Sim, pnum int32, ec uint64) {
	t.Helper()

	require.NoError(t, sim.WriteECHeader(context.Background(), pnum, ec))
}

// seedUsed writes ec plus a single VID header for (volID, lnum) and installs
// the matching EBA mapping, so Attach classifies pnum as used and a later
// eba.Lookup(volID, lnum) agrees.
func seedUsed(t *testing.T, sim *flashio.Sim, store *eba.Store, pnum, volID, lnum int32, ec uint64, dataSize uint32) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, sim.WriteECHeader(ctx, pnum, ec))
	require.NoError(t, sim.WriteVIDHeaders(ctx, pnum, []wl.VIDHeader{{
		Sqnum:    1,
		VolID:    volID,
		Lnum:     lnum,
		VolType:  wl.VolTypeDynamic,
		DataSize: dataSize,
	}}))

	store.Seed(volID, lnum, pnum)
}

// testConfig returns a small-device config suitable for single-move
// scenarios: default thresholds but only the reserve headroom a handful of
// PEBs can satisfy.
func testConfig() wl.Config {
	cfg := wl.DefaultConfig()
	cfg.ReservedPEBs = 1
	cfg.ProtQueueLen = 2

	return cfg
}
