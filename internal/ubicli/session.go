// Package ubicli implements the ubictl subcommands: parsing, a shared
// session that wires together the simulated flash transport and the wl
// engine, and one file per command.
package ubicli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/ubi-wl/internal/eba"
	"github.com/calvinalkan/ubi-wl/internal/flashio"
	"github.com/calvinalkan/ubi-wl/internal/wl"
	"github.com/calvinalkan/ubi-wl/internal/wlconfig"
	"github.com/calvinalkan/ubi-wl/internal/wllog"
)

// demoVolID is the single dynamic volume ubictl provisions on attach, so
// get-peb/scrub/consolidate-now have something to exercise the EBA path
// against without a full volume-management CLI surface.
const demoVolID = int32(0)

// imageFileName is the simulated NAND image persisted under a session's
// SnapshotDir, the source of truth a fresh process re-attaches from.
const imageFileName = "image.bin"

var errNotAttached = errors.New(`ubictl: no device image found, run "ubictl attach" first`)

// Session is one ubictl invocation's wired-up engine: a simulated flash
// transport (wrapped in chaos injection), the in-memory EBA store, and an
// attached wl.Core. Every subcommand but "attach" and "print-config" opens
// one, does its work, flushes the work engine, and persists the image back
// before exiting -- there is no long-running daemon, so durability lives
// entirely in the on-disk image between runs.
type Session struct {
	Cfg   wlconfig.Config
	Sim   *flashio.Sim
	Chaos *flashio.Chaos
	Store *eba.Store
	Core  *wl.Core
	Log   zerolog.Logger

	imagePath string
	seq       *sequencer
}

func imagePath(cfg wlconfig.Config) (string, error) {
	dir := cfg.SnapshotDir
	if dir == "" {
		return "", errors.New("ubictl: snapshot_dir is not configured")
	}

	return filepath.Join(dir, imageFileName), nil
}

// openFresh provisions a brand-new simulated device: used by "attach".
func openFresh(cfg wlconfig.Config) (*Session, error) {
	path, err := imagePath(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ubictl: create snapshot dir: %w", err)
	}

	sim := flashio.NewSim(cfg.PEBCount, cfg.PEBSize, 1, cfg.BitflipRate)

	return newSession(cfg, sim, path, 1)
}

// openExisting resumes from a previously saved image: used by every
// command except "attach".
func openExisting(cfg wlconfig.Config) (*Session, error) {
	path, err := imagePath(cfg)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, errNotAttached
		}

		return nil, fmt.Errorf("ubictl: stat image %s: %w", path, statErr)
	}

	img, err := flashio.LoadSimImage(path)
	if err != nil {
		return nil, fmt.Errorf("ubictl: load image: %w", err)
	}

	sim := flashio.NewSimFromImage(img, 1, cfg.BitflipRate)

	return newSession(cfg, sim, path, img.NextSqnum)
}

func newSession(cfg wlconfig.Config, sim *flashio.Sim, path string, startSqnum uint64) (*Session, error) {
	log := wllog.New(wllog.Options{Level: "info"})

	chaos := flashio.NewChaos(sim, 2, flashio.ChaosConfig{})

	store := eba.NewStore(chaos)
	store.AddVolume(wl.Volume{
		VolID:    demoVolID,
		VolType:  wl.VolTypeDynamic,
		UsedEBs:  0,
		DataPad:  0,
		DataSize: eba.DataSizeFor(uint32(cfg.PEBSize) - uint32(wl.VIDHeaderWireSize)),
	})

	seq := &sequencer{}
	seq.n.Store(startSqnum)

	core, err := wl.NewCore(cfg.WL, chaos, store, store, seq, nil, log)
	if err != nil {
		return nil, fmt.Errorf("ubictl: new core: %w", err)
	}

	if err := core.Attach(context.Background(), int32(cfg.PEBCount)); err != nil {
		return nil, fmt.Errorf("ubictl: attach: %w", err)
	}

	return &Session{
		Cfg:       cfg,
		Sim:       sim,
		Chaos:     chaos,
		Store:     store,
		Core:      core,
		Log:       log,
		imagePath: path,
		seq:       seq,
	}, nil
}

// Save flushes pending work and persists the simulated NAND image back to
// disk, so the next invocation continues from this state.
func (s *Session) Save() error {
	s.Core.Flush()

	img := s.Sim.ExportImage()
	img.NextSqnum = s.seq.n.Load()

	if err := flashio.SaveSimImage(s.imagePath, img); err != nil {
		return fmt.Errorf("ubictl: save image: %w", err)
	}

	return nil
}

// sequencer is the monotonic wl.SeqNumGen backing a session. Its counter is
// seeded from the image's persisted NextSqnum on open and written back on
// Save, so sqnums keep increasing across process restarts the way a real
// UBI attach would recover them from the highest sqnum found on flash.
type sequencer struct {
	n atomic.Uint64
}

func (s *sequencer) Next() uint64 { return s.n.Add(1) }
