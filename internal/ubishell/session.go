package ubishell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/ubi-wl/internal/eba"
	"github.com/calvinalkan/ubi-wl/internal/flashio"
	"github.com/calvinalkan/ubi-wl/internal/wl"
	"github.com/calvinalkan/ubi-wl/internal/wllog"
	"github.com/calvinalkan/ubi-wl/internal/wlconfig"
)

const imageFileName = "image.bin"

var errNotAttached = errors.New(`ubishell: no device image found, run "ubictl attach" first`)

// staticSeq is a fixed, never-advanced wl.SeqNumGen: ubishell never writes,
// so nothing ever calls Next, but NewCore takes a SeqNumGen and moves and
// consolidation would call it.
type staticSeq struct{}

func (staticSeq) Next() uint64 { return 0 }

// openAttached loads cfg's persisted device image read-only and attaches a
// Core over it purely for inspection. The returned Core is never saved
// back and its GetPEB/PutPEB/ScrubPEB/etc. are never called.
func openAttached(ctx context.Context, cfg wlconfig.Config) (*wl.Core, error) {
	if cfg.SnapshotDir == "" {
		return nil, errors.New("ubishell: snapshot_dir is not configured")
	}

	path := filepath.Join(cfg.SnapshotDir, imageFileName)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errNotAttached
		}

		return nil, fmt.Errorf("ubishell: stat image %s: %w", path, err)
	}

	img, err := flashio.LoadSimImage(path)
	if err != nil {
		return nil, fmt.Errorf("ubishell: load image: %w", err)
	}

	sim := flashio.NewSimFromImage(img, 1, cfg.BitflipRate)
	store := eba.NewStore(sim)
	log := wllog.New(wllog.Options{Level: "error"})

	core, err := wl.NewCore(cfg.WL, sim, store, store, staticSeq{}, nil, log)
	if err != nil {
		return nil, fmt.Errorf("ubishell: new core: %w", err)
	}

	if err := core.Attach(ctx, int32(cfg.PEBCount)); err != nil {
		return nil, fmt.Errorf("ubishell: attach: %w", err)
	}

	return core, nil
}
