package flashio

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// ChaosConfig controls fault injection probabilities for Chaos. Each rate
// is a float64 from 0.0 (never) to 1.0 (always). The zero value disables
// all injection.
type ChaosConfig struct {
	// EraseFailRate controls how often SyncErase fails with a transient
	// error (EINTR/EAGAIN-equivalent), which callers are expected to retry.
	EraseFailRate float64

	// MediaFailRate controls how often SyncErase, Read, RawRead, or
	// RawWrite fails with a permanent media error (wl.ErrMediaError),
	// the only error class that drives PEB retirement.
	MediaFailRate float64

	// TransientFailRate controls how often Read, RawRead, RawWrite, or the
	// header operations fail with a non-media, retry-worthy error.
	TransientFailRate float64
}

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection. Default for a new Chaos.
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every call straight through to the wrapped IO.
	ChaosModeNoOp
)

// ChaosStats counts injected faults, for test assertions.
type ChaosStats struct {
	EraseFails     int64
	MediaFails     int64
	TransientFails int64
}

// transientError marks an injected fault that callers should simply retry;
// it deliberately does not wrap wl.ErrMediaError.
type transientError struct{ msg string }

func (e *transientError) Error() string { return "flashio: chaos: " + e.msg }

// Chaos wraps a wl.IO and injects random transient/media faults, modeling
// the spec's distinction between retry-worthy flash conditions and
// permanent media errors that should retire a PEB. It never injects a
// fault on MarkBad or PEBSize: those are not I/O paths a real flash
// transport can fail on in ways this engine needs to model.
type Chaos struct {
	io     wl.IO
	rng    *rand.Rand
	rngMu  sync.Mutex
	config ChaosConfig
	mode   atomic.Uint32

	eraseFails     atomic.Int64
	mediaFails     atomic.Int64
	transientFails atomic.Int64
}

// NewChaos wraps io. Panics if io is nil.
func NewChaos(io wl.IO, seed int64, config ChaosConfig) *Chaos {
	if io == nil {
		panic("flashio: NewChaos: io is nil")
	}

	return &Chaos{io: io, rng: rand.New(rand.NewSource(seed)), config: config}
}

// SetMode switches between active fault injection and pass-through.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns a snapshot of injected-fault counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		EraseFails:     c.eraseFails.Load(),
		MediaFails:     c.mediaFails.Load(),
		TransientFails: c.transientFails.Load(),
	}
}

func (c *Chaos) roll() float64 {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64()
}

func (c *Chaos) active() bool { return ChaosMode(c.mode.Load()) == ChaosModeActive }

func (c *Chaos) injectMedia(pnum int32) error {
	if !c.active() || c.config.MediaFailRate <= 0 || c.roll() >= c.config.MediaFailRate {
		return nil
	}

	c.mediaFails.Add(1)

	return fmt.Errorf("flashio: chaos: pnum %d: %w", pnum, wl.ErrMediaError)
}

func (c *Chaos) injectTransient(pnum int32) error {
	if !c.active() || c.config.TransientFailRate <= 0 || c.roll() >= c.config.TransientFailRate {
		return nil
	}

	c.transientFails.Add(1)

	return &transientError{msg: fmt.Sprintf("pnum %d busy, retry", pnum)}
}

func (c *Chaos) PEBSize() int { return c.io.PEBSize() }

func (c *Chaos) MarkBad(ctx context.Context, pnum int32) error {
	return c.io.MarkBad(ctx, pnum)
}

func (c *Chaos) SyncErase(ctx context.Context, pnum int32, torture bool) (int, error) {
	if c.active() && c.config.EraseFailRate > 0 && c.roll() < c.config.EraseFailRate {
		c.eraseFails.Add(1)

		return 0, &transientError{msg: fmt.Sprintf("erase pnum %d interrupted", pnum)}
	}

	if err := c.injectMedia(pnum); err != nil {
		return 0, err
	}

	return c.io.SyncErase(ctx, pnum, torture)
}

func (c *Chaos) Read(ctx context.Context, pnum int32, offset, length int) ([]byte, error) {
	if err := c.injectMedia(pnum); err != nil {
		return nil, err
	}

	if err := c.injectTransient(pnum); err != nil {
		return nil, err
	}

	return c.io.Read(ctx, pnum, offset, length)
}

func (c *Chaos) RawRead(ctx context.Context, pnum int32, offset, length int) ([]byte, error) {
	if err := c.injectMedia(pnum); err != nil {
		return nil, err
	}

	if err := c.injectTransient(pnum); err != nil {
		return nil, err
	}

	return c.io.RawRead(ctx, pnum, offset, length)
}

func (c *Chaos) RawWrite(ctx context.Context, pnum int32, offset int, data []byte) error {
	if err := c.injectMedia(pnum); err != nil {
		return err
	}

	if err := c.injectTransient(pnum); err != nil {
		return err
	}

	return c.io.RawWrite(ctx, pnum, offset, data)
}

func (c *Chaos) ReadECHeader(ctx context.Context, pnum int32) (uint64, error) {
	if err := c.injectTransient(pnum); err != nil {
		return 0, err
	}

	return c.io.ReadECHeader(ctx, pnum)
}

func (c *Chaos) WriteECHeader(ctx context.Context, pnum int32, ec uint64) error {
	if err := c.injectTransient(pnum); err != nil {
		return err
	}

	return c.io.WriteECHeader(ctx, pnum, ec)
}

func (c *Chaos) ReadVIDHeaders(ctx context.Context, pnum int32) ([]wl.VIDHeader, wl.VIDReadResult, error) {
	if err := c.injectTransient(pnum); err != nil {
		return nil, wl.VIDOK, err
	}

	return c.io.ReadVIDHeaders(ctx, pnum)
}

func (c *Chaos) WriteVIDHeaders(ctx context.Context, pnum int32, vids []wl.VIDHeader) error {
	if err := c.injectTransient(pnum); err != nil {
		return err
	}

	return c.io.WriteVIDHeaders(ctx, pnum, vids)
}
