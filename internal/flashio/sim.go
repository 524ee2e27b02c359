package flashio

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

// Sim is an in-memory simulated NAND implementing wl.IO. It models a flat
// array of physical eraseblocks, each pebSize bytes, with an optional
// per-read bitflip simulator standing in for ECC-corrected ECC errors.
// Nothing about Sim is concurrency-optimized; it exists for tests and the
// ubishell/ubictl demo commands, not production use.
type Sim struct {
	mu sync.Mutex

	pebSize int
	pebs    [][]byte

	// ecHeaders backs ReadECHeader/WriteECHeader in a region separate from
	// pebs: real NAND keeps the erase counter in its own out-of-band area,
	// distinct from the VID-header-then-data region RawRead/RawWrite/
	// ReadVIDHeaders address starting at offset 0.
	ecHeaders [][]byte

	bad map[int32]bool

	rng         *rand.Rand
	bitflipRate float64
}

// NewSim allocates numPEBs PEBs of pebSize bytes each, all initially erased
// (0xFF). bitflipRate is the per-read probability of simulating an
// ECC-corrected bitflip (0 disables the feature entirely).
func NewSim(numPEBs, pebSize int, seed int64, bitflipRate float64) *Sim {
	pebs := make([][]byte, numPEBs)
	ecHeaders := make([][]byte, numPEBs)

	for i := range pebs {
		pebs[i] = make([]byte, pebSize)
		for j := range pebs[i] {
			pebs[i][j] = 0xFF
		}

		ecHeaders[i] = make([]byte, ecHeaderSize)
		for j := range ecHeaders[i] {
			ecHeaders[i][j] = 0xFF
		}
	}

	return &Sim{
		pebSize:     pebSize,
		pebs:        pebs,
		ecHeaders:   ecHeaders,
		bad:         make(map[int32]bool),
		rng:         rand.New(rand.NewSource(seed)),
		bitflipRate: bitflipRate,
	}
}

// NewSimFromImage rebuilds a Sim from a previously saved SimImage, so a new
// cmd/ubictl invocation continues against the same simulated NAND state
// rather than starting from a blank device every time.
func NewSimFromImage(img SimImage, seed int64, bitflipRate float64) *Sim {
	s := NewSim(len(img.PEBs), img.PEBSize, seed, bitflipRate)

	for i, peb := range img.PEBs {
		copy(s.pebs[i], peb)
	}

	for i, ec := range img.ECHeaders {
		if i < len(s.ecHeaders) {
			copy(s.ecHeaders[i], ec)
		}
	}

	for _, pnum := range img.Bad {
		s.bad[pnum] = true
	}

	return s
}

// ExportImage captures the current backing store for SaveSimImage.
func (s *Sim) ExportImage() SimImage {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := SimImage{
		PEBSize:   s.pebSize,
		PEBs:      make([][]byte, len(s.pebs)),
		ECHeaders: make([][]byte, len(s.ecHeaders)),
	}

	for i, peb := range s.pebs {
		cp := make([]byte, len(peb))
		copy(cp, peb)
		img.PEBs[i] = cp
	}

	for i, ec := range s.ecHeaders {
		cp := make([]byte, len(ec))
		copy(cp, ec)
		img.ECHeaders[i] = cp
	}

	for pnum, bad := range s.bad {
		if bad {
			img.Bad = append(img.Bad, pnum)
		}
	}

	return img
}

func (s *Sim) checkPnum(pnum int32) error {
	if pnum < 0 || int(pnum) >= len(s.pebs) {
		return fmt.Errorf("flashio: pnum %d out of range", pnum)
	}

	if s.bad[pnum] {
		return fmt.Errorf("flashio: pnum %d is marked bad: %w", pnum, wl.ErrMediaError)
	}

	return nil
}

func (s *Sim) PEBSize() int { return s.pebSize }

func (s *Sim) SyncErase(ctx context.Context, pnum int32, torture bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPnum(pnum); err != nil {
		return 0, err
	}

	cycles := 1

	if torture {
		for i := range s.pebs[pnum] {
			s.pebs[pnum][i] = 0xAA
		}

		cycles++
	}

	for i := range s.pebs[pnum] {
		s.pebs[pnum][i] = 0xFF
	}

	return cycles, nil
}

// readAt returns a copy of length bytes at offset, running the bitflip
// simulator over the copy. The stored bytes are never mutated by a
// simulated flip: ECC correction means the caller sees good data back,
// just flagged via the returned error.
func (s *Sim) readAt(pnum int32, offset, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPnum(pnum); err != nil {
		return nil, err
	}

	if offset < 0 || length < 0 || offset+length > s.pebSize {
		return nil, fmt.Errorf("flashio: read pnum %d out of bounds [%d:%d)", pnum, offset, offset+length)
	}

	out := make([]byte, length)
	copy(out, s.pebs[pnum][offset:offset+length])

	if s.bitflipRate > 0 && s.rng.Float64() < s.bitflipRate {
		return out, wl.ErrBitflipsDetected
	}

	return out, nil
}

func (s *Sim) Read(ctx context.Context, pnum int32, offset, length int) ([]byte, error) {
	return s.readAt(pnum, offset, length)
}

func (s *Sim) RawRead(ctx context.Context, pnum int32, offset, length int) ([]byte, error) {
	return s.readAt(pnum, offset, length)
}

func (s *Sim) RawWrite(ctx context.Context, pnum int32, offset int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPnum(pnum); err != nil {
		return err
	}

	if offset < 0 || offset+len(data) > s.pebSize {
		return fmt.Errorf("flashio: write pnum %d out of bounds [%d:%d)", pnum, offset, offset+len(data))
	}

	copy(s.pebs[pnum][offset:offset+len(data)], data)

	return nil
}

func (s *Sim) ReadECHeader(ctx context.Context, pnum int32) (uint64, error) {
	s.mu.Lock()

	if err := s.checkPnum(pnum); err != nil {
		s.mu.Unlock()

		return 0, err
	}

	buf := make([]byte, ecHeaderSize)
	copy(buf, s.ecHeaders[pnum])
	s.mu.Unlock()

	ec, blank, derr := decodeECHeader(buf)
	if derr != nil {
		return 0, derr
	}

	if blank {
		return 0, nil
	}

	return ec, nil
}

func (s *Sim) WriteECHeader(ctx context.Context, pnum int32, ec uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPnum(pnum); err != nil {
		return err
	}

	copy(s.ecHeaders[pnum], encodeECHeader(ec))

	return nil
}

func (s *Sim) ReadVIDHeaders(ctx context.Context, pnum int32) ([]wl.VIDHeader, wl.VIDReadResult, error) {
	var (
		vids    []wl.VIDHeader
		bitflip bool
	)

	for slot := 0; (slot+1)*vidHeaderSize <= s.pebSize; slot++ {
		off := slot * vidHeaderSize

		buf, err := s.readAt(pnum, off, vidHeaderSize)
		if err != nil && err != wl.ErrBitflipsDetected { //nolint:errorlint
			return nil, wl.VIDOK, err
		}

		if err == wl.ErrBitflipsDetected { //nolint:errorlint
			bitflip = true
		}

		v, blank, derr := decodeVIDHeader(buf)
		if derr != nil {
			if slot == 0 {
				return nil, wl.VIDOK, derr
			}

			break
		}

		if blank {
			break
		}

		vids = append(vids, v)
	}

	switch {
	case len(vids) == 0 && bitflip:
		return nil, wl.VIDFFBitflips, nil
	case len(vids) == 0:
		return nil, wl.VIDFF, nil
	case bitflip:
		return vids, wl.VIDBitflips, nil
	default:
		return vids, wl.VIDOK, nil
	}
}

func (s *Sim) WriteVIDHeaders(ctx context.Context, pnum int32, vids []wl.VIDHeader) error {
	for i, v := range vids {
		if err := s.RawWrite(ctx, pnum, i*vidHeaderSize, encodeVIDHeader(v)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Sim) MarkBad(ctx context.Context, pnum int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pnum < 0 || int(pnum) >= len(s.pebs) {
		return fmt.Errorf("flashio: pnum %d out of range", pnum)
	}

	s.bad[pnum] = true

	return nil
}
