// Package eba implements an in-memory eraseblock-association collaborator:
// the LEB->PEB map, volume metadata, and the LEB write-lock table the
// wl package's EBA interface describes.
package eba

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/ubi-wl/internal/wl"
)

type lebKey struct{ VolID, Lnum int32 }

// FaultFunc lets tests force a specific EBAResult/error out of CopyLEB or
// CopyLEBs before any real I/O happens, for exercising wl's outcome table
// without needing flashio's own chaos injection to line up exactly.
type FaultFunc func(op string, volID, lnum int32) (wl.EBAResult, error)

// Store is the in-memory EBA collaborator. It owns a reference to the same
// flash transport the wl.Core uses, since CopyLEB/CopyLEBs must actually
// move bytes and rewrite the destination's VID header(s).
type Store struct {
	mu sync.Mutex

	io       wl.IO
	mappings map[int32]map[int32]int32
	locks    map[lebKey]bool
	volumes  map[int32]wl.Volume

	fault FaultFunc
}

// NewStore builds an empty Store backed by io.
func NewStore(io wl.IO) *Store {
	return &Store{
		io:       io,
		mappings: make(map[int32]map[int32]int32),
		locks:    make(map[lebKey]bool),
		volumes:  make(map[int32]wl.Volume),
	}
}

// SetFault installs f as the test fault hook. nil disables it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fault = f
}

// AddVolume registers or replaces a volume's metadata.
func (s *Store) AddVolume(v wl.Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volumes[v.VolID] = v
}

// RemoveVolume deletes a volume, simulating it vanishing mid-consolidation.
func (s *Store) RemoveVolume(volID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.volumes, volID)
}

// Seed installs (volID, lnum) -> pnum directly, for test setup that needs
// to start from a populated map rather than building it up through
// CopyLEB calls.
func (s *Store) Seed(volID, lnum, pnum int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setMappingLocked(volID, lnum, pnum)
}

func (s *Store) setMappingLocked(volID, lnum, pnum int32) {
	m, ok := s.mappings[volID]
	if !ok {
		m = make(map[int32]int32)
		s.mappings[volID] = m
	}

	m[lnum] = pnum
}

func (s *Store) Get(ctx context.Context, volID int32) (wl.Volume, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.volumes[volID]

	return v, ok, nil
}

func (s *Store) Lookup(ctx context.Context, volID, lnum int32) (int32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[volID]
	if !ok {
		return 0, false, nil
	}

	pnum, ok := m[lnum]

	return pnum, ok, nil
}

func (s *Store) SetMapping(ctx context.Context, volID, lnum, pnum int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setMappingLocked(volID, lnum, pnum)

	return nil
}

func (s *Store) InvalidateMapping(ctx context.Context, volID, lnum int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mappings[volID]; ok {
		delete(m, lnum)
	}

	return nil
}

func (s *Store) LEBWriteTryLock(ctx context.Context, volID, lnum int32) (wl.LockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lebKey{volID, lnum}
	if s.locks[k] {
		return wl.LockContended, nil
	}

	s.locks[k] = true

	return wl.LockAcquired, nil
}

func (s *Store) LEBWriteUnlock(ctx context.Context, volID, lnum int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, lebKey{volID, lnum})

	return nil
}

// CopyLEB moves one LEB's data from src to dst and, on success, installs
// the new mapping -- matching real UBI's eba_copy_leb, which updates
// eba_tbl[lnum] atomically with the VID header write rather than leaving
// that to a separate caller-driven step.
func (s *Store) CopyLEB(ctx context.Context, src, dst int32, vid wl.VIDHeader) (wl.EBAResult, error) {
	if r, err, handled := s.runFault(ctx, "copy_leb", vid.VolID, vid.Lnum); handled {
		return r, err
	}

	data, err := s.readSource(ctx, src, int(vid.DataSize))
	if err != nil {
		return wl.EBASourceRdErr, nil //nolint:nilerr // result code carries the failure
	}

	if err := s.writeTarget(ctx, dst, []wl.VIDHeader{vid}, [][]byte{data}); err != nil {
		return classifyTargetErr(err), nil //nolint:nilerr
	}

	s.mu.Lock()
	s.setMappingLocked(vid.VolID, vid.Lnum, dst)
	s.mu.Unlock()

	return wl.EBAOK, nil
}

// CopyLEBs is CopyLEB generalized to a consolidated source PEB's N slots.
func (s *Store) CopyLEBs(ctx context.Context, src, dst int32, vids []wl.VIDHeader) (wl.EBAResult, error) {
	if len(vids) == 0 {
		return wl.EBAOK, nil
	}

	if r, err, handled := s.runFault(ctx, "copy_lebs", vids[0].VolID, vids[0].Lnum); handled {
		return r, err
	}

	headerRegion := len(vids) * wl.VIDHeaderWireSize

	data := make([][]byte, len(vids))

	for i, v := range vids {
		d, err := s.readSourceAt(ctx, src, headerRegion+i*int(v.DataSize), int(v.DataSize))
		if err != nil {
			return wl.EBASourceRdErr, nil //nolint:nilerr
		}

		data[i] = d
	}

	if err := s.writeTarget(ctx, dst, vids, data); err != nil {
		return classifyTargetErr(err), nil //nolint:nilerr
	}

	s.mu.Lock()
	for _, v := range vids {
		s.setMappingLocked(v.VolID, v.Lnum, dst)
	}
	s.mu.Unlock()

	return wl.EBAOK, nil
}

func (s *Store) runFault(ctx context.Context, op string, volID, lnum int32) (wl.EBAResult, error, bool) {
	s.mu.Lock()
	f := s.fault
	s.mu.Unlock()

	if f == nil {
		return wl.EBAOK, nil, false
	}

	r, err := f(op, volID, lnum)
	if r == wl.EBAOK && err == nil {
		return wl.EBAOK, nil, false
	}

	return r, err, true
}

func (s *Store) readSource(ctx context.Context, pnum int32, length int) ([]byte, error) {
	return s.readSourceAt(ctx, pnum, wl.VIDHeaderWireSize, length)
}

func (s *Store) readSourceAt(ctx context.Context, pnum int32, offset, length int) ([]byte, error) {
	data, err := s.io.Read(ctx, pnum, offset, length)
	if err != nil && !errors.Is(err, wl.ErrBitflipsDetected) {
		return nil, err
	}

	return data, nil
}

func (s *Store) writeTarget(ctx context.Context, pnum int32, vids []wl.VIDHeader, data [][]byte) error {
	if err := s.io.WriteVIDHeaders(ctx, pnum, vids); err != nil {
		return err
	}

	headerRegion := len(vids) * wl.VIDHeaderWireSize

	for i, d := range data {
		if err := s.io.RawWrite(ctx, pnum, headerRegion+i*len(d), d); err != nil {
			return err
		}
	}

	return nil
}

func classifyTargetErr(err error) wl.EBAResult {
	if errors.Is(err, wl.ErrBitflipsDetected) {
		return wl.EBATargetBitflips
	}

	return wl.EBATargetWrErr
}

var errNoSuchVolume = errors.New("eba: no such volume")

// DataSizeFor is a convenience used by tests and cmd/ubictl to build a
// wl.Volume.DataSize closure for a dynamic volume from a fixed per-LEB
// size, since the in-memory Store doesn't track real LEB content lengths.
func DataSizeFor(size uint32) func(lnum int32) uint32 {
	return func(int32) uint32 { return size }
}

// MustVolume panics if volID isn't registered; a small helper for cmd/
// wiring where a missing volume is a configuration error, not a runtime one.
func (s *Store) MustVolume(volID int32) wl.Volume {
	v, ok, _ := s.Get(context.Background(), volID)
	if !ok {
		panic(fmt.Sprintf("eba: %v: volid %d", errNoSuchVolume, volID))
	}

	return v
}
