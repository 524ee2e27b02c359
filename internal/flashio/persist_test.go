package flashio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshot_SaveLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")

	snap := Snapshot{
		PEBs: []PEBSnapshot{
			{Pnum: 0, EC: 10, Loc: 1},
			{Pnum: 1, EC: 20, Loc: 2},
		},
		MaxEC: 20,
	}

	if err := SaveSnapshot(path, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if got.MaxEC != snap.MaxEC || len(got.PEBs) != len(snap.PEBs) {
		t.Fatalf("got=%+v, want=%+v", got, snap)
	}

	for i := range snap.PEBs {
		if got.PEBs[i] != snap.PEBs[i] {
			t.Fatalf("PEBs[%d]=%+v, want=%+v", i, got.PEBs[i], snap.PEBs[i])
		}
	}
}

func TestLoadSnapshot_RejectsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")

	if err := SaveSnapshot(path, Snapshot{MaxEC: 1}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	raw[len(raw)-1] ^= 0xFF

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadSnapshot(path); err == nil {
		t.Fatalf("err=nil, want a crc mismatch error for a corrupted snapshot")
	}
}

func TestLoadSnapshot_RejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")

	if err := os.WriteFile(path, []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadSnapshot(path); err == nil {
		t.Fatalf("err=nil, want a truncated-file error")
	}
}

func TestSimImage_SaveLoad_RoundTripsECHeadersSeparatelyFromPEBs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.bin")

	s := NewSim(2, 256, 1, 0)

	if err := s.WriteECHeader(ctx, 0, 55); err != nil {
		t.Fatalf("WriteECHeader: %v", err)
	}

	if err := s.RawWrite(ctx, 1, 0, []byte{7, 7, 7}); err != nil {
		t.Fatalf("RawWrite: %v", err)
	}

	if err := s.MarkBad(ctx, 1); err != nil {
		t.Fatalf("MarkBad: %v", err)
	}

	if err := SaveSimImage(path, s.ExportImage()); err != nil {
		t.Fatalf("SaveSimImage: %v", err)
	}

	img, err := LoadSimImage(path)
	if err != nil {
		t.Fatalf("LoadSimImage: %v", err)
	}

	restored := NewSimFromImage(img, 1, 0)

	ec, err := restored.ReadECHeader(ctx, 0)
	if err != nil {
		t.Fatalf("ReadECHeader: %v", err)
	}

	if got, want := ec, uint64(55); got != want {
		t.Fatalf("ec=%d, want=%d", got, want)
	}

	// pnum 1 is marked bad in the restored image, so even a plain read must
	// fail: img.Bad round-tripped along with img.ECHeaders.
	if _, err := restored.RawRead(ctx, 1, 0, 3); err == nil {
		t.Fatalf("RawRead(1) succeeded, want a bad-pnum error since img.Bad carried pnum 1")
	}
}
