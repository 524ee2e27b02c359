package flashio

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"os"

	natomic "github.com/natefinch/atomic"
)

// PEBSnapshot is one registry entry as persisted between attaches, sparing
// a full flash scan on every restart (spec.md's attach-time registry
// construction remains the source of truth; a snapshot is an optional,
// disposable accelerant).
type PEBSnapshot struct {
	Pnum int32
	EC   uint64
	Loc  uint8
}

// Snapshot is the full persisted registry state.
type Snapshot struct {
	PEBs  []PEBSnapshot
	MaxEC uint64
}

// SaveSnapshot durably writes snap to path: it is encoded, CRC-framed, and
// written via an atomic rename so a crash mid-write never leaves a
// truncated file for the next attach to trip over.
func SaveSnapshot(path string, snap Snapshot) error {
	return saveFramed(path, snap)
}

// LoadSnapshot reads and validates a snapshot written by SaveSnapshot.
// Returns an error wrapping a descriptive message on CRC mismatch, which
// callers should treat the same as "no snapshot": fall back to a full
// attach-time scan.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	err := loadFramed(path, &snap)

	return snap, err
}

// SimImage is the durable form of a Sim's backing store: the raw bytes of
// every PEB plus which pnums are marked bad. Unlike Snapshot, this is the
// actual source of truth for a restarted cmd/ubictl process -- Attach
// reconstructs the registry by scanning it, the same way it would scan
// real NAND.
type SimImage struct {
	PEBSize int
	PEBs    [][]byte

	// ECHeaders holds each PEB's erase-counter header, persisted separately
	// from PEBs since the two live in disjoint address regions (see Sim).
	ECHeaders [][]byte

	Bad []int32

	// NextSqnum is the next VID-header sequence number to hand out. It
	// rides along with the image rather than being rederived, since a
	// fresh process has no other way to know how high prior invocations
	// already counted.
	NextSqnum uint64
}

// SaveSimImage durably writes a Sim's image to path.
func SaveSimImage(path string, img SimImage) error {
	return saveFramed(path, img)
}

// LoadSimImage reads an image written by SaveSimImage.
func LoadSimImage(path string) (SimImage, error) {
	var img SimImage
	err := loadFramed(path, &img)

	return img, err
}

func saveFramed(path string, v any) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(v); err != nil {
		return fmt.Errorf("flashio: encode %s: %w", path, err)
	}

	sum := crc32.ChecksumIEEE(body.Bytes())

	var framed bytes.Buffer
	framed.Grow(body.Len() + 4)

	if err := writeUint32(&framed, sum); err != nil {
		return fmt.Errorf("flashio: frame %s: %w", path, err)
	}

	framed.Write(body.Bytes())

	if err := natomic.WriteFile(path, &framed); err != nil {
		return fmt.Errorf("flashio: write %s: %w", path, err)
	}

	return nil
}

func loadFramed(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("flashio: read %s: %w", path, err)
	}

	if len(raw) < 4 {
		return fmt.Errorf("flashio: %s: truncated", path)
	}

	want := readUint32(raw[0:4])
	got := crc32.ChecksumIEEE(raw[4:])

	if want != got {
		return fmt.Errorf("flashio: %s: crc mismatch", path)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw[4:])).Decode(v); err != nil {
		return fmt.Errorf("flashio: decode %s: %w", path, err)
	}

	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) error {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	_, err := buf.Write(b)

	return err
}

func readUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
