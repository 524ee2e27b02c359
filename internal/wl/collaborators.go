package wl

import "context"

// VolType enumerates the on-flash volume type byte (spec.md §6).
type VolType uint8

const (
	VolTypeDynamic VolType = 1
	VolTypeStatic  VolType = 2
)

// VIDHeader is the in-memory form of the persisted volume-identifier header
// (spec.md §6): big-endian sqnum:64, vol_id:32, lnum:32, data_size:32,
// used_ebs:32, data_pad:32, data_crc:32, vol_type:8, copy_flag:8, compat:8.
type VIDHeader struct {
	Sqnum    uint64
	VolID    int32
	Lnum     int32
	DataSize uint32
	UsedEBs  uint32
	DataPad  uint32
	DataCRC  uint32
	VolType  VolType
	CopyFlag uint8
	Compat   uint8
}

// VIDHeaderWireSize is the fixed on-flash size of one VID header slot,
// padded out from the packed field width for the same alignment reasons
// real UBI headers are: it is the unit consolidated PEBs lay their N
// header slots out in before the first data region begins. Collaborators
// (flashio, eba) must agree on this layout; it's exported so they share
// one definition instead of hardcoding it independently.
const VIDHeaderWireSize = 64

// VIDReadResult classifies the outcome of reading a PEB's VID header(s),
// mirroring io.read_vid_hdrs's {OK, BITFLIPS, FF, FF_BITFLIPS} result set
// (spec.md §6).
type VIDReadResult int

const (
	VIDOK VIDReadResult = iota
	VIDBitflips
	VIDFF
	VIDFFBitflips
)

// IO is the flash transport collaborator (spec.md §6, out of scope for
// this spec beyond its call shape). Implementations must be safe for
// concurrent use; the WL core never holds its locks across an IO call.
type IO interface {
	// SyncErase erases pnum, optionally running a torture (write-pattern
	// then erase) cycle, and reports how many erase cycles were actually
	// performed (usually 1, more under torture).
	SyncErase(ctx context.Context, pnum int32, torture bool) (cyclesDone int, err error)

	// Read reads length bytes at an absolute offset within pnum; a
	// single-LEB PEB's data starts at VIDHeaderWireSize, after its one VID
	// header.
	Read(ctx context.Context, pnum int32, offset, length int) ([]byte, error)

	// RawRead reads length bytes at an absolute PEB offset, the same
	// addressing as Read.
	RawRead(ctx context.Context, pnum int32, offset, length int) ([]byte, error)

	// RawWrite writes data at an absolute PEB offset.
	RawWrite(ctx context.Context, pnum int32, offset int, data []byte) error

	// ReadECHeader reads the persisted erase counter for pnum.
	ReadECHeader(ctx context.Context, pnum int32) (ec uint64, err error)

	// WriteECHeader persists ec as pnum's erase-counter header.
	WriteECHeader(ctx context.Context, pnum int32, ec uint64) error

	// ReadVIDHeaders reads however many VID headers pnum's slot count
	// allows (1, or N for a consolidated PEB) and classifies the result.
	ReadVIDHeaders(ctx context.Context, pnum int32) ([]VIDHeader, VIDReadResult, error)

	// WriteVIDHeaders writes len(vids) contiguous VID headers to pnum.
	WriteVIDHeaders(ctx context.Context, pnum int32, vids []VIDHeader) error

	// MarkBad marks pnum permanently bad at the flash-transport level.
	MarkBad(ctx context.Context, pnum int32) error

	// PEBSize reports the total size in bytes of one physical eraseblock,
	// a fixed flash-geometry property every collaborator call above is
	// relative to.
	PEBSize() int
}

// Fastmap is the narrow interaction surface spec.md §6 grants the WL core
// into the (out-of-scope) Fastmap subsystem: init contributes reserved
// PEBs, close/update are notified at the corresponding lifecycle points.
// A nil Fastmap disables the anchor-PEB path and the "ask fastmap to
// rewrite" branch of BitflipCheck, falling back to ordinary scrubbing.
type Fastmap interface {
	Init(ctx context.Context) (reservedPEBs int, err error)
	Close(ctx context.Context) error
	Update(ctx context.Context) error

	// Owns reports whether pnum is part of the fastmap's own on-flash
	// index rather than ordinary LEB data.
	Owns(pnum int32) bool

	// RequestRewrite asks fastmap to rewrite its index away from pnum, in
	// lieu of scrubbing (spec.md §4.9).
	RequestRewrite(ctx context.Context, pnum int32) error
}

// EBAResult mirrors eba.copy_leb/copy_lebs's result taxonomy (spec.md §6,
// §4.4).
type EBAResult int

const (
	EBAOK EBAResult = iota
	EBACancelRace
	EBARetry
	EBATargetBitflips
	EBATargetWrErr
	EBATargetRdErr
	EBASourceRdErr
)

func (r EBAResult) String() string {
	switch r {
	case EBAOK:
		return "ok"
	case EBACancelRace:
		return "cancel_race"
	case EBARetry:
		return "retry"
	case EBATargetBitflips:
		return "target_bitflips"
	case EBATargetWrErr:
		return "target_wr_err"
	case EBATargetRdErr:
		return "target_rd_err"
	case EBASourceRdErr:
		return "source_rd_err"
	default:
		return "unknown"
	}
}

// LockResult mirrors eba.leb_write_trylock's {LOCKED, BUSY, ERR} result.
type LockResult int

const (
	LockAcquired LockResult = iota
	LockContended
	LockError
)

// EBA is the eraseblock-association collaborator (spec.md §6). It owns the
// LEB->PEB map and volume metadata; out of scope for this spec beyond its
// call shape.
type EBA interface {
	// CopyLEB moves a single LEB's data from src to dst, writing vid as
	// dst's VID header.
	CopyLEB(ctx context.Context, src, dst int32, vid VIDHeader) (EBAResult, error)

	// CopyLEBs moves N LEBs packed on a consolidated src PEB to dst in one
	// operation, writing len(vids) contiguous VID headers.
	CopyLEBs(ctx context.Context, src, dst int32, vids []VIDHeader) (EBAResult, error)

	// LEBWriteTryLock attempts a non-blocking write lock on (volID, lnum),
	// used by consolidation to exclude concurrent writers (spec.md §4.10).
	LEBWriteTryLock(ctx context.Context, volID, lnum int32) (LockResult, error)

	// LEBWriteUnlock releases a lock taken by LEBWriteTryLock.
	LEBWriteUnlock(ctx context.Context, volID, lnum int32) error

	// SetMapping installs eba_tbl[lnum] = pnum for volID.
	SetMapping(ctx context.Context, volID, lnum, pnum int32) error

	// InvalidateMapping tells EBA the previous mapping for (volID, lnum) is
	// gone (its old PEB slot should be treated as unmapped).
	InvalidateMapping(ctx context.Context, volID, lnum int32) error

	// Lookup returns the current PEB backing (volID, lnum).
	Lookup(ctx context.Context, volID, lnum int32) (pnum int32, ok bool, err error)
}

// Volume is the subset of volume metadata the WL/consolidation paths need
// (spec.md §6: "Volume exposes eba_tbl[lnum], vol_type, used_ebs, data_pad").
type Volume struct {
	VolID   int32
	VolType VolType
	UsedEBs uint32
	DataPad uint32

	// DataSize is a dynamic volume's data size for a given lnum. When it is
	// nil, consolidation derives the size from the PEB size, LebsPerCPEB
	// and DataPad. Static volumes take data_size from the source VID header
	// and ignore this field (spec.md §4.10 step 3).
	DataSize func(lnum int32) uint32
}

// Volumes resolves volume metadata by ID (spec.md §6: "volumes.get(vol_id)
// -> Option<Volume>").
type Volumes interface {
	Get(ctx context.Context, volID int32) (Volume, bool, error)
}

// SeqNumGen issues the monotonically increasing sequence numbers stamped
// into VID headers on every copy/consolidation (spec.md §6: "seq.next_sqnum
// -> u64").
type SeqNumGen interface {
	Next() uint64
}
