package wl

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Location tags where a PEB entry currently lives. Exactly one location tag
// is true for any live PEB at any quiescent point (spec.md §3, §9 --
// "container_of-style embedded nodes" re-architected as a tagged enum
// instead of intrusive rb-tree/list nodes).
type Location uint8

const (
	LocFree Location = iota
	LocUsed
	LocScrub
	LocErroneous
	LocProtQueue
	LocMoveFrom
	LocMoveTo
	LocErasePending
	LocBad
)

//go:generate stringer -type=Location
func (l Location) String() string {
	switch l {
	case LocFree:
		return "free"
	case LocUsed:
		return "used"
	case LocScrub:
		return "scrub"
	case LocErroneous:
		return "erroneous"
	case LocProtQueue:
		return "protqueue"
	case LocMoveFrom:
		return "move_from"
	case LocMoveTo:
		return "move_to"
	case LocErasePending:
		return "erase_pending"
	case LocBad:
		return "bad"
	default:
		return "unknown"
	}
}

// PEBEntry is a single physical eraseblock record.
//
// Exactly one owner holds a PEBEntry at any moment: one of the four ordered
// sets, the protection queue, the move-from/move-to slot, or a pending erase
// work item. Loc records which; ProtSlot is only meaningful when
// Loc == LocProtQueue.
type PEBEntry struct {
	Pnum int32
	EC   uint64

	// RC is the optional read counter (spec.md §3). Observational only; it
	// never drives policy decisions, matching the original's ifdef-gated
	// field generalized to an always-present, non-policy-affecting counter.
	RC uint64

	Loc      Location
	ProtSlot int

	// Torture requests the write-pattern/erase torture cycle (§4.5, §4.9)
	// the next time this entry is erased.
	Torture bool
}

// key returns the (ec, pnum) ordering key used by the four ordered sets.
func (p *PEBEntry) key() orderedKey {
	return orderedKey{ec: p.EC, pnum: p.Pnum}
}

// Config holds the engine constants from spec.md §6.
type Config struct {
	// Threshold is the EC spread (max(free.ec) - min(used.ec)) that
	// triggers normal wear-leveling. Default 4096.
	Threshold uint64

	// ProtQueueLen is the number of slots in the protection queue ring.
	// Default 10.
	ProtQueueLen int

	// ReservedPEBs is the free-pool headroom external GetPEB callers may
	// not dip into, so consolidation always has room to allocate a target.
	ReservedPEBs int

	// MaxEC is the fatal erase-counter ceiling (2^31-1 for 32-bit counters).
	MaxEC uint64

	// MaxErroneous bounds erroneous_peb_count before a source read error
	// becomes fatal.
	MaxErroneous int

	// WorkMaxFailures is the number of consecutive work failures that
	// forces read-only mode. Default 32.
	WorkMaxFailures int

	// LebsPerCPEB is N, the number of LEBs packed into one consolidated
	// PEB. 1 disables consolidation entirely (consolidated map stays
	// absent everywhere, per invariant).
	LebsPerCPEB int

	// ConsolidationThreshold overrides the default
	// (avail_pebs+rsvd_pebs)/3 floored at LebsPerCPEB when > 0.
	ConsolidationThreshold int

	// AnchorLo/AnchorHi bound the fastmap anchor pnum range (inclusive).
	// AnchorHi < AnchorLo disables the anchor path entirely.
	AnchorLo int32
	AnchorHi int32
}

// FreeMaxDiff is FREE_MAX_DIFF = 2*Threshold (spec.md §4.4).
func (c Config) FreeMaxDiff() uint64 { return 2 * c.Threshold }

// DefaultConfig returns the constants named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		Threshold:              4096,
		ProtQueueLen:           10,
		ReservedPEBs:           8,
		MaxEC:                  (1 << 31) - 1,
		MaxErroneous:           4,
		WorkMaxFailures:        32,
		LebsPerCPEB:            1,
		ConsolidationThreshold: 0,
		AnchorLo:               -1,
		AnchorHi:               -1,
	}
}

func (c Config) hasAnchor() bool { return c.AnchorLo >= 0 && c.AnchorHi >= c.AnchorLo }

// Validate rejects configurations that would make the invariants in
// spec.md §3 unsatisfiable.
func (c Config) Validate() error {
	if c.ProtQueueLen <= 0 {
		return wrapConfig("prot_queue_len must be > 0")
	}

	if c.MaxEC == 0 {
		return wrapConfig("max_ec must be > 0")
	}

	if c.LebsPerCPEB < 1 {
		return wrapConfig("lebs_per_cpeb must be >= 1")
	}

	if c.MaxErroneous < 0 {
		return wrapConfig("max_erroneous must be >= 0")
	}

	if c.WorkMaxFailures <= 0 {
		return wrapConfig("work_max_failures must be > 0")
	}

	return nil
}

func wrapConfig(msg string) error {
	return &configError{msg: msg}
}

type configError struct{ msg string }

func (e *configError) Error() string { return "ubi: invalid config: " + e.msg }
func (e *configError) Unwrap() error { return ErrInvalidConfig }

// cpebSlot is one descriptor inside a consolidated PEB's N-slot array
// (spec.md §3 "Consolidated Map"). VolID < 0 marks a dead slot.
type cpebSlot struct {
	VolID int32
	Lnum  int32
}

func (s cpebSlot) live() bool { return s.VolID >= 0 }

// fullKey identifies a full LEB candidate for consolidation.
type fullKey struct {
	VolID int32
	Lnum  int32
}

// Core is the WL engine. Create one with NewCore, populate it via Attach,
// and tear it down with Close.
//
// Locking architecture (spec.md §5):
//  1. mu ("WL lock") -- ordered sets, protection queue, move state,
//     wlScheduled, counters, lookup table. Short critical sections only,
//     never held across I/O.
//  2. fullMu -- the full-LEB FIFO and its count.
//  3. consoLock -- the "mark slots then decide" compound operation in
//     InvalidateLEB.
//  4. moveMutex -- held across an entire move's I/O; put_peb callers that
//     find their PEB equals move_from block on this.
//  5. bufMutex -- serializes consolidation's read-and-write phase; moves
//     do not take it.
//
// Lock ordering: mu -> moveMutex is never nested (moveMutex is taken with
// mu dropped). fullMu and consoLock may be taken while mu is held (Attach,
// commitMove, EnsureConsolidate's trigger check); mu is never taken while
// either of them is held.
type Core struct {
	mu sync.Mutex

	lookup map[int32]*PEBEntry
	free   *orderedSet
	used   *orderedSet
	scrub  *orderedSet
	erroneous *orderedSet
	prot   *protQueue

	moveFrom    *PEBEntry
	moveTo      *PEBEntry
	moveToPut   bool
	wlScheduled bool

	// freeCount/erroneousPEBCount are NOT stored independently: spec.md §3
	// requires free_count == |free| and erroneous_peb_count == |erroneous|
	// as an invariant that must hold at every quiescent point. Deriving
	// them live from the ordered sets' lengths (see registry.go's
	// FreeCount/ErroneousCount) makes the invariant true by construction
	// instead of something that can drift out of sync.
	availPEBs    int
	rsvdPEBs     int
	bebRsvdPEBs  int
	badPEBCount  int
	goodPEBCount int
	maxEC        uint64

	fullMu sync.Mutex
	full   *fullLEBSet

	consoLock    sync.Mutex
	consolidated map[int32][]cpebSlot

	moveMutex sync.Mutex
	bufMutex  sync.Mutex

	roMode atomic.Bool
	roErr  atomic.Pointer[error]

	cfg     Config
	io      IO
	eba     EBA
	vols    Volumes
	seq     SeqNumGen
	fastmap Fastmap

	wq  *workEngine
	log zerolog.Logger
}
