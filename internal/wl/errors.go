package wl

import "errors"

// Sentinel errors. Callers should use errors.Is.
var (
	// ErrReadOnly is returned by every side-effecting entry point once the
	// core has latched into read-only mode (§7 "Invariant violation").
	ErrReadOnly = errors.New("ubi: device is read-only")

	// ErrNoSpace is returned by GetPEB and by wear-leveling target
	// selection when the free pool has no PEB to hand out (for external
	// GetPEB callers: none beyond the ReservedPEBs headroom).
	ErrNoSpace = errors.New("ubi: no free space")

	// ErrNotFound is returned by operations that look up a PEB or LEB that
	// isn't where the caller expects it.
	ErrNotFound = errors.New("ubi: not found")

	// ErrPEBInProtection is returned by PutPEB for a PEB that is still
	// serving its protection-queue cycle.
	ErrPEBInProtection = errors.New("ubi: peb in protection queue")

	// ErrAlreadyScheduled marks EnsureWL no-ops; not user visible, used
	// internally for logging/testing hooks only.
	ErrAlreadyScheduled = errors.New("ubi: wl already scheduled")

	// ErrShutdown is the default close error used when Close is called
	// without an explicit cause.
	ErrShutdown = errors.New("ubi: shut down")

	// ErrMaxECOverflow is fatal: a PEB's erase counter would exceed MaxEC.
	ErrMaxECOverflow = errors.New("ubi: erase counter overflow")

	// ErrTooManyErroneous is fatal: erroneous_peb_count exceeded max_erroneous.
	ErrTooManyErroneous = errors.New("ubi: too many erroneous pebs")

	// ErrConsolidatedEraseRace is the assertion failure guarding the
	// Consolidation -> Erase handoff: schedulePEBErase refuses to enqueue,
	// and doErase refuses to execute, an erase of a PEB that still has live
	// consolidated slots.
	ErrConsolidatedEraseRace = errors.New("ubi: attempted to erase a live consolidated peb")

	// ErrBusy is returned when a consolidation cycle cannot gather
	// LebsPerCPEB uncontended full LEBs, and by ScrubPEB for a PEB in a
	// state it cannot scrub from.
	ErrBusy = errors.New("ubi: busy")

	// ErrVolumeGone names the case of a volume backing a full LEB vanishing
	// between being queued and being consolidated. No code path in this
	// package returns it: findConsolidableLEBs skips such a LEB instead.
	ErrVolumeGone = errors.New("ubi: volume no longer exists")

	// ErrInvalidConfig is wrapped by Config.Validate's error, and so by
	// NewCore's and wlconfig.Load's, on malformed engine configuration.
	ErrInvalidConfig = errors.New("ubi: invalid configuration")

	// ErrBitflipsDetected is returned (wrapped) by an IO implementation's
	// Read/RawRead when the underlying ECC corrected one or more bit-flips.
	// It is not a failure: the data returned alongside it is valid and
	// usable. Callers that care (BitflipCheck, the scrubbing path) check
	// for it with errors.Is; callers that don't can usually ignore it by
	// treating a non-nil data slice as success regardless.
	ErrBitflipsDetected = errors.New("ubi: bitflips corrected")

	// ErrMediaError is wrapped into the error an IO implementation returns
	// from SyncErase/Read/RawRead/RawWrite when the underlying flash
	// reports a permanent media fault (e.g. EIO), as opposed to a
	// transient condition (EINTR/ENOMEM/EAGAIN/EBUSY) that the caller
	// should simply retry. Only ErrMediaError drives PEB retirement; any
	// other error is treated as transient and left to the work engine's
	// consecutive-failure counter.
	ErrMediaError = errors.New("ubi: media error")
)
