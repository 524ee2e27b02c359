package wl

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// WorkFunc is the body of a unit of work run by the Work Engine. shutdown
// is true when the engine is draining under Close, in which case the work
// should release whatever PEB entry it owns and return promptly rather than
// attempt real I/O.
type WorkFunc func(ctx context.Context, shutdown bool) error

// WorkKind labels a work item for logging.
type WorkKind int

const (
	WorkKindErase WorkKind = iota
	WorkKindWL
	WorkKindConsolidate
)

func (k WorkKind) String() string {
	switch k {
	case WorkKindErase:
		return "erase"
	case WorkKindWL:
		return "wl"
	case WorkKindConsolidate:
		return "consolidate"
	default:
		return "unknown"
	}
}

// work is a single queued unit of work. Works are reference-counted: each
// outstanding synchronous waiter (scheduleSync/joinOne callers) holds a
// reference while it waits; the engine drops its own reference
// after signaling completion. The last drop releases resources referenced
// by the closure (spec.md §4.3's "cyclic ownership" note, re-architected so
// the Work Engine is the sole owner and callers only ever see a completion
// handle).
type work struct {
	id   uuid.UUID
	kind WorkKind
	pnum int32

	fn WorkFunc

	refs atomic.Int32

	mu        sync.Mutex
	cond      *sync.Cond
	completed bool
	err       error
}

func newWork(kind WorkKind, pnum int32, fn WorkFunc) *work {
	w := &work{kind: kind, pnum: pnum, fn: fn, id: uuid.Must(uuid.NewV7())}
	w.cond = sync.NewCond(&w.mu)
	w.refs.Store(1) // the engine's own reference

	return w
}

// addRef is called by schedule-time waiters before handing the work to the
// engine, so the work outlives the engine's own reference until the waiter
// has observed completion.
func (w *work) addRef() { w.refs.Add(1) }

// release drops a reference. The work's resources are only reachable
// through the closure captured in fn; once the last reference drops there
// are no more observers and the GC reclaims it normally (no manual pooling
// needed at this scale).
func (w *work) release() { w.refs.Add(-1) }

// run executes fn and records the result, waking any waiters.
func (w *work) run(ctx context.Context, shutdown bool) error {
	err := w.fn(ctx, shutdown)

	w.mu.Lock()
	w.completed = true
	w.err = err
	w.cond.Broadcast()
	w.mu.Unlock()

	return err
}

// wait blocks until the work completes and returns its result.
func (w *work) wait() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for !w.completed {
		w.cond.Wait()
	}

	return w.err
}

// isDone reports completion without blocking.
func (w *work) isDone() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.completed
}
