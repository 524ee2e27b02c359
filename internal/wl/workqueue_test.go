package wl

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestWorkEngine_Close_Drains_Pending_Works_With_The_Close_Error(t *testing.T) {
	t.Parallel()

	e := newWorkEngine(32, nil, zerolog.Nop())

	// Suspend before scheduling so the worker goroutine never pops any of
	// these off the queue; close must drain them itself.
	e.suspend()

	const n = 5

	works := make([]*work, n)

	for i := range works {
		w := newWork(WorkKindErase, int32(i), func(ctx context.Context, shutdown bool) error {
			if !shutdown {
				t.Errorf("work ran with shutdown=false; close should never do that for drained work")
			}

			return nil
		})
		works[i] = w

		if err := e.schedule(w); err != nil {
			t.Fatalf("schedule() returned %v before close", err)
		}
	}

	e.close(ErrShutdown)
	<-e.Done()

	for i, w := range works {
		if err := w.wait(); err != ErrShutdown { //nolint:errorlint // close stamps the sentinel directly, no wrapping.
			t.Errorf("work[%d].wait() = %v, want ErrShutdown", i, err)
		}
	}

	e.mu.Lock()
	queueLen := len(e.queue)
	e.mu.Unlock()

	if queueLen != 0 {
		t.Errorf("queue len after close = %d, want 0 (no leaked work)", queueLen)
	}
}

func TestWorkEngine_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	e := newWorkEngine(32, nil, zerolog.Nop())

	e.close(ErrShutdown)
	<-e.Done()

	// A second close must not panic or block, and must not replace the
	// first close's error.
	e.close(errNoWLWork)

	e.mu.Lock()
	got := e.closeErr
	e.mu.Unlock()

	if got != ErrShutdown { //nolint:errorlint
		t.Errorf("closeErr after second close = %v, want ErrShutdown from the first", got)
	}
}

func TestWorkEngine_Schedule_After_Close_Is_Rejected(t *testing.T) {
	t.Parallel()

	e := newWorkEngine(32, nil, zerolog.Nop())
	e.close(ErrShutdown)
	<-e.Done()

	w := newWork(WorkKindErase, 0, func(ctx context.Context, shutdown bool) error { return nil })

	if err := e.schedule(w); err == nil {
		t.Fatalf("schedule() after close returned nil error, want errEngineClosed")
	}
}

func TestWorkEngine_Fatal_Failure_Threshold_Closes_The_Engine(t *testing.T) {
	t.Parallel()

	var gotFatal error

	e := newWorkEngine(3, func(err error) { gotFatal = err }, zerolog.Nop())

	failWith := errNoWLWork

	for i := 0; i < 3; i++ {
		w := newWork(WorkKindErase, int32(i), func(ctx context.Context, shutdown bool) error {
			return failWith
		})

		if err := e.scheduleSync(w); err != failWith { //nolint:errorlint
			t.Fatalf("scheduleSync() = %v, want %v", err, failWith)
		}
	}

	<-e.Done()

	if gotFatal != failWith { //nolint:errorlint
		t.Errorf("onFatalFailure called with %v, want %v", gotFatal, failWith)
	}
}
