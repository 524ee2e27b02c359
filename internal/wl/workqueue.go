package wl

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// workEngine is the single-consumer work queue from spec.md §4.3: one
// background worker drains a FIFO fed by concurrent producers. Every
// mutation of queue/current/suspended/closed happens under mu; the worker
// never holds mu while running a work's body.
type workEngine struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue     []*work
	current   *work
	lastAdded *work

	suspended bool
	closed    bool
	closeErr  error

	consecutiveFailures int
	maxFailures         int

	onFatalFailure func(error)
	log            zerolog.Logger

	done chan struct{}
}

func newWorkEngine(maxFailures int, onFatalFailure func(error), log zerolog.Logger) *workEngine {
	e := &workEngine{
		maxFailures:    maxFailures,
		onFatalFailure: onFatalFailure,
		log:            log,
		done:           make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.loop()

	return e
}

// errEngineClosed reports that schedule was attempted after close.
var errEngineClosed = wrapShutdown("work engine closed")

func wrapShutdown(msg string) error { return &engineClosedError{msg: msg} }

type engineClosedError struct{ msg string }

func (e *engineClosedError) Error() string { return "ubi: " + e.msg }
func (e *engineClosedError) Unwrap() error { return ErrShutdown }

// schedule appends w to the queue and wakes the worker. Returns
// errEngineClosed if the engine has already been closed.
func (e *workEngine) schedule(w *work) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errEngineClosed
	}

	e.queue = append(e.queue, w)
	e.lastAdded = w
	e.cond.Broadcast()

	return nil
}

// scheduleSync schedules w and blocks until it completes, returning its
// result.
func (e *workEngine) scheduleSync(w *work) error {
	w.addRef()
	defer w.release()

	if err := e.schedule(w); err != nil {
		return err
	}

	return w.wait()
}

// joinOne blocks on the currently running work, or the queue head if
// nothing is running yet, and reports whether it completed without error.
// Used by PEB producers waiting for the free pool to refill.
func (e *workEngine) joinOne() bool {
	e.mu.Lock()

	var target *work

	if e.current != nil {
		target = e.current
	} else if len(e.queue) > 0 {
		target = e.queue[0]
	}

	if target != nil {
		target.addRef()
	}

	e.mu.Unlock()

	if target == nil {
		return false
	}

	defer target.release()

	return target.wait() == nil
}

// flush blocks until the last-submitted work (as of the call) completes.
func (e *workEngine) flush() {
	e.mu.Lock()
	target := e.lastAdded
	e.mu.Unlock()

	if target == nil {
		return
	}

	target.wait() //nolint:errcheck // flush only cares about completion, not outcome
}

// suspend cooperatively pauses worker consumption and waits for any
// in-flight work to finish, giving callers a consistent snapshot point
// (spec.md §4.9's bitflip_check uses this).
func (e *workEngine) suspend() {
	e.mu.Lock()
	e.suspended = true

	for e.current != nil {
		e.cond.Wait()
	}

	e.mu.Unlock()
}

// resume un-pauses the worker.
func (e *workEngine) resume() {
	e.mu.Lock()
	e.suspended = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// close drains all pending works with shutdown=true, attaches closeErr as
// each one's result, and wakes every waiter. Idempotent: a second call is a
// no-op. The currently running work (if any) is allowed to finish on its
// own terms first; it is not forcibly cancelled.
func (e *workEngine) close(closeErr error) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	e.closed = true
	e.closeErr = closeErr
	pending := e.queue
	e.queue = nil
	e.suspended = false
	e.cond.Broadcast()
	e.mu.Unlock()

	ctx := context.Background()

	for _, w := range pending {
		func() {
			defer w.release()

			_ = w.fn(ctx, true)

			w.mu.Lock()
			w.completed = true
			w.err = closeErr
			w.cond.Broadcast()
			w.mu.Unlock()
		}()
	}
}

// Done returns a channel closed once the worker goroutine has exited after
// Close. Callers that merely want close's draining guarantees don't need
// this; it exists for tests and graceful-shutdown callers that want to know
// the goroutine is gone.
func (e *workEngine) Done() <-chan struct{} { return e.done }

// loop is the single consumer. It sleeps while the queue is empty or the
// engine is suspended, otherwise pops the head and executes it outside any
// lock.
func (e *workEngine) loop() {
	defer close(e.done)

	for {
		e.mu.Lock()

		for !e.closed && (len(e.queue) == 0 || e.suspended) {
			e.cond.Wait()
		}

		if e.closed {
			e.mu.Unlock()

			return
		}

		w := e.queue[0]
		e.queue = e.queue[1:]
		e.current = w
		e.mu.Unlock()

		err := w.run(context.Background(), false)
		w.release()

		e.mu.Lock()
		e.current = nil

		if err != nil {
			e.consecutiveFailures++

			e.log.Warn().Str("work_id", w.id.String()).Str("kind", w.kind.String()).
				Int32("pnum", w.pnum).Err(err).Int("consecutive_failures", e.consecutiveFailures).
				Msg("work.fail")

			if e.consecutiveFailures >= e.maxFailures {
				fatal := e.onFatalFailure
				e.mu.Unlock()

				if fatal != nil {
					fatal(err)
				}

				e.close(ErrReadOnly)

				return
			}
		} else {
			e.consecutiveFailures = 0
		}

		e.cond.Broadcast()
		e.mu.Unlock()
	}
}
