// Package worker provides a cancellable, pausable periodic-execution
// primitive. A worker owns a period and runs user cycle logic once per
// period on a dedicated goroutine; transitions requested from other
// goroutines are applied by that loop, so cycle logic is never re-entered.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is a worker's lifecycle state.
type State int32

const (
	// StateCreated is the initial state; the loop has not started.
	StateCreated State = iota

	// StateRunning executes the cycle once per period.
	StateRunning

	// StatePaused keeps the loop alive without executing cycles.
	StatePaused

	// StateStopped is terminal; no transition leaves it.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CycleFunc is the user logic executed once per period while running.
// The context is cancelled when the cycle should wind down: at the end of
// the cycle's slot and whenever a state transition has been requested.
type CycleFunc func(ctx context.Context)

// closeTimeout bounds how long Close waits for the loop to observe Stopped.
const closeTimeout = 2 * time.Second

// Config holds worker construction parameters.
type Config struct {
	// Name identifies the worker in logs.
	Name string

	// Period is the interval between cycle executions. Mutable at runtime
	// through SetPeriod.
	Period time.Duration

	// Mode selects the wait strategy between cycles.
	Mode TimerMode

	// OnError handles values recovered from a panicking cycle. The loop
	// keeps running regardless. Defaults to a slog error record.
	OnError func(name string, recovered any)
}

type request struct {
	target  State
	applied chan State
}

// Worker runs cycle logic periodically under a four-state lifecycle:
// Created -> Running <-> Paused, with Stopped terminal.
type Worker struct {
	name    string
	cycle   CycleFunc
	timer   IntervalTimer
	onError func(name string, recovered any)
	period  atomic.Int64 // nanoseconds

	mu          sync.Mutex
	state       State
	closed      bool
	loopStarted bool
	cancelCycle context.CancelFunc

	requests  chan request
	interrupt chan struct{}
	done      chan struct{}
}

// New creates a worker in the Created state. The loop goroutine starts on
// the first successful Start.
func New(cfg Config, cycle CycleFunc) *Worker {
	w := &Worker{
		name:      cfg.Name,
		cycle:     cycle,
		timer:     newTimer(cfg.Mode),
		onError:   cfg.OnError,
		requests:  make(chan request, 4),
		interrupt: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if w.onError == nil {
		w.onError = func(name string, recovered any) {
			slog.Error("worker cycle panic", "worker", name, "error", recovered)
		}
	}
	period := cfg.Period
	if period <= 0 {
		period = coarseStep
	}
	w.period.Store(int64(period))
	return w
}

// Name returns the worker's log name.
func (w *Worker) Name() string { return w.name }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Period returns the current cycle interval.
func (w *Worker) Period() time.Duration {
	return time.Duration(w.period.Load())
}

// SetPeriod changes the cycle interval. An in-progress wait is cut short so
// the new period takes effect immediately.
func (w *Worker) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	w.period.Store(int64(d))
	w.wake()
}

// Resolution reports the active timer strategy's granularity.
func (w *Worker) Resolution() time.Duration {
	return w.timer.Resolution()
}

// Start moves a Created worker directly to Running, or requests Running
// from a Paused one and returns once the loop applies it. Any other state
// is a no-op returning the current state.
func (w *Worker) Start() State {
	w.mu.Lock()
	if !w.closed && w.state == StateCreated {
		w.state = StateRunning
		w.loopStarted = true
		w.mu.Unlock()
		go w.run()
		return StateRunning
	}
	w.mu.Unlock()
	return w.request(StateRunning, func(from State) bool { return from == StatePaused })
}

// Pause requests Paused from a Running worker.
func (w *Worker) Pause() State {
	return w.request(StatePaused, func(from State) bool { return from == StateRunning })
}

// Resume requests Running from a Paused worker.
func (w *Worker) Resume() State {
	return w.request(StateRunning, func(from State) bool { return from == StatePaused })
}

// Stop requests the terminal Stopped state from a Running or Paused worker.
func (w *Worker) Stop() State {
	return w.request(StateStopped, func(from State) bool {
		return from == StateRunning || from == StatePaused
	})
}

// request queues a transition for the loop and blocks until it is applied
// or the loop exits. Invalid transitions and requests on a closed worker
// return the current state without side effects.
func (w *Worker) request(target State, valid func(from State) bool) State {
	w.mu.Lock()
	if w.closed || !w.loopStarted || !valid(w.state) {
		cur := w.state
		w.mu.Unlock()
		return cur
	}
	w.mu.Unlock()

	req := request{target: target, applied: make(chan State, 1)}
	select {
	case w.requests <- req:
	case <-w.done:
		return w.State()
	}
	w.wake()

	select {
	case s := <-req.applied:
		return s
	case <-w.done:
		return w.State()
	}
}

// wake cuts short the loop's current wait and cancels an in-flight cycle so
// a requested state is observed within one period at most.
func (w *Worker) wake() {
	select {
	case w.interrupt <- struct{}{}:
	default:
	}
	w.mu.Lock()
	cancel := w.cancelCycle
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close idempotently drives the worker to Stopped, waiting up to
// closeTimeout for the loop to wind down before returning.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if !w.loopStarted {
		w.state = StateStopped
		close(w.done)
		w.mu.Unlock()
		return
	}
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	req := request{target: StateStopped, applied: make(chan State, 1)}
	select {
	case w.requests <- req:
		w.wake()
	case <-w.done:
		return
	}
	select {
	case <-w.done:
	case <-time.After(closeTimeout):
		slog.Warn("worker close timed out", "worker", w.name)
	}
}

// run is the execution loop. Single goroutine: applies pending transitions,
// executes the cycle while Running, then waits out the period.
func (w *Worker) run() {
	defer close(w.done)
	for {
		w.applyPending()
		w.mu.Lock()
		state := w.state
		w.mu.Unlock()

		if state == StateStopped {
			w.drainPending()
			return
		}
		if state == StateRunning {
			w.runCycle()
		}
		w.timer.Wait(w.Period(), w.interrupt)
	}
}

// applyPending applies queued transition requests. Requests that became
// invalid in the meantime (e.g. Pause raced with Stop) resolve to the
// current state.
func (w *Worker) applyPending() {
	for {
		select {
		case req := <-w.requests:
			w.mu.Lock()
			if transitionValid(w.state, req.target) {
				w.state = req.target
			}
			cur := w.state
			w.mu.Unlock()
			req.applied <- cur
		default:
			return
		}
	}
}

// drainPending resolves requests that arrived after the stop was applied.
func (w *Worker) drainPending() {
	for {
		select {
		case req := <-w.requests:
			req.applied <- StateStopped
		default:
			return
		}
	}
}

func transitionValid(from, to State) bool {
	switch from {
	case StateRunning:
		return to == StatePaused || to == StateStopped
	case StatePaused:
		return to == StateRunning || to == StateStopped
	default:
		return false
	}
}

// runCycle executes one cycle with a context that lives only for this
// cycle. Panics are recovered and delegated; they never stop the loop.
func (w *Worker) runCycle() {
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancelCycle = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cancelCycle = nil
		w.mu.Unlock()
		cancel()
		if r := recover(); r != nil {
			w.onError(w.name, r)
		}
	}()
	w.cycle(ctx)
}
