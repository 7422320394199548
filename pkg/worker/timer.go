package worker

import "time"

// TimerMode selects the wait strategy driving a worker's period.
type TimerMode int

const (
	// TimerCoarse sleeps in ~15ms steps, matching the resolution of a
	// coarse system timer. Cheap, adequate for decode/property loops.
	TimerCoarse TimerMode = iota

	// TimerHighResolution arms a single fine-grained timer for the whole
	// remaining period. Use for render loops that need tight cadence.
	TimerHighResolution
)

func (m TimerMode) String() string {
	if m == TimerHighResolution {
		return "highres"
	}
	return "coarse"
}

// IntervalTimer is the wait strategy behind a worker's periodic loop.
// Wait blocks for d or until interrupt fires, whichever comes first.
// Callers only observe which strategy is active through Resolution.
type IntervalTimer interface {
	Wait(d time.Duration, interrupt <-chan struct{})
	Resolution() time.Duration
}

const coarseStep = 15 * time.Millisecond

// coarseTimer loops in coarseStep increments, re-checking the interrupt
// channel between steps.
type coarseTimer struct{}

func (coarseTimer) Resolution() time.Duration { return coarseStep }

func (coarseTimer) Wait(d time.Duration, interrupt <-chan struct{}) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		step := coarseStep
		if remaining < step {
			step = remaining
		}
		t := time.NewTimer(step)
		select {
		case <-interrupt:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// highResTimer arms one timer for the full duration. Go runtime timers are
// sub-millisecond on the platforms this targets, so a single arm is both
// the most precise and the cheapest strategy.
type highResTimer struct{}

func (highResTimer) Resolution() time.Duration { return time.Millisecond }

func (highResTimer) Wait(d time.Duration, interrupt <-chan struct{}) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	select {
	case <-interrupt:
		t.Stop()
	case <-t.C:
	}
}

func newTimer(mode TimerMode) IntervalTimer {
	if mode == TimerHighResolution {
		return highResTimer{}
	}
	return coarseTimer{}
}
