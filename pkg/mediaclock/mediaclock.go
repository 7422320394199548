// Package mediaclock implements the reference wall clock audio rendering is
// synchronized against. The clock can pause, seek, and run faster or slower
// than real time through a speed ratio.
package mediaclock

import (
	"sync"
	"time"
)

// Clock is a pausable stream-position clock. While running, Position
// advances at SpeedRatio times real time.
type Clock struct {
	mu         sync.Mutex
	offset     time.Duration // position accumulated up to startedAt
	startedAt  time.Time
	speedRatio float64
	running    bool
}

// New returns a stopped clock at position zero with SpeedRatio 1.0.
func New() *Clock {
	return &Clock{speedRatio: 1.0}
}

// Position returns the clock's current stream position.
func (c *Clock) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Clock) positionLocked() time.Duration {
	if !c.running {
		return c.offset
	}
	return c.offset + time.Duration(float64(time.Since(c.startedAt))*c.speedRatio)
}

// SpeedRatio returns the current playback speed.
func (c *Clock) SpeedRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speedRatio
}

// SetSpeedRatio changes the playback speed. Position accumulated so far is
// folded into the offset so the clock never jumps.
func (c *Clock) SetSpeedRatio(ratio float64) {
	if ratio <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = c.positionLocked()
	c.startedAt = time.Now()
	c.speedRatio = ratio
}

// Play starts or resumes the clock.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.startedAt = time.Now()
	c.running = true
}

// Pause freezes the clock at its current position.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.offset = c.positionLocked()
	c.running = false
}

// Seek moves the clock to the given position, preserving the running state.
func (c *Clock) Seek(position time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = position
	c.startedAt = time.Now()
}

// Reset pauses the clock and returns it to position zero.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
	c.running = false
}

// IsRunning reports whether the clock is advancing.
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
