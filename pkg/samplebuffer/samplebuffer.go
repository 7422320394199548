// Package samplebuffer provides the circular byte buffer that decouples the
// decode pipeline (producer) from the audio device callback (consumer).
//
// Unlike a plain SPSC ring, the buffer keeps consumed bytes around so the
// consumer can Rewind over recent audio, and it tags the write cursor with
// the stream time of the most recent block so the renderer can estimate the
// device playback position.
//
// Thread safety: a single mutex guards every cursor update. Critical
// sections are short copies with no allocation or blocking waits, so the
// lock is effectively uncontended and safe to take from the audio callback.
package samplebuffer

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// WriteTagUnset is the WriteTag value before any block has been written
// and after Clear.
const WriteTagUnset = time.Duration(math.MinInt64)

// SampleBuffer is a fixed-capacity circular buffer of PCM bytes.
type SampleBuffer struct {
	mu sync.Mutex

	data       []byte
	readIndex  int
	writeIndex int
	readable   int   // bytes between read and write cursors
	rewindable int   // consumed bytes behind the read cursor still intact
	totalRead  int64 // lifetime bytes delivered through Read
	writeTag   time.Duration
}

// New creates a buffer holding capacity bytes. Capacity must be positive.
func New(capacity int) *SampleBuffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("samplebuffer: invalid capacity %d", capacity))
	}
	return &SampleBuffer{
		data:     make([]byte, capacity),
		writeTag: WriteTagUnset,
	}
}

// Write appends data to the buffer and tags the write cursor with startTime.
//
// When rejectStale is true, blocks whose startTime is not strictly greater
// than the current WriteTag are dropped without touching the buffer; this is
// the only ordering contract the buffer provides (blocks arrive in
// non-decreasing stream time).
//
// A write that exceeds the free space overwrites the oldest bytes: rewind
// history first, then unread bytes. Returns true if the data was written.
func (b *SampleBuffer) Write(data []byte, startTime time.Duration, rejectStale bool) bool {
	n := len(data)
	if n == 0 {
		return false
	}
	if n > len(b.data) {
		panic(fmt.Sprintf("samplebuffer: write of %d bytes exceeds capacity %d", n, len(b.data)))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if rejectStale && b.writeTag != WriteTagUnset && startTime <= b.writeTag {
		return false
	}

	// Make room: a wrapping write destroys rewind history before it ever
	// touches unread bytes.
	free := len(b.data) - b.readable - b.rewindable
	if n > free {
		over := n - free
		drop := min(over, b.rewindable)
		b.rewindable -= drop
		over -= drop
		if over > 0 {
			b.readIndex = (b.readIndex + over) % len(b.data)
			b.readable -= over
		}
	}

	first := min(n, len(b.data)-b.writeIndex)
	copy(b.data[b.writeIndex:], data[:first])
	copy(b.data, data[first:])
	b.writeIndex = (b.writeIndex + n) % len(b.data)
	b.readable += n
	b.writeTag = startTime
	return true
}

// Read copies exactly len(dst) bytes from the read cursor into dst and
// advances the cursor. Requesting more than ReadableCount is a programming
// error and panics.
func (b *SampleBuffer) Read(dst []byte) {
	n := len(dst)
	if n == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.readable {
		panic(fmt.Sprintf("samplebuffer: read of %d bytes exceeds readable %d", n, b.readable))
	}

	first := min(n, len(b.data)-b.readIndex)
	copy(dst[:first], b.data[b.readIndex:])
	copy(dst[first:], b.data)
	b.advanceLocked(n)
	b.totalRead += int64(n)
}

// Skip advances the read cursor by n bytes without copying. Used to discard
// audio that is audibly behind the reference clock. Panics when n exceeds
// ReadableCount.
func (b *SampleBuffer) Skip(n int) {
	if n <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.readable {
		panic(fmt.Sprintf("samplebuffer: skip of %d bytes exceeds readable %d", n, b.readable))
	}
	b.advanceLocked(n)
}

// advanceLocked moves the read cursor forward, converting the traversed
// bytes into rewind history.
func (b *SampleBuffer) advanceLocked(n int) {
	b.readIndex = (b.readIndex + n) % len(b.data)
	b.readable -= n
	b.rewindable = min(b.rewindable+n, len(b.data)-b.readable)
}

// Rewind moves the read cursor back by up to n bytes so recent audio is
// delivered again. The move is bounded by RewindableCount; the number of
// bytes actually rewound is returned.
func (b *SampleBuffer) Rewind(n int) int {
	if n <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m := min(n, b.rewindable)
	b.readIndex = (b.readIndex - m + len(b.data)) % len(b.data)
	b.readable += m
	b.rewindable -= m
	return m
}

// Clear resets both cursors and the write tag. Used on seek and stop.
func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readIndex = 0
	b.writeIndex = 0
	b.readable = 0
	b.rewindable = 0
	b.totalRead = 0
	b.writeTag = WriteTagUnset
}

// ReadableCount returns the bytes available between the read and write
// cursors.
func (b *SampleBuffer) ReadableCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readable
}

// RewindableCount returns how many consumed bytes behind the read cursor
// have not yet been overwritten.
func (b *SampleBuffer) RewindableCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rewindable
}

// Capacity returns the buffer's fixed size in bytes.
func (b *SampleBuffer) Capacity() int {
	return len(b.data)
}

// CapacityPercent returns ReadableCount/Capacity, the producer's
// backpressure signal.
func (b *SampleBuffer) CapacityPercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.readable) / float64(len(b.data))
}

// WriteTag returns the StartTime of the most recently written block, or
// WriteTagUnset before any write.
func (b *SampleBuffer) WriteTag() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeTag
}

// TotalReadBytes returns the lifetime byte count delivered through Read.
// The renderer falls back to this for position estimation while WriteTag
// is unset.
func (b *SampleBuffer) TotalReadBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalRead
}
