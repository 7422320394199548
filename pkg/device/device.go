// Package device abstracts the platform's callback-driven audio output. A
// sink owns the native output handle and pulls samples from an io.Reader
// (the renderer) whenever the device needs a buffer refilled.
//
// There is deliberately no Pause at this layer: the renderer emits silence
// while paused, which sounds identical and keeps the device hot so resuming
// is instantaneous.
package device

import (
	"time"

	"github.com/drgolem/audiorender/pkg/types"
)

// Sink is the audio output device abstraction.
type Sink interface {
	// Start opens the output stream and begins pulling samples.
	Start() error

	// Stop halts pulling without releasing the device.
	Stop() error

	// Close stops the sink and releases the native handle. Idempotent.
	Close() error
}

// bufferCount is the number of alternating device buffers; the pull cadence
// is DesiredLatency / bufferCount.
const bufferCount = 3

// framesForLatency derives the per-callback frame count from the desired
// output latency and the number of alternating buffers.
func framesForLatency(format types.WaveFormat, latency time.Duration) int {
	if latency <= 0 {
		latency = 100 * time.Millisecond
	}
	frames := format.SampleRate * int(latency/time.Millisecond) / (1000 * bufferCount)
	if frames < 64 {
		frames = 64
	}
	return frames
}
