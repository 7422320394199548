// Package renderer implements the real-time audio rendering engine: it pulls
// decoded PCM from a circular sample buffer inside the audio device's
// callback, keeps playback synchronized to a reference clock that may run at
// a different speed than real time, and applies pitch-preserving speed
// adjustment plus volume, balance and mute.
//
// The pull path (Read) executes on the device driver's callback thread. It
// never blocks on anything unbounded and never lets a fault escape: every
// failure mode degrades to silence.
package renderer

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/audiorender/pkg/samplebuffer"
	"github.com/drgolem/audiorender/pkg/types"
)

const (
	// defaultDesiredLatency matches a typical low-latency device setup.
	defaultDesiredLatency = 100 * time.Millisecond

	// defaultBlockCountHint sizes the sample buffer when the decode
	// pipeline gives no capacity hint. Capacity is
	// latencyBytes * hint / 2: roughly half a block queue's worth.
	defaultBlockCountHint = 16

	// syncThresholdDivisor derives the sync dead zone from the desired
	// latency (5%).
	syncThresholdDivisor = 20
)

// Config holds renderer construction parameters.
type Config struct {
	// Format is the PCM layout of the incoming blocks. Must be 16-bit
	// 2-channel; anything else fails construction.
	Format types.WaveFormat

	// Clock is the reference the renderer synchronizes against. Required.
	Clock types.ReferenceClock

	// SyncToClock enables skip/rewind/wait corrections. Leave false for
	// audio-only streams, where the audio itself is the master clock.
	SyncToClock bool

	// DesiredLatency is the device-reported output latency.
	DesiredLatency time.Duration

	// BlockCountHint is the decode pipeline's block queue capacity, used
	// to size the sample buffer.
	BlockCountHint int

	// Logger receives sync-correction and fault events.
	Logger *slog.Logger
}

// Renderer is the audio synchronization and DSP engine. It is an io.Reader
// whose Read always fills the requested bytes with samples, DSP output, or
// silence.
type Renderer struct {
	format         types.WaveFormat
	buffer         *samplebuffer.SampleBuffer
	clock          types.ReferenceClock
	syncToClock    bool
	desiredLatency time.Duration
	syncThreshold  time.Duration
	logger         *slog.Logger

	playing atomic.Bool
	muted   atomic.Bool
	// Per-channel gain factors derived from volume and balance, stored as
	// float bits so the callback reads them without taking a lock.
	leftVolume  atomic.Uint64
	rightVolume atomic.Uint64

	mu      sync.Mutex // guards the user-facing volume/balance values
	volume  float64
	balance float64

	// readBuf is the DSP source scratch buffer. Only the callback thread
	// touches it.
	readBuf []byte

	droppedBlocks atomic.Uint64
}

// New creates a renderer for the given format. An unsupported format is a
// construction-time failure; it is the only non-recoverable error in the
// engine.
func New(cfg Config) (*Renderer, error) {
	if err := cfg.Format.ValidateEngineFormat(); err != nil {
		return nil, err
	}
	if cfg.DesiredLatency <= 0 {
		cfg.DesiredLatency = defaultDesiredLatency
	}
	if cfg.BlockCountHint <= 0 {
		cfg.BlockCountHint = defaultBlockCountHint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	capacity := cfg.Format.DurationToByteCount(cfg.DesiredLatency) * cfg.BlockCountHint / 2

	r := &Renderer{
		format:         cfg.Format,
		buffer:         samplebuffer.New(capacity),
		clock:          cfg.Clock,
		syncToClock:    cfg.SyncToClock,
		desiredLatency: cfg.DesiredLatency,
		syncThreshold:  cfg.DesiredLatency / syncThresholdDivisor,
		logger:         cfg.Logger,
	}
	r.setVolumes(1.0, 0.0)
	return r, nil
}

// Render copies a decoded PCM block into the sample buffer. Blocks whose
// StartTime is not strictly greater than the current write tag are silently
// dropped; that is the buffer's whole ordering contract.
func (r *Renderer) Render(block types.Block) {
	if len(block.Data) == 0 {
		return
	}
	if !r.buffer.Write(block.Data, block.StartTime, true) {
		r.droppedBlocks.Add(1)
	}
}

// Play enables sample delivery from the pull callback.
func (r *Renderer) Play() { r.playing.Store(true) }

// Pause stops delivering samples; the callback renders silence while the
// device keeps running, so resuming is instantaneous.
func (r *Renderer) Pause() { r.playing.Store(false) }

// Stop pauses delivery and discards all buffered audio.
func (r *Renderer) Stop() {
	r.playing.Store(false)
	r.buffer.Clear()
}

// Seek discards buffered audio so stale samples are never rendered after a
// position change. The producer re-fills the buffer from the new position.
func (r *Renderer) Seek() { r.buffer.Clear() }

// Close is equivalent to Stop; the renderer owns no native resources.
func (r *Renderer) Close() { r.Stop() }

// IsPlaying reports whether the callback is delivering samples.
func (r *Renderer) IsPlaying() bool { return r.playing.Load() }

// Position estimates the stream time of audio currently leaving the device:
// the write tag minus the duration still waiting in the buffer. Before the
// first write it falls back to the total bytes consumed so far.
func (r *Renderer) Position() time.Duration {
	tag := r.buffer.WriteTag()
	if tag == samplebuffer.WriteTagUnset {
		return r.format.ByteCountToDuration(int(r.buffer.TotalReadBytes()))
	}
	return tag - r.format.ByteCountToDuration(r.buffer.ReadableCount())
}

// Latency is the signed offset between the reference clock and the audio
// position. Positive means audio is lagging the clock.
func (r *Renderer) Latency() time.Duration {
	return r.clock.Position() - r.Position()
}

// DesiredLatency returns the configured device latency.
func (r *Renderer) DesiredLatency() time.Duration { return r.desiredLatency }

// SyncThreshold returns the dead-zone width for sync corrections.
func (r *Renderer) SyncThreshold() time.Duration { return r.syncThreshold }

// Format returns the renderer's PCM layout.
func (r *Renderer) Format() types.WaveFormat { return r.format }

// CapacityPercent is the producer's backpressure signal; stop pushing blocks
// once it reaches 0.8.
func (r *Renderer) CapacityPercent() float64 { return r.buffer.CapacityPercent() }

// BufferedBytes returns the bytes waiting between the read and write cursors.
func (r *Renderer) BufferedBytes() int { return r.buffer.ReadableCount() }

// DroppedBlocks returns how many out-of-order blocks were discarded.
func (r *Renderer) DroppedBlocks() uint64 { return r.droppedBlocks.Load() }

// SetVolume sets the linear output gain, clamped to [0,1].
func (r *Renderer) SetVolume(volume float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setVolumes(clamp(volume, 0, 1), r.balance)
}

// SetBalance shifts output between channels, clamped to [-1,1]:
// -1 silences the right channel, +1 the left.
func (r *Renderer) SetBalance(balance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setVolumes(r.volume, clamp(balance, -1, 1))
}

// setVolumes recomputes the per-channel gain factors. Callers other than
// New hold r.mu.
func (r *Renderer) setVolumes(volume, balance float64) {
	r.volume = volume
	r.balance = balance
	left, right := volume, volume
	if balance > 0 {
		left = volume * (1 - balance)
	} else if balance < 0 {
		right = volume * (1 + balance)
	}
	r.leftVolume.Store(math.Float64bits(left))
	r.rightVolume.Store(math.Float64bits(right))
}

// Volume returns the current gain.
func (r *Renderer) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

// Balance returns the current channel balance.
func (r *Renderer) Balance() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance
}

// SetMuted zeroes all output samples without changing volume or balance.
func (r *Renderer) SetMuted(muted bool) { r.muted.Store(muted) }

// IsMuted reports the mute state.
func (r *Renderer) IsMuted() bool { return r.muted.Load() }

// Read is the pull callback: it fills p with exactly len(p) bytes of audio,
// DSP-adjusted audio, or silence, and never returns an error or lets a
// fault propagate back into the audio driver.
func (r *Renderer) Read(p []byte) (n int, err error) {
	requested := len(p)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("audio render fault, emitting silence",
				"error", rec,
				"requested_bytes", requested)
			fillSilence(p)
			n, err = requested, nil
		}
	}()

	speed := r.clock.SpeedRatio()
	if !r.playing.Load() || speed <= 0 || r.buffer.ReadableCount() <= 0 {
		fillSilence(p)
		return requested, nil
	}

	if r.syncToClock && !r.synchronize(requested) {
		fillSilence(p)
		return requested, nil
	}

	switch {
	case speed == 1.0:
		r.readDirect(p)
	case speed < 1.0:
		r.readAndStretch(p, speed)
	default:
		r.readAndShrink(p, speed)
	}

	r.applyVolumeAndBalance(p)
	return requested, nil
}

// synchronize reconciles the audio position with the reference clock before
// a read. It returns false when the callback must render silence for the
// whole request so the clock can catch up.
func (r *Renderer) synchronize(requested int) bool {
	latency := r.Latency()

	// Audio renders too late: drop just enough buffered audio to catch up.
	if latency > r.syncThreshold/2 {
		skip := min(r.format.DurationToByteCount(latency), r.buffer.ReadableCount())
		skip -= skip % r.format.BlockAlign()
		if skip > 0 {
			r.buffer.Skip(skip)
			r.logger.Debug("audio sync: skipped ahead",
				"latency", latency,
				"skipped_bytes", skip)
		}
		return true
	}

	// Audio renders too early: rewind over recent audio when enough
	// history exists and the drift is more than one request's worth;
	// otherwise hold silence until the clock catches up.
	if latency < -2*r.syncThreshold {
		rewind := r.format.DurationToByteCount(-latency)
		if rewind > requested && rewind <= r.buffer.RewindableCount() {
			r.buffer.Rewind(rewind)
			r.logger.Debug("audio sync: rewound",
				"latency", latency,
				"rewound_bytes", rewind)
			return true
		}
		r.logger.Debug("audio sync: waiting for clock",
			"latency", latency,
			"requested_bytes", requested)
		return false
	}

	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func fillSilence(p []byte) {
	clear(p)
}
