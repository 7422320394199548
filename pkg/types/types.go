package types

import (
	"errors"
	"fmt"
	"time"
)

// Engine PCM format constants. The rendering engine operates on a fixed
// sample layout: interleaved little-endian signed 16-bit, two channels.
// Only the sample rate is configurable.
const (
	EngineBitsPerSample = 16
	EngineChannels      = 2
)

// Common errors shared across the rendering packages.
var (
	// ErrUnsupportedFormat indicates a wave format the engine cannot render.
	ErrUnsupportedFormat = errors.New("engine requires 16-bit 2-channel interleaved PCM")

	// ErrDecoderClosed indicates an operation on a closed decoder.
	ErrDecoderClosed = errors.New("decoder is closed")
)

// WaveFormat describes a PCM stream layout.
type WaveFormat struct {
	SampleRate    int // Sample rate in Hz (e.g. 44100, 48000)
	Channels      int // Number of channels (1=mono, 2=stereo)
	BitsPerSample int // Bit depth (8, 16, 24, or 32)
}

// DefaultWaveFormat returns the engine's default output format.
func DefaultWaveFormat() WaveFormat {
	return WaveFormat{
		SampleRate:    48000,
		Channels:      EngineChannels,
		BitsPerSample: EngineBitsPerSample,
	}
}

// ValidateEngineFormat reports whether the format can be rendered by the
// engine. Anything other than 16-bit 2-channel PCM is a construction-time
// failure for the renderer and the device sink.
func (f WaveFormat) ValidateEngineFormat() error {
	if f.BitsPerSample != EngineBitsPerSample || f.Channels != EngineChannels {
		return fmt.Errorf("%w: got %d-bit %d-channel", ErrUnsupportedFormat, f.BitsPerSample, f.Channels)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	return nil
}

// BytesPerSample returns the byte width of a single sample on one channel.
func (f WaveFormat) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// BlockAlign returns the byte size of one interleaved sample block
// (one sample per channel).
func (f WaveFormat) BlockAlign() int {
	return f.Channels * f.BytesPerSample()
}

// BytesPerSecond returns the average byte rate of the stream.
func (f WaveFormat) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// ByteCountToDuration converts a byte count into stream time.
func (f WaveFormat) ByteCountToDuration(count int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(count) / float64(bps) * float64(time.Second))
}

// DurationToByteCount converts stream time into a byte count, snapped down
// to a whole sample block so the result never splits a sample.
func (f WaveFormat) DurationToByteCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	count := int(d.Seconds() * float64(f.BytesPerSecond()))
	return count - count%f.BlockAlign()
}

// Block is one immutable unit of decoded audio: raw PCM bytes in the engine
// format plus the stream time at which the first sample plays. Blocks are
// produced by the decode pipeline and copied into the renderer's sample
// buffer; the producer may reuse Data after Render returns.
type Block struct {
	Data      []byte
	StartTime time.Duration
}

// Duration returns the play time covered by the block in the given format.
func (b Block) Duration(f WaveFormat) time.Duration {
	return f.ByteCountToDuration(len(b.Data))
}

// ReferenceClock is the master clock audio is kept in sync with. It may run
// at a different speed than real time; SpeedRatio is read on every pull so
// speed changes take effect within one device buffer.
type ReferenceClock interface {
	// Position returns the clock's current stream position.
	Position() time.Duration

	// SpeedRatio returns the playback speed (1.0 = normal, >0).
	SpeedRatio() float64
}

// AudioDecoder is the common interface for the file decoders feeding the
// demo pipeline. Decoders stream interleaved little-endian 16-bit PCM at
// their native sample rate and channel count.
type AudioDecoder interface {
	// Open opens an audio file for decoding.
	Open(fileName string) error

	// Close closes the decoder and releases resources.
	Close() error

	// Format returns the decoded stream's sample rate and channel count.
	// Output is always 16-bit regardless of the source bit depth.
	Format() (sampleRate, channels int)

	// ReadPCM fills p with decoded 16-bit LE interleaved samples and
	// returns the number of bytes read. Returns io.EOF at end of stream.
	ReadPCM(p []byte) (int, error)
}
