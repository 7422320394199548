package device

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/drgolem/audiorender/pkg/types"
)

// PortAudioConfig holds the parameters for opening an output stream.
type PortAudioConfig struct {
	DeviceIndex     int
	Format          types.WaveFormat
	DesiredLatency  time.Duration
	FramesPerBuffer int // derived from DesiredLatency when 0
}

// PortAudioSink renders a pull source through a callback-mode PortAudio
// stream. The callback runs on PortAudio's real-time thread and only copies
// whatever the source's Read produces; the source guarantees it never
// blocks or faults.
type PortAudioSink struct {
	stream          *portaudio.PaStream
	source          io.Reader
	format          types.WaveFormat
	framesPerBuffer int

	mu      sync.Mutex
	started bool
	closed  bool

	callbacks  atomic.Uint64
	underflows atomic.Uint64
}

// NewPortAudio creates a sink for the given source. An unsupported format
// fails here, at construction, before any native resource is acquired.
// portaudio.Initialize must have been called by the host.
func NewPortAudio(cfg PortAudioConfig, source io.Reader) (*PortAudioSink, error) {
	if err := cfg.Format.ValidateEngineFormat(); err != nil {
		return nil, err
	}

	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = framesForLatency(cfg.Format, cfg.DesiredLatency)
	}

	stream := &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  cfg.DeviceIndex,
			ChannelCount: cfg.Format.Channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(cfg.Format.SampleRate),
	}

	return &PortAudioSink{
		stream:          stream,
		source:          source,
		format:          cfg.Format,
		framesPerBuffer: frames,
	}, nil
}

// Start opens the callback stream and begins playback.
func (s *PortAudioSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink is closed")
	}
	if s.started {
		return nil
	}

	if err := s.stream.OpenCallback(s.framesPerBuffer, s.audioCallback); err != nil {
		return fmt.Errorf("failed to open callback stream: %w", err)
	}
	if err := s.stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	s.started = true

	slog.Info("audio device started",
		"sample_rate", s.format.SampleRate,
		"channels", s.format.Channels,
		"frames_per_buffer", s.framesPerBuffer)
	return nil
}

// Stop halts the stream; the device stays open for a later Start.
func (s *PortAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	if err := s.stream.StopStream(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

// Close stops the stream and releases the native handle.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.started {
		s.started = false
		if err := s.stream.StopStream(); err != nil {
			slog.Warn("failed to stop stream", "error", err)
		}
	}
	if err := s.stream.CloseCallback(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// Callbacks returns how many times the device has pulled samples.
func (s *PortAudioSink) Callbacks() uint64 { return s.callbacks.Load() }

// Underflows returns how often the device reported an output underflow.
func (s *PortAudioSink) Underflows() uint64 { return s.underflows.Load() }

// audioCallback runs on PortAudio's real-time thread: a single source.Read
// into the device buffer, nothing else.
func (s *PortAudioSink) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	s.callbacks.Add(1)
	if statusFlags&portaudio.OutputUnderflow != 0 {
		s.underflows.Add(1)
	}

	bytesNeeded := int(frameCount) * s.format.BlockAlign()
	n, _ := s.source.Read(output[:bytesNeeded])
	if n < bytesNeeded {
		clear(output[n:bytesNeeded])
	}
	return portaudio.Continue
}
