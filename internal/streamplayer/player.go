// Package streamplayer wires the rendering engine end to end: a file
// decoder feeds a staging ring buffer, a producer worker stamps PCM blocks
// with stream time and pushes them into the renderer, and a device sink
// pulls the rendered audio. The media clock is the reference the renderer
// reads speed (and optionally sync position) from.
package streamplayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/ringbuffer"
	soxr "github.com/zaf/resample"

	"github.com/drgolem/audiorender/pkg/decoders"
	"github.com/drgolem/audiorender/pkg/device"
	"github.com/drgolem/audiorender/pkg/mediaclock"
	"github.com/drgolem/audiorender/pkg/renderer"
	"github.com/drgolem/audiorender/pkg/types"
	"github.com/drgolem/audiorender/pkg/worker"
)

const (
	// decodeChunkBytes is the read size of one decoder pull.
	decodeChunkBytes = 16 * 1024

	// produceChunkBytes bounds the block size handed to the renderer.
	produceChunkBytes = 8 * 1024

	// maxBufferFill is the renderer fill ratio at which the producer
	// stops pushing and waits for the callback to drain.
	maxBufferFill = 0.8

	// stagingWaitStep is the producer-side pause while the staging ring
	// is full.
	stagingWaitStep = 5 * time.Millisecond
)

var errPlayerStopped = errors.New("player stopped")

// Config holds player configuration.
type Config struct {
	DeviceIndex     int           // PortAudio output device index
	FramesPerBuffer int           // PortAudio frames per callback, 0 = derive from latency
	SampleRate      int           // Output rate in Hz, 0 = follow the source file
	DesiredLatency  time.Duration // Target buffered audio depth
	StagingSize     uint64        // Staging ring size in bytes
	TimerMode       worker.TimerMode
	SyncToClock     bool      // Enable latency corrections against the media clock
	Headless        bool      // Use the timer-driven sink instead of PortAudio
	Capture         io.Writer // Optional destination for headless output
	Logger          *slog.Logger
}

// DefaultConfig returns default player configuration.
func DefaultConfig() Config {
	return Config{
		DeviceIndex:    1,
		DesiredLatency: 100 * time.Millisecond,
		StagingSize:    256 * 1024,
		TimerMode:      worker.TimerCoarse,
	}
}

// Status is a point-in-time snapshot of the playback pipeline.
type Status struct {
	FileName      string
	SampleRate    int
	Channels      int
	Position      time.Duration // Renderer position (stream time of the speaker)
	ClockPosition time.Duration // Media clock position
	Latency       time.Duration
	BufferPercent float64
	DroppedBlocks uint64
	Speed         float64
	Elapsed       time.Duration
}

// Player plays an audio file through the rendering engine.
type Player struct {
	cfg Config
	log *slog.Logger

	decoder     types.AudioDecoder
	srcRate     int
	srcChannels int
	fileName    string

	format    types.WaveFormat
	staging   *ringbuffer.RingBuffer
	resampler *soxr.Resampler
	rend      *renderer.Renderer
	clock     *mediaclock.Clock
	producer  *worker.Worker
	sink      device.Sink

	// streamPos is the stamped time of the next produced block, in
	// nanoseconds. Written by the producer cycle, read by Status.
	streamPos atomic.Int64

	produceBuf []byte
	stereoBuf  []byte

	stopChan   chan struct{}
	decodeDone chan struct{}
	doneChan   chan struct{}
	doneOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.Mutex
	started    bool
	stopped    bool
	startTime  time.Time
}

// New creates a player with the given configuration.
func New(cfg Config) *Player {
	def := DefaultConfig()
	if cfg.DesiredLatency <= 0 {
		cfg.DesiredLatency = def.DesiredLatency
	}
	if cfg.StagingSize == 0 {
		cfg.StagingSize = def.StagingSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		cfg: cfg,
		log: log,
	}
}

// OpenFile opens an audio file and builds the playback pipeline for its
// format. Supported formats: MP3 (.mp3), FLAC (.flac, .fla), WAV (.wav).
func (p *Player) OpenFile(fileName string) error {
	decoder, err := decoders.NewDecoder(fileName)
	if err != nil {
		return err
	}

	rate, channels := decoder.Format()
	if channels < 1 || channels > 2 {
		decoder.Close()
		return fmt.Errorf("unsupported channel count: %d", channels)
	}

	outRate := p.cfg.SampleRate
	if outRate == 0 {
		outRate = rate
	}

	format := types.WaveFormat{
		SampleRate:    outRate,
		Channels:      types.EngineChannels,
		BitsPerSample: types.EngineBitsPerSample,
	}

	clock := mediaclock.New()
	rend, err := renderer.New(renderer.Config{
		Format:         format,
		Clock:          clock,
		SyncToClock:    p.cfg.SyncToClock,
		DesiredLatency: p.cfg.DesiredLatency,
		Logger:         p.log,
	})
	if err != nil {
		decoder.Close()
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	sink, err := p.newSink(rend, format)
	if err != nil {
		decoder.Close()
		return err
	}

	p.decoder = decoder
	p.srcRate = rate
	p.srcChannels = channels
	p.fileName = filepath.Base(fileName)
	p.format = format
	p.staging = ringbuffer.New(p.cfg.StagingSize)
	p.rend = rend
	p.clock = clock
	p.sink = sink
	p.produceBuf = make([]byte, produceChunkBytes)
	p.stopChan = make(chan struct{})
	p.decodeDone = make(chan struct{})
	p.doneChan = make(chan struct{})

	if rate != outRate {
		resampler, err := soxr.New(
			stagingWriter{p},
			float64(rate),
			float64(outRate),
			types.EngineChannels,
			soxr.I16,
			soxr.HighQ,
		)
		if err != nil {
			sink.Close()
			decoder.Close()
			return fmt.Errorf("failed to create resampler: %w", err)
		}
		p.resampler = resampler
	}

	p.log.Info("Audio file opened",
		"file", p.fileName,
		"sample_rate", rate,
		"channels", channels,
		"output_rate", outRate)

	return nil
}

func (p *Player) newSink(rend *renderer.Renderer, format types.WaveFormat) (device.Sink, error) {
	if p.cfg.Headless {
		return device.NewHeadless(device.HeadlessConfig{
			Format:         format,
			DesiredLatency: p.cfg.DesiredLatency,
			Capture:        p.cfg.Capture,
		}, rend)
	}
	return device.NewPortAudio(device.PortAudioConfig{
		DeviceIndex:     p.cfg.DeviceIndex,
		Format:          format,
		DesiredLatency:  p.cfg.DesiredLatency,
		FramesPerBuffer: p.cfg.FramesPerBuffer,
	}, rend)
}

// Play starts playback. The decode goroutine, the producer worker and the
// device sink all start here; the media clock starts running.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.decoder == nil {
		return fmt.Errorf("no file opened")
	}
	if p.started {
		return fmt.Errorf("already playing")
	}
	p.started = true
	p.startTime = time.Now()

	p.producer = worker.New(worker.Config{
		Name: "block-producer",
		Mode: p.cfg.TimerMode,
	}, p.produceCycle)

	p.wg.Add(1)
	go p.decodeLoop()

	p.producer.Start()
	p.rend.Play()
	p.clock.Play()

	if err := p.sink.Start(); err != nil {
		return fmt.Errorf("failed to start device sink: %w", err)
	}

	p.log.Debug("Playback started")
	return nil
}

// Pause suspends playback. Buffered audio is kept; the sink keeps pulling
// and receives silence until Resume.
func (p *Player) Pause() {
	p.producer.Pause()
	p.rend.Pause()
	p.clock.Pause()
}

// Resume continues playback after Pause.
func (p *Player) Resume() {
	p.clock.Play()
	p.rend.Play()
	p.producer.Resume()
}

// Seek rebases the playback timeline: buffered audio is dropped and blocks
// produced from here on are stamped starting at position. The decoders do
// not reposition within the file; the audio stream continues where the
// decoder left off.
func (p *Player) Seek(position time.Duration) {
	p.rend.Seek()
	p.clock.Seek(position)
	p.streamPos.Store(int64(position))
}

// SetSpeed sets the playback speed ratio (1.0 = normal). Ratios <= 0 are
// ignored.
func (p *Player) SetSpeed(ratio float64) {
	p.clock.SetSpeedRatio(ratio)
}

// SetVolume sets the output volume (0..1).
func (p *Player) SetVolume(volume float64) { p.rend.SetVolume(volume) }

// SetBalance sets the stereo balance (-1..1).
func (p *Player) SetBalance(balance float64) { p.rend.SetBalance(balance) }

// SetMuted mutes or unmutes the output.
func (p *Player) SetMuted(muted bool) { p.rend.SetMuted(muted) }

// Wait blocks until the stream has been fully decoded, rendered and pulled
// by the sink, or until Stop is called.
func (p *Player) Wait() {
	<-p.doneChan
}

// Status returns a snapshot of the pipeline state.
func (p *Player) Status() Status {
	return Status{
		FileName:      p.fileName,
		SampleRate:    p.format.SampleRate,
		Channels:      p.format.Channels,
		Position:      p.rend.Position(),
		ClockPosition: p.clock.Position(),
		Latency:       p.rend.Latency(),
		BufferPercent: p.rend.CapacityPercent(),
		DroppedBlocks: p.rend.DroppedBlocks(),
		Speed:         p.clock.SpeedRatio(),
		Elapsed:       time.Since(p.startTime),
	}
}

// Stop halts playback and releases the stream. Safe to call multiple times.
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	if !started {
		p.signalDone()
		return nil
	}

	close(p.stopChan)
	p.wg.Wait()
	p.producer.Close()
	p.clock.Pause()
	p.rend.Stop()

	if err := p.sink.Close(); err != nil {
		p.log.Warn("Failed to close device sink", "error", err)
	}

	p.signalDone()
	p.log.Info("Playback stopped")
	return nil
}

// Close stops playback and closes the decoder.
func (p *Player) Close() error {
	err := p.Stop()

	if p.decoder != nil {
		if cerr := p.decoder.Close(); cerr != nil {
			p.log.Warn("Failed to close decoder", "error", cerr)
		}
		p.decoder = nil
	}
	if p.rend != nil {
		p.rend.Close()
	}
	return err
}

func (p *Player) signalDone() {
	p.doneOnce.Do(func() {
		if p.doneChan == nil {
			p.doneChan = make(chan struct{})
		}
		close(p.doneChan)
	})
}

// decodeLoop reads PCM from the decoder, widens mono to stereo, pushes it
// through the resampler when the rates differ, and lands everything in the
// staging ring in the engine format.
func (p *Player) decodeLoop() {
	defer p.wg.Done()
	defer close(p.decodeDone)

	chunk := make([]byte, decodeChunkBytes)

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		n, err := p.decoder.ReadPCM(chunk)
		if n > 0 {
			data := chunk[:n]
			if p.srcChannels == 1 {
				data = p.monoToStereo(data)
			}
			if werr := p.pushDecoded(data); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				p.log.Error("Decode failed", "error", err)
			}
			if p.resampler != nil {
				// Close flushes the resampler tail into the staging ring.
				if cerr := p.resampler.Close(); cerr != nil {
					p.log.Warn("Failed to flush resampler", "error", cerr)
				}
			}
			p.log.Debug("Decoding finished")
			return
		}
	}
}

func (p *Player) pushDecoded(data []byte) error {
	if p.resampler != nil {
		_, err := p.resampler.Write(data)
		return err
	}
	return p.writeStaging(data)
}

// writeStaging blocks until the staging ring has room, in small steps so
// Stop stays responsive.
func (p *Player) writeStaging(data []byte) error {
	for len(data) > 0 {
		avail := p.staging.AvailableWrite()
		if avail == 0 {
			select {
			case <-p.stopChan:
				return errPlayerStopped
			case <-time.After(stagingWaitStep):
			}
			continue
		}

		n := uint64(len(data))
		if n > avail {
			n = avail
		}
		written, err := p.staging.Write(data[:n])
		if err != nil {
			return err
		}
		data = data[written:]
	}
	return nil
}

// stagingWriter adapts the staging ring to io.Writer for the resampler.
type stagingWriter struct {
	p *Player
}

func (w stagingWriter) Write(b []byte) (int, error) {
	if err := w.p.writeStaging(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// monoToStereo duplicates each 16-bit sample onto both channels.
func (p *Player) monoToStereo(data []byte) []byte {
	need := len(data) * 2
	if cap(p.stereoBuf) < need {
		p.stereoBuf = make([]byte, need)
	}
	out := p.stereoBuf[:need]
	for i := 0; i+1 < len(data); i += 2 {
		out[2*i] = data[i]
		out[2*i+1] = data[i+1]
		out[2*i+2] = data[i]
		out[2*i+3] = data[i+1]
	}
	return out
}

// produceCycle drains the staging ring into the renderer, stamping each
// block with its stream start time. Runs on the producer worker; stops
// pushing once the renderer buffer is filled to maxBufferFill.
func (p *Player) produceCycle(ctx context.Context) {
	blockAlign := p.format.BlockAlign()

	for p.rend.CapacityPercent() < maxBufferFill {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := int(p.staging.AvailableRead())
		if n > len(p.produceBuf) {
			n = len(p.produceBuf)
		}
		n -= n % blockAlign
		if n == 0 {
			p.checkFinished()
			return
		}

		if _, err := p.staging.Read(p.produceBuf[:n]); err != nil {
			p.log.Warn("Staging read failed", "error", err)
			return
		}

		startTime := time.Duration(p.streamPos.Load())
		p.rend.Render(types.Block{
			Data:      p.produceBuf[:n],
			StartTime: startTime,
		})
		p.streamPos.Add(int64(p.format.ByteCountToDuration(n)))
	}
}

// checkFinished signals completion once the decoder is done and both the
// staging ring and the renderer buffer have drained.
func (p *Player) checkFinished() {
	select {
	case <-p.decodeDone:
	default:
		return
	}
	if p.staging.AvailableRead() == 0 && p.rend.BufferedBytes() == 0 {
		p.signalDone()
	}
}
