package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/drgolem/audiorender/pkg/types"
	"github.com/drgolem/audiorender/pkg/worker"
)

// HeadlessSink emulates a callback-driven output device in software: a
// high-resolution worker pulls one device buffer's worth of samples per
// period and writes it to an optional capture writer. Useful for tests and
// machines without audio hardware.
type HeadlessSink struct {
	source  io.Reader
	capture io.Writer
	format  types.WaveFormat
	pull    *worker.Worker
	buf     []byte

	mu     sync.Mutex
	closed bool
}

// HeadlessConfig holds headless sink parameters.
type HeadlessConfig struct {
	Format         types.WaveFormat
	DesiredLatency time.Duration

	// Capture receives everything the sink pulls. Nil discards.
	Capture io.Writer
}

// NewHeadless creates a software output device.
func NewHeadless(cfg HeadlessConfig, source io.Reader) (*HeadlessSink, error) {
	if err := cfg.Format.ValidateEngineFormat(); err != nil {
		return nil, err
	}
	if cfg.DesiredLatency <= 0 {
		cfg.DesiredLatency = 100 * time.Millisecond
	}

	frames := framesForLatency(cfg.Format, cfg.DesiredLatency)
	s := &HeadlessSink{
		source:  source,
		capture: cfg.Capture,
		format:  cfg.Format,
		buf:     make([]byte, frames*cfg.Format.BlockAlign()),
	}
	s.pull = worker.New(worker.Config{
		Name:   "headless-audio-pull",
		Period: cfg.DesiredLatency / bufferCount,
		Mode:   worker.TimerHighResolution,
	}, s.pullCycle)
	return s, nil
}

// Start begins the pull loop.
func (s *HeadlessSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink is closed")
	}
	if st := s.pull.Start(); st != worker.StateRunning {
		return fmt.Errorf("pull worker in state %v", st)
	}
	return nil
}

// Stop pauses the pull loop without releasing it.
func (s *HeadlessSink) Stop() error {
	s.pull.Pause()
	return nil
}

// Close stops the loop permanently.
func (s *HeadlessSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pull.Close()
	return nil
}

func (s *HeadlessSink) pullCycle(ctx context.Context) {
	n, _ := s.source.Read(s.buf)
	if n < len(s.buf) {
		clear(s.buf[n:])
	}
	if s.capture != nil {
		s.capture.Write(s.buf)
	}
}
