package renderer

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"testing"
	"time"

	"github.com/drgolem/audiorender/pkg/samplebuffer"
	"github.com/drgolem/audiorender/pkg/types"
)

// testFormat keeps byte math small: 32000 bytes/sec, 4-byte block align.
var testFormat = types.WaveFormat{SampleRate: 8000, Channels: 2, BitsPerSample: 16}

type fakeClock struct {
	pos   time.Duration
	speed float64
}

func (c *fakeClock) Position() time.Duration { return c.pos }
func (c *fakeClock) SpeedRatio() float64     { return c.speed }

type panickyClock struct{}

func (panickyClock) Position() time.Duration { panic("clock fault") }
func (panickyClock) SpeedRatio() float64     { return 1.0 }

// newTestRenderer builds a renderer with an 8192-byte sample buffer
// (128ms latency * 4 block hint / 2) and a 6.4ms sync threshold.
func newTestRenderer(t *testing.T, clock types.ReferenceClock, syncToClock bool) *Renderer {
	t.Helper()
	r, err := New(Config{
		Format:         testFormat,
		Clock:          clock,
		SyncToClock:    syncToClock,
		DesiredLatency: 128 * time.Millisecond,
		BlockCountHint: 4,
		Logger:         slog.Default(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// pcmBlocks builds interleaved 16-bit LE stereo data where block i carries
// left sample left(i) and right sample right(i).
func pcmBlocks(n int, left, right func(i int) int16) []byte {
	p := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(p[i*4:], uint16(left(i)))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(right(i)))
	}
	return p
}

func sampleAt(p []byte, block int) (left, right int16) {
	left = int16(binary.LittleEndian.Uint16(p[block*4:]))
	right = int16(binary.LittleEndian.Uint16(p[block*4+2:]))
	return
}

func TestNewRejectsUnsupportedFormat(t *testing.T) {
	cases := []types.WaveFormat{
		{SampleRate: 44100, Channels: 1, BitsPerSample: 16},
		{SampleRate: 44100, Channels: 2, BitsPerSample: 24},
		{SampleRate: 0, Channels: 2, BitsPerSample: 16},
	}
	for _, f := range cases {
		if _, err := New(Config{Format: f, Clock: &fakeClock{speed: 1}}); err == nil {
			t.Errorf("New(%+v): expected error", f)
		}
	}
}

func TestEndToEndPassthrough(t *testing.T) {
	clock := &fakeClock{speed: 1.0}
	r := newTestRenderer(t, clock, false)

	src := pcmBlocks(1024, func(i int) int16 { return int16(i) }, func(i int) int16 { return int16(-i) })
	r.Render(types.Block{Data: src, StartTime: 0}) // 4096 bytes
	r.Play()

	out := make([]byte, 2048)
	n, err := r.Read(out)
	if err != nil || n != 2048 {
		t.Fatalf("Read: got (%d, %v), want (2048, nil)", n, err)
	}
	if !bytes.Equal(out, src[:2048]) {
		t.Fatal("output does not match the first 2048 source bytes")
	}
	if got := r.BufferedBytes(); got != 2048 {
		t.Fatalf("BufferedBytes: got %d, want 2048", got)
	}
}

func TestUnderrunEmitsSilence(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.Play()

	out := make([]byte, 1024)
	for i := range out {
		out[i] = 0xFF
	}
	n, err := r.Read(out)
	if err != nil || n != 1024 {
		t.Fatalf("Read: got (%d, %v), want (1024, nil)", n, err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d: got %#x, want 0", i, b)
		}
	}
}

func TestNotPlayingEmitsSilence(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.Render(types.Block{Data: pcmBlocks(256, func(i int) int16 { return 1 }, func(i int) int16 { return 1 }), StartTime: 0})

	out := make([]byte, 64)
	out[0] = 0xFF
	r.Read(out)
	if out[0] != 0 {
		t.Fatal("expected silence while not playing")
	}
	if got := r.BufferedBytes(); got != 1024 {
		t.Fatalf("buffer was consumed while not playing: %d", got)
	}
}

func TestStretchRoundTrip(t *testing.T) {
	clock := &fakeClock{speed: 0.5}
	r := newTestRenderer(t, clock, false)

	const srcBlocks = 512 // 2048 bytes readable
	src := pcmBlocks(srcBlocks, func(i int) int16 { return int16(i) }, func(i int) int16 { return int16(i + 1000) })
	r.Render(types.Block{Data: src, StartTime: 0})
	r.Play()

	const requested = 2048 // wants 1024 source bytes = 256 blocks
	out := make([]byte, requested)
	r.Read(out)

	if got := r.BufferedBytes(); got != 1024 {
		t.Fatalf("consumed source: got %d remaining, want 1024", got)
	}

	// Every source block must appear exactly twice, in order, no gaps.
	for ob := 0; ob < requested/4; ob++ {
		wantBlock := ob / 2
		gotL, gotR := sampleAt(out, ob)
		if gotL != int16(wantBlock) || gotR != int16(wantBlock+1000) {
			t.Fatalf("output block %d: got (%d,%d), want (%d,%d)",
				ob, gotL, gotR, wantBlock, wantBlock+1000)
		}
	}
}

func TestShrinkRoundTrip(t *testing.T) {
	clock := &fakeClock{speed: 2.0}
	r := newTestRenderer(t, clock, false)

	const srcBlocks = 1024 // 4096 bytes readable
	src := pcmBlocks(srcBlocks,
		func(i int) int16 { return int16(i * 2) },      // pairs average to 2i+1
		func(i int) int16 { return int16(-(i * 2)) })
	r.Render(types.Block{Data: src, StartTime: 0})
	r.Play()

	const requested = 2048 // consumes 4096 source bytes
	out := make([]byte, requested)
	r.Read(out)

	if got := r.BufferedBytes(); got != 0 {
		t.Fatalf("consumed source: got %d remaining, want 0", got)
	}

	for ob := 0; ob < requested/4; ob++ {
		// Average of source blocks 2ob and 2ob+1 per channel.
		wantL := int16((ob*2*2 + (ob*2+1)*2) / 2)
		wantR := -wantL
		gotL, gotR := sampleAt(out, ob)
		if gotL != wantL || gotR != wantR {
			t.Fatalf("output block %d: got (%d,%d), want (%d,%d)", ob, gotL, gotR, wantL, wantR)
		}
	}
}

func TestShrinkUnderrunClearsBuffer(t *testing.T) {
	clock := &fakeClock{speed: 2.0}
	r := newTestRenderer(t, clock, false)

	r.Render(types.Block{Data: pcmBlocks(256, func(i int) int16 { return 7 }, func(i int) int16 { return 7 }), StartTime: 0})
	r.Play()

	out := make([]byte, 2048) // needs 4096, only 1024 readable
	out[0] = 0xFF
	r.Read(out)

	if out[0] != 0 {
		t.Fatal("expected silence on shrink underrun")
	}
	if got := r.BufferedBytes(); got != 0 {
		t.Fatalf("buffer not cleared on shrink underrun: %d bytes left", got)
	}
}

func TestMuteForcesSilence(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.Render(types.Block{Data: pcmBlocks(512, func(i int) int16 { return 12345 }, func(i int) int16 { return -12345 }), StartTime: 0})
	r.Play()
	r.SetVolume(1.0)
	r.SetMuted(true)

	out := make([]byte, 1024)
	r.Read(out)
	for i, b := range out {
		if b != 0 {
			t.Fatalf("muted output byte %d: got %#x", i, b)
		}
	}

	// Unmuting at unity gain reproduces source samples exactly.
	r.SetMuted(false)
	r.Read(out)
	for ob := 0; ob < len(out)/4; ob++ {
		l, rr := sampleAt(out, ob)
		if l != 12345 || rr != -12345 {
			t.Fatalf("block %d after unmute: got (%d,%d)", ob, l, rr)
		}
	}
}

func TestVolumeScalesSamples(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.Render(types.Block{Data: pcmBlocks(512, func(i int) int16 { return 1000 }, func(i int) int16 { return -2000 }), StartTime: 0})
	r.Play()
	r.SetVolume(0.5)

	out := make([]byte, 256)
	r.Read(out)
	l, rr := sampleAt(out, 0)
	if l != 500 || rr != -1000 {
		t.Fatalf("half volume: got (%d,%d), want (500,-1000)", l, rr)
	}
}

func TestBalanceSymmetry(t *testing.T) {
	cases := []struct {
		name    string
		balance float64
		wantL   int16
		wantR   int16
	}{
		{"full right", 1.0, 0, 1000},
		{"full left", -1.0, 1000, 0},
		{"centered", 0.0, 1000, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
			r.Render(types.Block{Data: pcmBlocks(512, func(i int) int16 { return 1000 }, func(i int) int16 { return 1000 }), StartTime: 0})
			r.Play()
			r.SetVolume(1.0)
			r.SetBalance(tc.balance)

			out := make([]byte, 256)
			r.Read(out)
			l, rr := sampleAt(out, 0)
			if l != tc.wantL || rr != tc.wantR {
				t.Fatalf("balance %.1f: got (%d,%d), want (%d,%d)", tc.balance, l, rr, tc.wantL, tc.wantR)
			}
		})
	}
}

func TestVolumeAndBalanceClamped(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.SetVolume(3.0)
	if got := r.Volume(); got != 1.0 {
		t.Fatalf("Volume: got %f, want 1.0", got)
	}
	r.SetBalance(-7)
	if got := r.Balance(); got != -1.0 {
		t.Fatalf("Balance: got %f, want -1.0", got)
	}
}

// Sync tests use one block of 4096 bytes written at StartTime 128ms, i.e.
// the block covers [128ms, 256ms) and Position starts at 0.

func TestSyncDeadZoneReadsNormally(t *testing.T) {
	clock := &fakeClock{speed: 1.0}
	r := newTestRenderer(t, clock, true)

	src := pcmBlocks(1024, func(i int) int16 { return int16(i) }, func(i int) int16 { return int16(i) })
	r.Render(types.Block{Data: src, StartTime: 128 * time.Millisecond})
	r.Play()

	// Latency 2ms: inside the +-threshold/2 (3.2ms) dead zone.
	clock.pos = 2 * time.Millisecond

	out := make([]byte, 512)
	r.Read(out)
	if !bytes.Equal(out, src[:512]) {
		t.Fatal("dead zone read was corrected; want plain passthrough")
	}
}

func TestSyncSkipsWhenLagging(t *testing.T) {
	clock := &fakeClock{speed: 1.0}
	r := newTestRenderer(t, clock, true)

	src := pcmBlocks(1024, func(i int) int16 { return int16(i) }, func(i int) int16 { return int16(i) })
	r.Render(types.Block{Data: src, StartTime: 128 * time.Millisecond})
	r.Play()

	// Latency 10ms -> skip 320 bytes (10ms at 32000 B/s) before reading.
	clock.pos = 10 * time.Millisecond

	out := make([]byte, 512)
	r.Read(out)
	if !bytes.Equal(out, src[320:832]) {
		t.Fatal("expected read to start 320 bytes into the stream after skip")
	}
}

func TestSyncWaitsWhenAheadWithoutHistory(t *testing.T) {
	clock := &fakeClock{speed: 1.0}
	r := newTestRenderer(t, clock, true)

	r.Render(types.Block{Data: pcmBlocks(1024, func(i int) int16 { return 99 }, func(i int) int16 { return 99 }), StartTime: 128 * time.Millisecond})
	r.Play()

	// Latency -20ms, beyond -2x threshold (-12.8ms); no rewind history.
	clock.pos = -20 * time.Millisecond

	out := make([]byte, 512)
	out[0] = 0xFF
	r.Read(out)
	if out[0] != 0 {
		t.Fatal("expected silence while waiting for the clock")
	}
	if got := r.BufferedBytes(); got != 4096 {
		t.Fatalf("buffer consumed while waiting: %d readable", got)
	}
}

func TestSyncRewindsWhenAheadWithHistory(t *testing.T) {
	clock := &fakeClock{speed: 1.0}
	r := newTestRenderer(t, clock, true)

	src := pcmBlocks(1024, func(i int) int16 { return int16(i) }, func(i int) int16 { return int16(i) })
	r.Render(types.Block{Data: src, StartTime: 128 * time.Millisecond})
	r.Play()

	// Consume 1024 bytes in the dead zone to build rewind history.
	clock.pos = 0
	first := make([]byte, 1024)
	r.Read(first)

	// Position is now 32ms. Latency -25ms needs an 800-byte rewind:
	// more than the 512 requested, within the 1024 rewindable.
	clock.pos = 7 * time.Millisecond

	out := make([]byte, 512)
	r.Read(out)
	if !bytes.Equal(out, src[224:736]) {
		t.Fatal("expected rewound read to re-deliver bytes from offset 224")
	}
}

func TestStaleBlocksDropped(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.Render(types.Block{Data: pcmBlocks(64, func(i int) int16 { return 1 }, func(i int) int16 { return 1 }), StartTime: 40 * time.Millisecond})
	r.Render(types.Block{Data: pcmBlocks(64, func(i int) int16 { return 2 }, func(i int) int16 { return 2 }), StartTime: 40 * time.Millisecond})
	r.Render(types.Block{Data: pcmBlocks(64, func(i int) int16 { return 3 }, func(i int) int16 { return 3 }), StartTime: 20 * time.Millisecond})

	if got := r.BufferedBytes(); got != 256 {
		t.Fatalf("BufferedBytes: got %d, want 256", got)
	}
	if got := r.DroppedBlocks(); got != 2 {
		t.Fatalf("DroppedBlocks: got %d, want 2", got)
	}
}

func TestPositionFallsBackToConsumedBytes(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	if got := r.Position(); got != 0 {
		t.Fatalf("Position before writes: got %v, want 0", got)
	}
	// After a write, position derives from the write tag.
	r.Render(types.Block{Data: pcmBlocks(1024, func(i int) int16 { return 0 }, func(i int) int16 { return 0 }), StartTime: 128 * time.Millisecond})
	if got := r.Position(); got != 0 {
		t.Fatalf("Position: got %v, want 0 (128ms tag - 128ms pending)", got)
	}
}

func TestSeekClearsBuffer(t *testing.T) {
	r := newTestRenderer(t, &fakeClock{speed: 1.0}, false)
	r.Render(types.Block{Data: pcmBlocks(256, func(i int) int16 { return 5 }, func(i int) int16 { return 5 }), StartTime: 0})
	r.Seek()
	if got := r.BufferedBytes(); got != 0 {
		t.Fatalf("BufferedBytes after seek: got %d, want 0", got)
	}
}

func TestCallbackFaultDegradesToSilence(t *testing.T) {
	r, err := New(Config{
		Format:      testFormat,
		Clock:       panickyClock{},
		SyncToClock: true,
		Logger:      slog.Default(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Render(types.Block{Data: pcmBlocks(512, func(i int) int16 { return 1 }, func(i int) int16 { return 1 }), StartTime: 0})
	r.Play()

	out := make([]byte, 256)
	out[0] = 0xFF
	n, readErr := r.Read(out)
	if readErr != nil || n != 256 {
		t.Fatalf("Read: got (%d, %v), want (256, nil)", n, readErr)
	}
	if out[0] != 0 {
		t.Fatal("expected silence after callback fault")
	}
}

func TestWriteTagSentinelExposedForPosition(t *testing.T) {
	if samplebuffer.WriteTagUnset >= 0 {
		t.Fatal("WriteTagUnset must be negative so real tags never collide")
	}
}
