package streamplayer

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/youpy/go-wav"
)

// lockedBuffer is an io.Writer safe for use as a capture target while the
// pull worker writes from its own goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// writeTestWAV writes a mono 16-bit PCM file where every sample holds the
// given value, and returns its path.
func writeTestWAV(t *testing.T, sampleRate, numSamples int, value int16) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	data := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}

	w := wav.NewWriter(f, uint32(numSamples), 1, uint32(sampleRate), 16)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func newHeadlessPlayer(capture *lockedBuffer) *Player {
	cfg := DefaultConfig()
	cfg.Headless = true
	cfg.Capture = capture
	cfg.DesiredLatency = 30 * time.Millisecond
	return New(cfg)
}

func waitDone(t *testing.T, p *Player, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("playback did not finish in time")
	}
}

func TestPlayerHeadlessEndToEnd(t *testing.T) {
	const sampleValue = int16(1000)
	path := writeTestWAV(t, 8000, 1600, sampleValue) // 200ms of audio

	capture := &lockedBuffer{}
	p := newHeadlessPlayer(capture)
	if err := p.OpenFile(path); err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer p.Close()

	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitDone(t, p, 5*time.Second)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := capture.Bytes()
	if len(out) == 0 {
		t.Fatal("capture is empty")
	}

	// The mono source is widened to stereo and every source sample holds
	// the same value, so the pattern must show up interleaved on both
	// channels somewhere in the captured stream.
	want := make([]byte, 8)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(want[i*2:], uint16(sampleValue))
	}
	if !bytes.Contains(out, want) {
		t.Error("captured stream does not contain the widened sample pattern")
	}
}

func TestPlayerStopUnblocksWait(t *testing.T) {
	// Long enough that playback cannot finish before Stop.
	path := writeTestWAV(t, 8000, 8000*10, 500)

	capture := &lockedBuffer{}
	p := newHeadlessPlayer(capture)
	if err := p.OpenFile(path); err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer p.Close()

	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitDone(t, p, time.Second)

	if err := p.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestPlayerStatus(t *testing.T) {
	path := writeTestWAV(t, 8000, 1600, 250)

	capture := &lockedBuffer{}
	p := newHeadlessPlayer(capture)
	if err := p.OpenFile(path); err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer p.Close()

	if err := p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	st := p.Status()
	if st.FileName != "tone.wav" {
		t.Errorf("FileName = %q, want tone.wav", st.FileName)
	}
	if st.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", st.SampleRate)
	}
	if st.Channels != 2 {
		t.Errorf("Channels = %d, want 2", st.Channels)
	}
	if st.Speed != 1.0 {
		t.Errorf("Speed = %v, want 1.0", st.Speed)
	}

	waitDone(t, p, 5*time.Second)
}

func TestPlayerOpenUnsupportedFormat(t *testing.T) {
	p := New(DefaultConfig())
	if err := p.OpenFile("song.ogg"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestPlayerPlayWithoutOpen(t *testing.T) {
	p := New(DefaultConfig())
	if err := p.Play(); err == nil {
		t.Error("expected error when no file is opened")
	}
}

func TestMonoToStereo(t *testing.T) {
	p := New(DefaultConfig())

	mono := []byte{0x01, 0x02, 0x03, 0x04}
	got := p.monoToStereo(mono)

	want := []byte{0x01, 0x02, 0x01, 0x02, 0x03, 0x04, 0x03, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("monoToStereo = %v, want %v", got, want)
	}
}
