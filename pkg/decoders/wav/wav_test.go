package wav

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	gowav "github.com/youpy/go-wav"
)

func writeWAV(t *testing.T, channels int, sampleRate int, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	numSamples := uint32(len(data) / (channels * 2))
	w := gowav.NewWriter(f, numSamples, uint16(channels), uint32(sampleRate), 16)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestDecoderRoundTrip(t *testing.T) {
	// Stereo, 4 sample blocks with distinct channel values.
	src := make([]byte, 4*4)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(src[i*4:], uint16(int16(100*i+1)))
		binary.LittleEndian.PutUint16(src[i*4+2:], uint16(int16(-(100*i + 1))))
	}
	path := writeWAV(t, 2, 44100, src)

	d := NewDecoder()
	if err := d.Open(path); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	rate, channels := d.Format()
	if rate != 44100 || channels != 2 {
		t.Fatalf("Format() = (%d, %d), want (44100, 2)", rate, channels)
	}

	var got bytes.Buffer
	buf := make([]byte, 8)
	for {
		n, err := d.ReadPCM(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadPCM failed: %v", err)
		}
	}

	if !bytes.Equal(got.Bytes(), src) {
		t.Errorf("decoded %v, want %v", got.Bytes(), src)
	}
}

func TestDecoderMonoFormat(t *testing.T) {
	src := []byte{0x01, 0x00, 0x02, 0x00}
	path := writeWAV(t, 1, 8000, src)

	d := NewDecoder()
	if err := d.Open(path); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	_, channels := d.Format()
	if channels != 1 {
		t.Fatalf("channels = %d, want 1", channels)
	}

	buf := make([]byte, 16)
	n, err := d.ReadPCM(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadPCM failed: %v", err)
	}
	if !bytes.Equal(buf[:n], src) {
		t.Errorf("decoded %v, want %v", buf[:n], src)
	}
}

func TestDecoderReadAfterClose(t *testing.T) {
	src := []byte{0x01, 0x00, 0x02, 0x00}
	path := writeWAV(t, 2, 8000, src)

	d := NewDecoder()
	if err := d.Open(path); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	d.Close()

	if _, err := d.ReadPCM(make([]byte, 8)); err == nil {
		t.Error("expected error reading a closed decoder")
	}
}

func TestDecoderMissingFile(t *testing.T) {
	d := NewDecoder()
	if err := d.Open("does-not-exist.wav"); err == nil {
		t.Error("expected error for missing file")
	}
}
