package wav

import (
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"

	"github.com/drgolem/audiorender/pkg/types"
)

// Decoder wraps go-wav for decoding WAV audio files.
// Implements types.AudioDecoder.
type Decoder struct {
	file     *os.File
	reader   *wav.Reader
	rate     int
	channels int
	bps      int
}

// NewDecoder creates a new WAV decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens a WAV file for decoding
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to read WAV format: %w", err)
	}

	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("unsupported WAV format: %d (only PCM supported)", format.AudioFormat)
	}

	d.file = file
	d.reader = reader
	d.rate = int(format.SampleRate)
	d.channels = int(format.NumChannels)
	d.bps = int(format.BitsPerSample)

	return nil
}

// Close closes the WAV file
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.reader = nil
	return err
}

// Format returns the sample rate and channel count of the file.
func (d *Decoder) Format() (sampleRate, channels int) {
	return d.rate, d.channels
}

// ReadPCM fills p with interleaved 16-bit little-endian samples. Source
// bit depths other than 16 are converted: 8-bit unsigned is re-centered
// and widened, 24- and 32-bit are truncated to the top 16 bits.
func (d *Decoder) ReadPCM(p []byte) (int, error) {
	if d.reader == nil {
		return 0, types.ErrDecoderClosed
	}

	blockAlign := d.channels * 2
	blocks := len(p) / blockAlign
	if blocks == 0 {
		return 0, nil
	}

	samples, err := d.reader.ReadSamples(uint32(blocks))
	if len(samples) == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	n := 0
	for _, s := range samples {
		for ch := 0; ch < d.channels; ch++ {
			v := d.toInt16(s.Values[ch])
			p[n] = byte(v)
			p[n+1] = byte(v >> 8)
			n += 2
		}
	}

	// A short read with io.EOF still returns the decoded bytes; the
	// next call reports EOF with no data.
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (d *Decoder) toInt16(value int) int16 {
	switch d.bps {
	case 8:
		return int16(value-128) << 8
	case 16:
		return int16(value)
	case 24:
		return int16(value >> 8)
	case 32:
		return int16(value >> 16)
	default:
		return int16(value)
	}
}
