package flac

import (
	"fmt"
	"io"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/drgolem/audiorender/pkg/types"
)

// Decoder wraps the go-flac frame decoder to provide FLAC decoding.
// Implements types.AudioDecoder. The frame decoder is configured for
// 16-bit output, so higher source bit depths are truncated on decode.
type Decoder struct {
	decoder  *goflac.FlacDecoder
	rate     int
	channels int
}

// NewDecoder creates a new FLAC decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes a FLAC file for decoding
func (d *Decoder) Open(fileName string) error {
	decoder, err := goflac.NewFlacFrameDecoder(16)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to open file %s: %w", fileName, err)
	}

	rate, channels, _ := decoder.GetFormat()

	d.decoder = decoder
	d.rate = rate
	d.channels = channels

	return nil
}

// Close closes the decoder and releases resources
func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

// Format returns the sample rate and channel count of the file.
func (d *Decoder) Format() (sampleRate, channels int) {
	return d.rate, d.channels
}

// ReadPCM fills p with interleaved 16-bit little-endian samples.
func (d *Decoder) ReadPCM(p []byte) (int, error) {
	if d.decoder == nil {
		return 0, types.ErrDecoderClosed
	}

	blockAlign := d.channels * 2
	samples := len(p) / blockAlign
	if samples == 0 {
		return 0, nil
	}

	n, err := d.decoder.DecodeSamples(samples, p)
	if err != nil {
		return n * blockAlign, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n * blockAlign, nil
}
