package mp3

import (
	"fmt"
	"os"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/drgolem/audiorender/pkg/types"
)

// Decoder wraps go-mp3 to provide MP3 decoding capabilities.
// Implements types.AudioDecoder. Output is always 16-bit stereo
// at the source sample rate.
type Decoder struct {
	file    *os.File
	decoder *gomp3.Decoder
	rate    int
}

// NewDecoder creates a new MP3 decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes an MP3 file for decoding
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := gomp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to open file %s: %w", fileName, err)
	}

	d.file = file
	d.decoder = decoder
	d.rate = decoder.SampleRate()

	return nil
}

// Close closes the decoder and releases resources
func (d *Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.decoder = nil
	return err
}

// Format returns the sample rate and channel count. go-mp3 always
// decodes to two channels regardless of the source layout.
func (d *Decoder) Format() (sampleRate, channels int) {
	return d.rate, 2
}

// ReadPCM fills p with interleaved 16-bit little-endian stereo samples.
func (d *Decoder) ReadPCM(p []byte) (int, error) {
	if d.decoder == nil {
		return 0, types.ErrDecoderClosed
	}
	return d.decoder.Read(p)
}
