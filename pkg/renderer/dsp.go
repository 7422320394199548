package renderer

import (
	"encoding/binary"
	"math"
)

// readDirect delivers samples unmodified at normal speed. A request larger
// than the readable count is an underrun and degrades to silence.
func (r *Renderer) readDirect(p []byte) {
	if len(p) > r.buffer.ReadableCount() {
		fillSilence(p)
		return
	}
	r.buffer.Read(p)
}

// readAndStretch fills p from fewer source bytes than requested (speed < 1)
// by repeating sample blocks. A running fractional accumulator distributes
// the repeats evenly; naive block duplication clusters them and stutters.
func (r *Renderer) readAndStretch(p []byte, speed float64) {
	requested := len(p)
	blockAlign := r.format.BlockAlign()

	bytesToRead := int(float64(requested) * speed)
	bytesToRead -= bytesToRead % blockAlign
	if readable := r.buffer.ReadableCount(); bytesToRead > readable {
		bytesToRead = readable - readable%blockAlign
	}
	if bytesToRead < blockAlign {
		fillSilence(p)
		return
	}

	src := r.scratch(bytesToRead)
	r.buffer.Read(src)

	repeatFactor := float64(requested) / float64(bytesToRead)
	targetOffset := 0
	accumulated := 0.0
	lastBlock := 0

	for srcOffset := 0; srcOffset+blockAlign <= bytesToRead; srcOffset += blockAlign {
		accumulated += repeatFactor
		for float64(targetOffset) < accumulated*float64(blockAlign) && targetOffset+blockAlign <= requested {
			copy(p[targetOffset:targetOffset+blockAlign], src[srcOffset:srcOffset+blockAlign])
			targetOffset += blockAlign
		}
		lastBlock = srcOffset
	}

	// Rounding can leave a tail short of the request; repeat the final
	// block rather than leaving a gap.
	for targetOffset+blockAlign <= requested {
		copy(p[targetOffset:targetOffset+blockAlign], src[lastBlock:lastBlock+blockAlign])
		targetOffset += blockAlign
	}
	clear(p[targetOffset:])
}

// readAndShrink fills p from more source bytes than requested (speed > 1)
// by averaging groups of consecutive samples per channel. The group size
// carries a fractional accumulator so non-integer ratios distribute evenly.
//
// An underrun here means the source has fallen critically behind; the
// buffer is cleared (treated as a seek) and silence is emitted.
func (r *Renderer) readAndShrink(p []byte, speed float64) {
	requested := len(p)
	blockAlign := r.format.BlockAlign()

	bytesToRead := int(math.Ceil(float64(requested) * speed))
	if rem := bytesToRead % blockAlign; rem != 0 {
		bytesToRead += blockAlign - rem
	}

	if bytesToRead > r.buffer.ReadableCount() {
		r.logger.Warn("audio underrun during shrink, clearing buffer",
			"requested_bytes", requested,
			"needed_bytes", bytesToRead,
			"readable_bytes", r.buffer.ReadableCount())
		r.buffer.Clear()
		fillSilence(p)
		return
	}

	src := r.scratch(bytesToRead)
	r.buffer.Read(src)

	srcBlocks := bytesToRead / blockAlign
	outBlocks := requested / blockAlign
	if outBlocks == 0 {
		fillSilence(p)
		return
	}
	groupSize := float64(srcBlocks) / float64(outBlocks)

	accumulated := 0.0
	srcBlock := 0
	for ob := 0; ob < outBlocks; ob++ {
		accumulated += groupSize
		end := int(accumulated)
		if end > srcBlocks {
			end = srcBlocks
		}
		if end <= srcBlock {
			end = srcBlock + 1
		}

		var sumLeft, sumRight, count int
		for ; srcBlock < end; srcBlock++ {
			off := srcBlock * blockAlign
			sumLeft += int(int16(binary.LittleEndian.Uint16(src[off:])))
			sumRight += int(int16(binary.LittleEndian.Uint16(src[off+2:])))
			count++
		}

		outOff := ob * blockAlign
		binary.LittleEndian.PutUint16(p[outOff:], uint16(int16(sumLeft/count)))
		binary.LittleEndian.PutUint16(p[outOff+2:], uint16(int16(sumRight/count)))
	}
	clear(p[outBlocks*blockAlign:])
}

// applyVolumeAndBalance scales every interleaved left/right 16-bit sample by
// the per-channel gain. Mute zeroes everything; unity gain is a lossless
// passthrough.
func (r *Renderer) applyVolumeAndBalance(p []byte) {
	if r.muted.Load() {
		fillSilence(p)
		return
	}

	left := math.Float64frombits(r.leftVolume.Load())
	right := math.Float64frombits(r.rightVolume.Load())
	if left == 1.0 && right == 1.0 {
		return
	}

	for i := 0; i+3 < len(p); i += 4 {
		sample := int16(binary.LittleEndian.Uint16(p[i:]))
		binary.LittleEndian.PutUint16(p[i:], uint16(int16(float64(sample)*left)))

		sample = int16(binary.LittleEndian.Uint16(p[i+2:]))
		binary.LittleEndian.PutUint16(p[i+2:], uint16(int16(float64(sample)*right)))
	}
}

// scratch returns the callback-thread DSP source buffer, growing it as
// needed. Only the pull callback touches it.
func (r *Renderer) scratch(n int) []byte {
	if cap(r.readBuf) < n {
		r.readBuf = make([]byte, n)
	}
	return r.readBuf[:n]
}
