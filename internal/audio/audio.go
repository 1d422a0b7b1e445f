// Package audio provides the waveform representation used across the
// synthesis pipeline: mono float32 samples in [-1, 1] at the fixed pipeline
// sample rate, plus WAV encoding/decoding and the silence buffers inserted
// between sentences.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
)

// WAV layout constants for 16-bit PCM.
const (
	riffHeaderSize   = 44
	fmtChunkSize     = 16
	pcmFormat        = 1
	bitsPerSample    = 16
	bytesPerSample   = 2
	maxSampleValue   = 32767
	minHeaderPortion = 12
)

// Static errors.
var (
	ErrNotRIFF            = errors.New("not a RIFF/WAVE stream")
	ErrMissingFormatChunk = errors.New("missing fmt chunk")
	ErrMissingDataChunk   = errors.New("missing data chunk")
	ErrUnsupportedFormat  = errors.New("unsupported WAV format")
	ErrTruncatedChunk     = errors.New("truncated chunk")
)

// Silence returns a zero-filled buffer covering the given duration at the
// pipeline sample rate. Callers cache and reuse the returned slice; a
// silence buffer is never mutated.
func Silence(duration time.Duration) []float32 {
	samples := int(duration.Seconds() * float64(core.SampleRate))

	return make([]float32, samples)
}

// Concat joins segments in order into a single waveform. Concatenation is
// the only composition operator in the pipeline: append-only, sequential,
// no overlap.
func Concat(segments [][]float32) []float32 {
	var total int
	for _, segment := range segments {
		total += len(segment)
	}

	joined := make([]float32, 0, total)
	for _, segment := range segments {
		joined = append(joined, segment...)
	}

	return joined
}

// RMS computes the root-mean-square amplitude of a waveform. An empty
// waveform has zero amplitude.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// EncodeWAV serializes a mono waveform as a 16-bit PCM WAV stream at the
// given sample rate.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * bytesPerSample
	buf := make([]byte, riffHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*bytesPerSample))
	binary.LittleEndian.PutUint16(buf[32:34], bytesPerSample)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i, sample := range samples {
		clamped := sample
		if clamped > 1 {
			clamped = 1
		} else if clamped < -1 {
			clamped = -1
		}

		value := int16(clamped * maxSampleValue)
		binary.LittleEndian.PutUint16(buf[riffHeaderSize+i*bytesPerSample:], uint16(value))
	}

	return buf
}

// DecodeWAV parses a 16-bit PCM WAV stream into mono samples and its sample
// rate. Multi-channel audio is downmixed by averaging channels.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < minHeaderPortion ||
		string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotRIFF
	}

	var (
		sampleRate int
		channels   int
		pcm        []byte
		haveFormat bool
	)

	offset := minHeaderPortion
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			return nil, 0, fmt.Errorf("%w: %s", ErrTruncatedChunk, chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkSize {
				return nil, 0, ErrMissingFormatChunk
			}

			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := int(binary.LittleEndian.Uint16(data[body+14 : body+16]))

			if format != pcmFormat || bits != bitsPerSample || channels < 1 {
				return nil, 0, fmt.Errorf(
					"%w: format=%d bits=%d channels=%d",
					ErrUnsupportedFormat, format, bits, channels,
				)
			}

			haveFormat = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + (chunkSize & 1)
	}

	if !haveFormat {
		return nil, 0, ErrMissingFormatChunk
	}

	if pcm == nil {
		return nil, 0, ErrMissingDataChunk
	}

	frameSize := channels * bytesPerSample
	frames := len(pcm) / frameSize
	samples := make([]float32, frames)

	for frame := range frames {
		var sum float32

		for ch := range channels {
			raw := int16(binary.LittleEndian.Uint16(pcm[frame*frameSize+ch*bytesPerSample:]))
			sum += float32(raw) / maxSampleValue
		}

		samples[frame] = sum / float32(channels)
	}

	return samples, sampleRate, nil
}
