// Package verify sanity-checks an encoded chapter file against the length
// of the text it was synthesized from. Verification is non-fatal in itself:
// the caller decides whether a failed check aborts the run.
package verify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/book-expert/audiobook-service/internal/audio"
)

// Empirical speaking-rate bounds of the synthesis voice, in seconds per
// source character. Durations outside the derived window indicate truncated
// or runaway generation.
const (
	MinDurationPerChar = 0.03
	MaxDurationPerChar = 0.15
)

// MinRMSThreshold is the loudness floor below which output is considered
// silent (the engine produced only pauses or near-zero audio).
const MinRMSThreshold = 0.001

// minFileSizeBytes flags suspiciously small artifacts.
const minFileSizeBytes = 1000

// Issue messages.
const (
	issueFileMissing  = "File does not exist"
	issueFmtFileSmall = "File size too small: %d bytes"
	issueFmtTooShort  = "Audio too short: %.1fs (expected >%.1fs for %d chars)"
	issueFmtTooLong   = "Audio too long: %.1fs (expected <%.1fs for %d chars)"
	issueFmtSilent    = "Audio appears silent: RMS=%.6f"
	issueFmtReadError = "Failed to read audio: %v"
)

// ErrUnsupportedExtension is reported when the artifact is neither MP3 nor
// WAV.
var ErrUnsupportedExtension = errors.New("unsupported audio extension")

// decoded frames arrive as 16-bit stereo from the MP3 decoder.
const (
	mp3BytesPerFrame = 4
	mp3ReadChunk     = 32 * 1024
	int16Max         = 32767
)

// Verify runs all quality checks against the encoded chapter at path. The
// checks are independent: every failing check contributes an issue, and all
// issues are collected before returning. ok is true iff no issue was found.
func Verify(path string, textLength int) (bool, []string) {
	var issues []string

	info, err := os.Stat(path)
	if err != nil {
		return false, []string{issueFileMissing}
	}

	if info.Size() < minFileSizeBytes {
		issues = append(issues, fmt.Sprintf(issueFmtFileSmall, info.Size()))
	}

	duration, rms, decodeErr := decodeStats(path)
	if decodeErr != nil {
		issues = append(issues, fmt.Sprintf(issueFmtReadError, decodeErr))

		return false, issues
	}

	expectedMin := float64(textLength) * MinDurationPerChar
	expectedMax := float64(textLength) * MaxDurationPerChar

	switch {
	case duration < expectedMin:
		issues = append(issues,
			fmt.Sprintf(issueFmtTooShort, duration, expectedMin, textLength))
	case duration > expectedMax:
		issues = append(issues,
			fmt.Sprintf(issueFmtTooLong, duration, expectedMax, textLength))
	}

	if rms < MinRMSThreshold {
		issues = append(issues, fmt.Sprintf(issueFmtSilent, rms))
	}

	return len(issues) == 0, issues
}

// decodeStats returns the decoded duration in seconds and RMS amplitude of
// an audio file, dispatching on extension.
func decodeStats(path string) (float64, float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3Stats(path)
	case ".wav":
		return wavStats(path)
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedExtension, filepath.Ext(path))
	}
}

// mp3Stats streams the decoded PCM, accumulating sample count and squared
// amplitude in one pass.
func mp3Stats(path string) (float64, float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode %q: %w", path, err)
	}

	var (
		frames    int64
		squareSum float64
		buf       = make([]byte, mp3ReadChunk)
	)

	for {
		n, readErr := decoder.Read(buf)

		for i := 0; i+mp3BytesPerFrame <= n; i += mp3BytesPerFrame {
			left := int16(binary.LittleEndian.Uint16(buf[i:]))
			right := int16(binary.LittleEndian.Uint16(buf[i+2:]))
			sample := (float64(left) + float64(right)) / 2 / int16Max

			squareSum += sample * sample
			frames++
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return 0, 0, fmt.Errorf("failed to read decoded audio from %q: %w", path, readErr)
		}
	}

	if frames == 0 {
		return 0, 0, nil
	}

	duration := float64(frames) / float64(decoder.SampleRate())
	rms := math.Sqrt(squareSum / float64(frames))

	return duration, rms, nil
}

// wavStats decodes a WAV artifact in full; chapter intermediates are small
// enough that a one-shot decode is fine.
func wavStats(path string) (float64, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %q: %w", path, err)
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode %q: %w", path, err)
	}

	duration := float64(len(samples)) / float64(sampleRate)

	return duration, audio.RMS(samples), nil
}
