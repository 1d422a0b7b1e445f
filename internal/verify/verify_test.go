package verify_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/verify"
)

// writeWAV persists a constant-amplitude waveform of the given duration in
// seconds and returns its path.
func writeWAV(t *testing.T, name string, seconds float64, amplitude float32) string {
	t.Helper()

	samples := make([]float32, int(seconds*core.SampleRate))
	for i := range samples {
		samples[i] = amplitude
	}

	path := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(path, audio.EncodeWAV(samples, core.SampleRate), 0o600)
	require.NoError(t, err)

	return path
}

func TestVerify_ValidAudio(t *testing.T) {
	t.Parallel()

	// 100 chars of text expect between 3 and 15 seconds of audio.
	path := writeWAV(t, "good.wav", 5.0, 0.1)

	ok, issues := verify.Verify(path, 100)

	assert.True(t, ok)
	assert.Empty(t, issues)
}

func TestVerify_MissingFile(t *testing.T) {
	t.Parallel()

	ok, issues := verify.Verify(filepath.Join(t.TempDir(), "nope.wav"), 100)

	assert.False(t, ok)
	require.Len(t, issues, 1)
	assert.Equal(t, "File does not exist", issues[0])
}

func TestVerify_TooShort(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "short.wav", 1.0, 0.1)

	ok, issues := verify.Verify(path, 100)

	assert.False(t, ok)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "Audio too short")
}

func TestVerify_TooLong(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "long.wav", 20.0, 0.1)

	ok, issues := verify.Verify(path, 100)

	assert.False(t, ok)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "Audio too long")
}

func TestVerify_SilentAudio(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "silent.wav", 5.0, 0)

	ok, issues := verify.Verify(path, 100)

	assert.False(t, ok)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "Audio appears silent")
}

func TestVerify_FileTooSmall(t *testing.T) {
	t.Parallel()

	// A handful of samples encodes to well under the size floor.
	samples := make([]float32, 10)
	path := filepath.Join(t.TempDir(), "tiny.wav")

	err := os.WriteFile(path, audio.EncodeWAV(samples, core.SampleRate), 0o600)
	require.NoError(t, err)

	ok, issues := verify.Verify(path, 100)

	assert.False(t, ok)
	assert.Contains(t, issues[0], "File size too small")
}

func TestVerify_IndependentChecksAccumulate(t *testing.T) {
	t.Parallel()

	// Short and silent at once: both issues must be reported.
	path := writeWAV(t, "short-silent.wav", 1.0, 0)

	ok, issues := verify.Verify(path, 100)

	assert.False(t, ok)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "Audio too short")
	assert.Contains(t, issues[1], "Audio appears silent")
}

func TestVerify_UnreadableAudio(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.wav")

	err := os.WriteFile(path, make([]byte, 2000), 0o600)
	require.NoError(t, err)

	ok, issues := verify.Verify(path, 100)

	assert.False(t, ok)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "Failed to read audio")
}
