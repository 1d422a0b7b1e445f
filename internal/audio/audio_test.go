package audio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
)

func TestSilence(t *testing.T) {
	t.Parallel()

	buf := audio.Silence(500 * time.Millisecond)
	assert.Len(t, buf, core.SampleRate/2)

	for _, sample := range buf {
		if sample != 0 {
			t.Fatal("silence buffer contains a non-zero sample")
		}
	}
}

func TestSilence_Zero(t *testing.T) {
	t.Parallel()

	assert.Empty(t, audio.Silence(0))
}

func TestConcat(t *testing.T) {
	t.Parallel()

	joined := audio.Concat([][]float32{
		{0.1, 0.2},
		{},
		{0.3},
	})

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, joined)
}

func TestConcat_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, audio.Concat(nil))
}

func TestRMS(t *testing.T) {
	t.Parallel()

	t.Run("empty is zero", func(t *testing.T) {
		t.Parallel()

		assert.Zero(t, audio.RMS(nil))
	})

	t.Run("constant amplitude", func(t *testing.T) {
		t.Parallel()

		samples := make([]float32, 1000)
		for i := range samples {
			samples[i] = 0.5
		}

		assert.InEpsilon(t, 0.5, audio.RMS(samples), 1e-6)
	})

	t.Run("silence is zero", func(t *testing.T) {
		t.Parallel()

		assert.Zero(t, audio.RMS(make([]float32, 100)))
	})
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	data := audio.EncodeWAV(make([]float32, 10), core.SampleRate)

	require.Len(t, data, 44+10*2)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, "data", string(data[36:40]))
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	original := []float32{0, 0.25, -0.25, 0.9, -0.9, 1, -1}

	decoded, sampleRate, err := audio.DecodeWAV(audio.EncodeWAV(original, core.SampleRate))
	require.NoError(t, err)

	assert.Equal(t, core.SampleRate, sampleRate)
	require.Len(t, decoded, len(original))

	// 16-bit quantization loses at most one step of precision.
	for i := range original {
		assert.InDelta(t, original[i], decoded[i], 1.0/32767)
	}
}

func TestEncodeWAV_ClampsOutOfRange(t *testing.T) {
	t.Parallel()

	decoded, _, err := audio.DecodeWAV(audio.EncodeWAV([]float32{2.0, -2.0}, core.SampleRate))
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.InDelta(t, 1.0, decoded[0], 1.0/32767)
	assert.InDelta(t, -1.0, decoded[1], 1.0/32767)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	t.Run("not a RIFF stream", func(t *testing.T) {
		t.Parallel()

		_, _, err := audio.DecodeWAV([]byte("definitely not audio"))
		require.ErrorIs(t, err, audio.ErrNotRIFF)
	})

	t.Run("too short", func(t *testing.T) {
		t.Parallel()

		_, _, err := audio.DecodeWAV([]byte("RIFF"))
		require.ErrorIs(t, err, audio.ErrNotRIFF)
	})

	t.Run("missing data chunk", func(t *testing.T) {
		t.Parallel()

		valid := audio.EncodeWAV([]float32{0.1}, core.SampleRate)

		// Truncate to the header and fmt chunk only.
		_, _, err := audio.DecodeWAV(valid[:36])
		require.ErrorIs(t, err, audio.ErrMissingDataChunk)
	})
}
