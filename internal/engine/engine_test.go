package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/engine"
)

var errMockConvert = errors.New("mock convert error")

// fakeTools stands in for the external audio toolchain during voice
// resolution.
type fakeTools struct {
	convertErr error
}

func (f *fakeTools) Available() bool {
	return true
}

func (f *fakeTools) EnsureCompatible(_ context.Context, path string) (string, error) {
	if f.convertErr != nil {
		return "", f.convertErr
	}

	return path + "_24k.wav", nil
}

func (f *fakeTools) ProbeDuration(_ context.Context, _ string) float64 {
	return 0
}

func (f *fakeTools) EncodeMP3(_ context.Context, _, _ string) error {
	return nil
}

func (f *fakeTools) ConcatCopy(_ context.Context, _, _ string) error {
	return nil
}

func (f *fakeTools) Mux(_ context.Context, _, _, _, _ string) error {
	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return testLogger
}

// The HTTP engine shares voice resolution with the CLI engine and needs no
// binary on PATH, so it is the seam for resolution tests.
func newResolutionEngine(t *testing.T, tools *fakeTools) *engine.HTTPEngine {
	t.Helper()

	return engine.NewHTTPEngine("http://127.0.0.1:1", time.Second, tools, newTestLogger(t))
}

func TestResolveVoice_DefaultPreset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		preset   string
		expected string
	}{
		{name: "empty falls back to default", preset: "", expected: core.DefaultPreset},
		{name: "custom sentinel remaps to default", preset: core.PresetCustom, expected: core.DefaultPreset},
		{name: "unknown preset falls back", preset: "no-such-voice", expected: core.DefaultPreset},
		{name: "known preset survives", preset: "alba", expected: "alba"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			resolver := newResolutionEngine(t, &fakeTools{})

			voice, err := resolver.ResolveVoice(context.Background(), core.VoiceSpec{
				RefAudioPath: "",
				Preset:       testCase.preset,
			})
			require.NoError(t, err)

			assert.Empty(t, voice.Reference)
			assert.Equal(t, testCase.expected, voice.Preset)
		})
	}
}

func TestResolveVoice_CloningReference(t *testing.T) {
	t.Parallel()

	tools := &fakeTools{}
	resolver := newResolutionEngine(t, tools)

	voice, err := resolver.ResolveVoice(context.Background(), core.VoiceSpec{
		RefAudioPath: "/voices/narrator.mp3",
		Preset:       "alba",
	})
	require.NoError(t, err)

	// The reference wins over any preset and arrives converted.
	assert.Equal(t, "/voices/narrator.mp3_24k.wav", voice.Reference)
	assert.Empty(t, voice.Preset)
}

func TestResolveVoice_CloningFailureIsFatal(t *testing.T) {
	t.Parallel()

	resolver := newResolutionEngine(t, &fakeTools{convertErr: errMockConvert})

	_, err := resolver.ResolveVoice(context.Background(), core.VoiceSpec{
		RefAudioPath: "/voices/narrator.mp3",
		Preset:       "",
	})

	// Cloning was explicitly requested; degrading to a preset silently
	// would ship the wrong voice.
	require.ErrorIs(t, err, errMockConvert)
}

func TestNewCLIEngine_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := engine.NewCLIEngine(
		"definitely-not-a-real-binary-name",
		&fakeTools{},
		newTestLogger(t),
	)
	require.Error(t, err)
}
