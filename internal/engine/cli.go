package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
)

// Default binary name of the local speech model CLI.
const defaultCLIBinary = "pocket-tts"

// CLIEngine implements core.VoiceEngine by spawning the pocket-tts CLI per
// segment: text is piped through stdin and the generated WAV is read back
// from a temp file.
type CLIEngine struct {
	binaryPath string
	tools      core.AudioTools
	log        *logger.Logger
}

// NewCLIEngine resolves the model CLI and constructs the engine. The engine
// binary is a hard requirement: without it no safe continuation exists, so
// construction fails.
func NewCLIEngine(binaryPath string, tools core.AudioTools, log *logger.Logger) (*CLIEngine, error) {
	if binaryPath == "" {
		binaryPath = defaultCLIBinary
	}

	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("speech engine binary %q not found: %w", binaryPath, err)
	}

	return &CLIEngine{
		binaryPath: resolved,
		tools:      tools,
		log:        log,
	}, nil
}

// ResolveVoice derives the voice state for this pipeline instance.
func (e *CLIEngine) ResolveVoice(ctx context.Context, spec core.VoiceSpec) (core.Voice, error) {
	return resolveVoice(ctx, spec, e.tools, e.log)
}

// Synthesize generates one cleaned sentence with the resolved voice and
// returns the waveform as mono samples at the pipeline sample rate.
func (e *CLIEngine) Synthesize(ctx context.Context, voice core.Voice, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	tempFile, err := os.CreateTemp("", "abook-segment-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for segment output: %w", err)
	}

	tempPath := tempFile.Name()

	closeErr := tempFile.Close()
	if closeErr != nil {
		e.log.Warn("Failed to close temp file '%s': %v", tempPath, closeErr)
	}

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempPath, removeErr)
		}
	}()

	args := []string{
		"generate",
		"--voice", promptArgument(voice),
		"--quiet",
		"--output", tempPath,
	}

	// #nosec G204 -- binary path resolved at construction, arguments built internally
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	cmd.Stdin = strings.NewReader(text)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return nil, fmt.Errorf("speech engine execution failed: %w - output: %s",
			runErr, stderr.String())
	}

	wavData, readErr := os.ReadFile(tempPath)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read segment audio: %w", readErr)
	}

	return decodeEngineWAV(wavData)
}

// decodeEngineWAV normalizes the engine's WAV payload to the pipeline's
// plain sample representation, rejecting audio at the wrong rate.
func decodeEngineWAV(wavData []byte) ([]float32, error) {
	samples, sampleRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode engine audio: %w", err)
	}

	if sampleRate != core.SampleRate {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrWrongSampleRate, sampleRate, core.SampleRate)
	}

	if len(samples) == 0 {
		return nil, ErrEngineEmptyAudio
	}

	return samples, nil
}
