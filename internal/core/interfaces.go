// Package core defines the domain types and interfaces shared by the
// audiobook synthesis pipeline.
package core

import (
	"context"
	"errors"
)

// SampleRate is the fixed sample rate, in Hz, of every waveform that moves
// through the pipeline. The voice engine produces mono audio at this rate
// and all silence buffers are sized against it.
const SampleRate = 24000

// DefaultPreset is the known-good voice preset used when no explicit voice
// has been chosen, and as the fallback when a named preset fails to resolve.
const DefaultPreset = "marius"

// PresetCustom is a sentinel preset value meaning "no explicit choice"; it
// is remapped to DefaultPreset before lookup.
const PresetCustom = "custom"

// ErrStopped is the distinguished outcome of a cancelled synthesis run. It
// is not a failure: the book orchestrator translates it into a terminal
// "Stopped" status rather than an error status.
var ErrStopped = errors.New("synthesis stopped")

// Chapter is one contiguous unit of source text mapped to one synthesized
// audio artifact. Chapters are produced by the EPUB-extraction collaborator
// and consumed read-only here.
type Chapter struct {
	Index    int
	Name     string
	Text     string
	Length   int
	Selected bool
}

// BookMetadata carries the book-level metadata embedded into the final
// container. Cover may be nil, in which case no artwork is embedded.
type BookMetadata struct {
	Title  string
	Author string
	Cover  []byte
}

// VoiceSpec describes the requested voice identity before resolution.
// RefAudioPath takes precedence over Preset; when both are empty the
// default preset is used.
type VoiceSpec struct {
	// RefAudioPath points at a reference recording for voice cloning.
	RefAudioPath string

	// Preset names a built-in voice of the engine.
	Preset string
}

// Voice is a resolved voice identity, produced once per pipeline instance
// and reused for every segment. Exactly one field is set.
type Voice struct {
	// Reference is the path to a reference recording already resampled to
	// SampleRate mono.
	Reference string

	// Preset is a validated built-in voice name.
	Preset string
}

// SentenceSpan is a contiguous text range classified as one sentence, with
// byte offsets into the original chapter text. The gap between one span's
// End and the next span's Start is inspected for paragraph breaks.
type SentenceSpan struct {
	Text  string
	Start int
	End   int
}

// Segmenter splits chapter text into ordered sentence spans. The concrete
// detector is an opaque capability behind this seam so tests can substitute
// a deterministic fake.
type Segmenter interface {
	Segment(text string) []SentenceSpan
}

// VoiceEngine is the two-call contract the pipeline depends on: derive a
// voice state from a prompt, then generate audio for text with that state.
// Synthesize returns mono samples in [-1, 1] at SampleRate.
type VoiceEngine interface {
	ResolveVoice(ctx context.Context, spec VoiceSpec) (Voice, error)
	Synthesize(ctx context.Context, voice Voice, text string) ([]float32, error)
}

// AudioTools is the contract with the external audio tool collaborators:
// a resampler/converter, a duration prober, a lossy encoder, a stream
// concatenator and a muxer. Implementations invoke external processes;
// tests substitute fakes.
type AudioTools interface {
	// Available reports whether the toolchain was resolved; without it,
	// container assembly is skipped and cloning-source conversion fails.
	Available() bool

	// EnsureCompatible converts reference audio to SampleRate mono WAV.
	EnsureCompatible(ctx context.Context, path string) (string, error)

	// ProbeDuration returns a file's duration in seconds, degrading to
	// 0.0 on probe failure.
	ProbeDuration(ctx context.Context, path string) float64

	// EncodeMP3 re-encodes an intermediate lossless file to MP3.
	EncodeMP3(ctx context.Context, wavPath, mp3Path string) error

	// ConcatCopy losslessly joins the files listed in a concat manifest.
	ConcatCopy(ctx context.Context, manifestPath, outputPath string) error

	// Mux produces the final chaptered container.
	Mux(ctx context.Context, audioPath, metadataPath, coverPath, outputPath string) error
}

// ObjectStore is the interface for the key-value blob store that job
// payloads and artifacts move through.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ProgressFunc receives progress updates at sentence and chapter
// granularity. Percent is monotonically non-decreasing within one run.
type ProgressFunc func(percent float64, status string)

// Result is the terminal value of a successful book synthesis run: either
// one chaptered container, or the ordered per-chapter files when container
// assembly was unavailable or failed.
type Result struct {
	ContainerPath string
	ChapterFiles  []string
}

// Combined reports whether the run produced a single chaptered container.
func (r Result) Combined() bool {
	return r.ContainerPath != ""
}
