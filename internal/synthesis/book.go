package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/assemble"
	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/book-expert/audiobook-service/internal/verify"
)

// Static errors.
var (
	// ErrNoAudioGenerated is the terminal error when no chapter produced
	// any audio file (empty text or per-chapter failures throughout).
	ErrNoAudioGenerated = errors.New("no audio files were generated")

	// ErrQualityCheckFailed marks a chapter whose encoded output failed
	// verification; a chapter that sounds wrong must not silently ship.
	ErrQualityCheckFailed = errors.New("audio verification failed")
)

// Progress layout: chapters fill the first 90 percent of the range, the
// final 10 is reserved for container assembly so percent stays monotonic
// across the whole run.
const (
	chapterProgressShare  = 90.0
	assemblyStatusPercent = 95.0
)

// Status messages.
const (
	statusFmtGenerating = "Generating %s (%d%%)..."
	statusNoFFmpeg      = "Warning: ffmpeg not found. M4B creation will be skipped."
	statusCreatingM4B   = "Creating M4B audiobook..."
	statusComplete      = "Complete!"
	statusCompleteMP3s  = "Complete (MP3s only)!"
	introFormat         = "%s, by %s.\n\n"
	fallbackNameFormat  = "chapter_%d"
)

// File names and permissions.
const (
	mp3Extension   = ".mp3"
	tempWAVSuffix  = ".tmp.wav"
	dirPermissions = 0o750
	wavFilePerms   = 0o600
)

// Verifier checks an encoded chapter artifact against the length of the
// text it was synthesized from.
type Verifier func(path string, textLength int) (bool, []string)

// Book iterates chapters through a Pipeline, persists and verifies the
// per-chapter artifacts, and hands the results to the container assembler.
type Book struct {
	engine    core.VoiceEngine
	segmenter core.Segmenter
	tools     core.AudioTools
	assembler *assemble.Assembler
	verifier  Verifier
	log       *logger.Logger
}

// NewBook creates the top-level book synthesizer.
func NewBook(
	engine core.VoiceEngine,
	segmenter core.Segmenter,
	tools core.AudioTools,
	log *logger.Logger,
) *Book {
	return NewBookWithVerifier(engine, segmenter, tools, verify.Verify, log)
}

// NewBookWithVerifier creates a Book with a custom artifact verifier. This
// is primarily for testing, allowing injection of a verifier that does not
// decode real encoded audio.
func NewBookWithVerifier(
	engine core.VoiceEngine,
	segmenter core.Segmenter,
	tools core.AudioTools,
	verifier Verifier,
	log *logger.Logger,
) *Book {
	return &Book{
		engine:    engine,
		segmenter: segmenter,
		tools:     tools,
		assembler: assemble.New(tools, log),
		verifier:  verifier,
		log:       log,
	}
}

// Run synthesizes every chapter into outputDir and packages the results.
//
// Chapter one receives a spoken intro line built from the book metadata. A
// chapter whose MP3 already exists is reused without re-synthesis, making
// an interrupted run resumable. A chapter with empty text is skipped. A
// chapter that fails verification deletes its artifact and fails the whole
// run. After the loop, assembly runs when ffmpeg is available; on assembly
// failure the per-chapter files are returned instead — deliberate graceful
// degradation, not an error.
func (b *Book) Run(
	ctx context.Context,
	chapters []core.Chapter,
	outputDir string,
	spec core.VoiceSpec,
	meta core.BookMetadata,
	onProgress core.ProgressFunc,
) (core.Result, error) {
	if onProgress == nil {
		onProgress = func(float64, string) {}
	}

	mkdirErr := os.MkdirAll(outputDir, dirPermissions)
	if mkdirErr != nil {
		return core.Result{}, fmt.Errorf("failed to create output directory: %w", mkdirErr)
	}

	pipeline, err := NewPipeline(ctx, b.engine, b.segmenter, spec, b.log)
	if err != nil {
		return core.Result{}, err
	}

	hasFFmpeg := b.tools.Available()
	if !hasFFmpeg {
		onProgress(0, statusNoFFmpeg)
	}

	chapterFiles, err := b.synthesizeChapters(ctx, pipeline, chapters, outputDir, meta, onProgress)
	if err != nil {
		return core.Result{}, err
	}

	// A stop request that lands during the final sentence arrives after the
	// chapter loop already finished; it must still win over completion.
	if ctx.Err() != nil {
		return core.Result{}, core.ErrStopped
	}

	if len(chapterFiles) == 0 {
		return core.Result{}, ErrNoAudioGenerated
	}

	if hasFFmpeg {
		onProgress(assemblyStatusPercent, statusCreatingM4B)

		containerPath, assembleErr := b.assembler.Assemble(ctx, chapterFiles, meta, outputDir)

		// Same rule for a stop during assembly, whether the tools noticed
		// the cancelled context or not.
		if ctx.Err() != nil {
			return core.Result{}, core.ErrStopped
		}

		if assembleErr == nil {
			onProgress(percentComplete, statusComplete)

			return core.Result{ContainerPath: containerPath, ChapterFiles: chapterFiles}, nil
		}

		b.log.Error("Container assembly failed, keeping per-chapter files: %v", assembleErr)
	}

	onProgress(percentComplete, statusCompleteMP3s)

	return core.Result{ContainerPath: "", ChapterFiles: chapterFiles}, nil
}

// synthesizeChapters runs the per-chapter loop and returns the ordered
// artifact paths.
func (b *Book) synthesizeChapters(
	ctx context.Context,
	pipeline *Pipeline,
	chapters []core.Chapter,
	outputDir string,
	meta core.BookMetadata,
	onProgress core.ProgressFunc,
) ([]string, error) {
	var chapterFiles []string

	total := len(chapters)

	for i, chapter := range chapters {
		if ctx.Err() != nil {
			return nil, core.ErrStopped
		}

		name := chapter.Name
		if name == "" {
			name = fmt.Sprintf(fallbackNameFormat, i+1)
		}

		chapterText := chapter.Text
		if i == 0 {
			chapterText = fmt.Sprintf(introFormat, meta.Title, meta.Author) + chapterText
		}

		if strings.TrimSpace(chapterText) == "" {
			continue
		}

		mp3Path := filepath.Join(outputDir, text.SanitizeName(name)+mp3Extension)

		// An existing artifact is a resumability checkpoint: reuse it.
		if fileExists(mp3Path) {
			chapterFiles = append(chapterFiles, mp3Path)

			continue
		}

		chapterProgress := func(p float64) {
			global := ((float64(i) + p/percentComplete) / float64(total)) * chapterProgressShare
			onProgress(global, fmt.Sprintf(statusFmtGenerating, name, int(p)))
		}

		waveform, err := pipeline.GenerateChapter(ctx, chapterText, chapterProgress)
		if err != nil {
			return nil, err
		}

		if waveform == nil {
			b.log.Warn("Chapter '%s' produced no audio, skipping", name)

			continue
		}

		encodeErr := b.persistChapter(ctx, waveform, mp3Path)
		if encodeErr != nil {
			return nil, encodeErr
		}

		verifyErr := b.verifyChapter(mp3Path, name, len(chapterText))
		if verifyErr != nil {
			return nil, verifyErr
		}

		chapterFiles = append(chapterFiles, mp3Path)
	}

	return chapterFiles, nil
}

// persistChapter writes the waveform to an intermediate lossless file,
// re-encodes it to the per-chapter MP3, and removes the intermediate.
func (b *Book) persistChapter(ctx context.Context, waveform []float32, mp3Path string) error {
	tempWAV := strings.TrimSuffix(mp3Path, mp3Extension) + tempWAVSuffix

	writeErr := os.WriteFile(tempWAV, audio.EncodeWAV(waveform, core.SampleRate), wavFilePerms)
	if writeErr != nil {
		return fmt.Errorf("failed to write intermediate chapter audio: %w", writeErr)
	}

	encodeErr := b.tools.EncodeMP3(ctx, tempWAV, mp3Path)

	removeErr := os.Remove(tempWAV)
	if removeErr != nil {
		b.log.Warn("Failed to remove intermediate file '%s': %v", tempWAV, removeErr)
	}

	if encodeErr != nil {
		return fmt.Errorf("failed to encode chapter: %w", encodeErr)
	}

	return nil
}

// verifyChapter checks the encoded artifact; on failure the artifact is
// deleted and the run fails with the full issue list.
func (b *Book) verifyChapter(mp3Path, name string, textLength int) error {
	isValid, issues := b.verifier(mp3Path, textLength)
	if isValid {
		return nil
	}

	b.log.Error("Quality issues in %s: %v", name, issues)

	removeErr := os.Remove(mp3Path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		b.log.Warn("Failed to remove rejected artifact '%s': %v", mp3Path, removeErr)
	}

	return fmt.Errorf("%w for %s: %s", ErrQualityCheckFailed, name, strings.Join(issues, "; "))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
