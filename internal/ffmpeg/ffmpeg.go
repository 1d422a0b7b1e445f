// Package ffmpeg wraps the external audio tools the pipeline collaborates
// with: a resampler/converter, a duration prober, a stream concatenator and
// a muxer. All invocations are synchronous, blocking calls; a non-zero exit
// is a hard failure for that operation and is never retried.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Default binary names, resolved against PATH when no explicit path is
// configured.
const (
	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
)

// Suffix convention for reference audio already converted to the pipeline
// format; files carrying it are trusted without re-conversion.
const compatibleSuffix = "_24k.wav"

// MP3 encoding parameters for per-chapter artifacts.
const (
	mp3Codec  = "libmp3lame"
	mp3QScale = "2"
)

// Mux parameters for the final chaptered container.
const (
	muxAudioCodec   = "aac"
	muxAudioBitrate = "64k"
	muxFormat       = "mp4"
)

// ErrFFmpegNotFound is returned when an operation requires ffmpeg but no
// binary could be resolved.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

// Tools locates and invokes the external audio binaries. The zero value is
// not usable; construct with New.
type Tools struct {
	ffmpegPath  string
	ffprobePath string
	log         *logger.Logger
}

// New resolves the ffmpeg and ffprobe binaries, preferring explicit paths
// from configuration and falling back to PATH lookup. Absence of a binary
// is not an error here: it degrades the operations that need it.
func New(ffmpegPath, ffprobePath string, log *logger.Logger) *Tools {
	return &Tools{
		ffmpegPath:  resolveBinary(ffmpegPath, defaultFFmpegBinary),
		ffprobePath: resolveBinary(ffprobePath, defaultFFprobeBinary),
		log:         log,
	}
}

func resolveBinary(configured, fallback string) string {
	if configured != "" {
		return configured
	}

	resolved, err := exec.LookPath(fallback)
	if err != nil {
		return ""
	}

	return resolved
}

// Available reports whether ffmpeg was resolved. Without it, container
// assembly is skipped and reference-audio conversion is unavailable.
func (t *Tools) Available() bool {
	return t.ffmpegPath != ""
}

// EnsureCompatible converts a reference recording to the pipeline format
// (mono WAV at the fixed sample rate), writing a sibling file with the
// compatible suffix. An already-converted file, or an existing sibling, is
// reused. Conversion failure is fatal for voice cloning and is returned as
// an error rather than silently degrading.
func (t *Tools) EnsureCompatible(ctx context.Context, path string) (string, error) {
	if strings.HasSuffix(path, compatibleSuffix) {
		return path, nil
	}

	ext := filepath.Ext(path)
	converted := strings.TrimSuffix(path, ext) + compatibleSuffix

	if fileExists(converted) {
		return converted, nil
	}

	if !t.Available() {
		return "", fmt.Errorf("cannot convert reference audio %q: %w", path, ErrFFmpegNotFound)
	}

	t.log.Info("Converting %s to %d Hz mono WAV", filepath.Base(path), core.SampleRate)

	err := t.runFFmpeg(ctx,
		"-y",
		"-i", path,
		"-ar", strconv.Itoa(core.SampleRate),
		"-ac", "1",
		converted,
	)
	if err != nil {
		return "", fmt.Errorf("failed to convert reference audio %q: %w", path, err)
	}

	return converted, nil
}

// ProbeDuration returns an audio file's duration in seconds. A probe
// failure degrades to 0.0 and is logged, never propagated: chapter-marker
// generation continues with a zero-length chapter.
func (t *Tools) ProbeDuration(ctx context.Context, path string) float64 {
	if t.ffprobePath == "" {
		return 0.0
	}

	// #nosec G204 -- binary path resolved at construction, path is a produced artifact
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-i", path,
		"-show_entries", "format=duration",
		"-v", "quiet",
		"-of", "default=noprint_wrappers=1:nokey=1",
	)

	output, err := cmd.Output()
	if err != nil {
		t.log.Warn("Failed to probe duration of %s: %v", path, err)

		return 0.0
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		t.log.Warn("Unparseable ffprobe output for %s: %v", path, err)

		return 0.0
	}

	return seconds
}

// EncodeMP3 re-encodes an intermediate lossless chapter file to the
// per-chapter MP3 artifact.
func (t *Tools) EncodeMP3(ctx context.Context, wavPath, mp3Path string) error {
	if !t.Available() {
		return ErrFFmpegNotFound
	}

	err := t.runFFmpeg(ctx,
		"-y",
		"-i", wavPath,
		"-codec:a", mp3Codec,
		"-qscale:a", mp3QScale,
		mp3Path,
	)
	if err != nil {
		return fmt.Errorf("failed to encode %q to mp3: %w", wavPath, err)
	}

	return nil
}

// ConcatCopy losslessly joins the files listed in a concat manifest into a
// single intermediate file, without re-encoding.
func (t *Tools) ConcatCopy(ctx context.Context, manifestPath, outputPath string) error {
	if !t.Available() {
		return ErrFFmpegNotFound
	}

	err := t.runFFmpeg(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("failed to concatenate chapters: %w", err)
	}

	return nil
}

// Mux produces the final chaptered container from the concatenated audio,
// the chapter metadata file and an optional cover image. The audio is
// re-encoded to a low-bitrate lossy codec suited to long-form speech;
// global metadata is mapped from the metadata input.
func (t *Tools) Mux(ctx context.Context, audioPath, metadataPath, coverPath, outputPath string) error {
	if !t.Available() {
		return ErrFFmpegNotFound
	}

	args := []string{
		"-y",
		"-i", audioPath,
		"-i", metadataPath,
	}

	if coverPath != "" {
		args = append(args,
			"-i", coverPath,
			"-map", "2:v",
			"-disposition:v", "attached_pic",
			"-c:v", "copy",
		)
	}

	args = append(args,
		"-map", "0:a",
		"-c:a", muxAudioCodec,
		"-b:a", muxAudioBitrate,
		"-map_metadata", "1",
		"-f", muxFormat,
		outputPath,
	)

	err := t.runFFmpeg(ctx, args...)
	if err != nil {
		return fmt.Errorf("failed to mux container: %w", err)
	}

	return nil
}

// runFFmpeg invokes ffmpeg with the given arguments, capturing stderr for
// diagnostics on failure.
func (t *Tools) runFFmpeg(ctx context.Context, args ...string) error {
	// #nosec G204 -- binary path resolved at construction, arguments built internally
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("ffmpeg %s: %w - output: %s",
			strings.Join(args, " "), err, stderr.String())
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
