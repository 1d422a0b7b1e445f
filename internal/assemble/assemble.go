// Package assemble builds the final chaptered audiobook container from the
// per-chapter artifacts: chapter-marker metadata, lossless concatenation,
// and the final mux with embedded metadata and optional cover art.
package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/text"
)

// Artifact names and extensions.
const (
	chaptersFileName   = "chapters.txt"
	coverFileName      = "cover.jpg"
	manifestSuffix     = "_file_list.txt"
	intermediateSuffix = ".tmp.mp4"
	containerExtension = ".m4b"
)

// Chapter metadata format: a byte-for-byte-significant external interface
// consumed by the mux tool. Offsets are cumulative milliseconds; each
// chapter's START equals the previous chapter's END.
const (
	metadataHeaderFormat = ";FFMETADATA1\ntitle=%s\nartist=%s\n\n"
	chapterBlockFormat   = "[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=Chapter %d\n\n"
	manifestLineFormat   = "file '%s'\n"
	millisPerSecond      = 1000
)

// File permissions for produced artifacts.
const filePermissions = 0o600

// Assembler packages per-chapter audio files into one chaptered container.
type Assembler struct {
	tools core.AudioTools
	log   *logger.Logger
}

// New creates an Assembler using the given external tools.
func New(tools core.AudioTools, log *logger.Logger) *Assembler {
	return &Assembler{
		tools: tools,
		log:   log,
	}
}

// Assemble produces the final container in outputDir from the ordered
// chapter files. Each stage is a distinct failure domain: any external tool
// failure aborts assembly with an error, and the caller falls back to
// shipping the uncombined per-chapter files. On success the intermediate
// concatenation, the metadata file and the temporary cover are removed;
// the chapter files are intentionally retained as a resume cache.
func (a *Assembler) Assemble(
	ctx context.Context,
	chapterFiles []string,
	meta core.BookMetadata,
	outputDir string,
) (string, error) {
	baseName := text.SanitizeName(meta.Title + " - " + meta.Author)

	chaptersPath, err := a.writeChaptersFile(ctx, chapterFiles, meta, outputDir)
	if err != nil {
		return "", err
	}

	intermediatePath, err := a.concatenate(ctx, chapterFiles, outputDir, baseName)
	if err != nil {
		return "", err
	}

	coverPath, err := a.writeCover(meta.Cover, outputDir)
	if err != nil {
		return "", err
	}

	finalPath := filepath.Join(outputDir, baseName+containerExtension)

	muxErr := a.tools.Mux(ctx, intermediatePath, chaptersPath, coverPath, finalPath)
	if muxErr != nil {
		return "", fmt.Errorf("container mux failed: %w", muxErr)
	}

	a.cleanup(intermediatePath, chaptersPath, coverPath)

	a.log.Info("Created %s", finalPath)

	return finalPath, nil
}

// writeChaptersFile emits the chapter-marker metadata file. A probe failure
// for any chapter degrades to a zero-length marker rather than failing
// assembly.
func (a *Assembler) writeChaptersFile(
	ctx context.Context,
	chapterFiles []string,
	meta core.BookMetadata,
	outputDir string,
) (string, error) {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf(metadataHeaderFormat, meta.Title, meta.Author))

	startMillis := int64(0)

	for i, chapterFile := range chapterFiles {
		duration := a.tools.ProbeDuration(ctx, chapterFile)
		endMillis := startMillis + int64(duration*millisPerSecond)

		builder.WriteString(fmt.Sprintf(chapterBlockFormat, startMillis, endMillis, i+1))

		startMillis = endMillis
	}

	chaptersPath := filepath.Join(outputDir, chaptersFileName)

	err := os.WriteFile(chaptersPath, []byte(builder.String()), filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write chapter metadata: %w", err)
	}

	return chaptersPath, nil
}

// concatenate writes the concat manifest, joins the chapter files in copy
// mode, and deletes the manifest afterwards.
func (a *Assembler) concatenate(
	ctx context.Context,
	chapterFiles []string,
	outputDir, baseName string,
) (string, error) {
	var builder strings.Builder

	for _, chapterFile := range chapterFiles {
		absolutePath, err := filepath.Abs(chapterFile)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %q: %w", chapterFile, err)
		}

		builder.WriteString(fmt.Sprintf(manifestLineFormat, absolutePath))
	}

	manifestPath := filepath.Join(outputDir, baseName+manifestSuffix)

	err := os.WriteFile(manifestPath, []byte(builder.String()), filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write concat manifest: %w", err)
	}

	intermediatePath := filepath.Join(outputDir, baseName+intermediateSuffix)

	concatErr := a.tools.ConcatCopy(ctx, manifestPath, intermediatePath)

	removeErr := os.Remove(manifestPath)
	if removeErr != nil {
		a.log.Warn("Failed to remove concat manifest '%s': %v", manifestPath, removeErr)
	}

	if concatErr != nil {
		return "", fmt.Errorf("chapter concatenation failed: %w", concatErr)
	}

	return intermediatePath, nil
}

// writeCover persists the cover bytes to a temporary file for the mux. A
// nil cover means no artwork is embedded, which is not an error.
func (a *Assembler) writeCover(cover []byte, outputDir string) (string, error) {
	if len(cover) == 0 {
		return "", nil
	}

	coverPath := filepath.Join(outputDir, coverFileName)

	err := os.WriteFile(coverPath, cover, filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write cover image: %w", err)
	}

	return coverPath, nil
}

// cleanup removes the intermediate artifacts after a successful mux.
func (a *Assembler) cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}

		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			a.log.Warn("Failed to remove intermediate file '%s': %v", path, err)
		}
	}
}
