// abook is a local command-line front end for the synthesis pipeline: it
// reads chapter text files from a directory and produces a chaptered
// audiobook without going through NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/engine"
	"github.com/book-expert/audiobook-service/internal/ffmpeg"
	"github.com/book-expert/audiobook-service/internal/synthesis"
	"github.com/book-expert/audiobook-service/internal/text"
)

// Flag descriptions.
const (
	flagDirDesc     = "Directory containing chapter .txt files (sorted by name)"
	flagOutDesc     = "Output directory for the audiobook"
	flagTitleDesc   = "Book title for metadata and the spoken intro"
	flagAuthorDesc  = "Book author for metadata and the spoken intro"
	flagCoverDesc   = "Optional cover image (JPEG) to embed"
	flagRefDesc     = "Optional reference audio for voice cloning"
	flagPresetDesc  = "Optional voice preset name"
	flagEngineDesc  = "Speech engine binary (default: pocket-tts on PATH)"
	flagURLDesc     = "Speech service URL (uses the HTTP engine when set)"
	flagPreviewDesc = "Write a short voice preview WAV to this path and exit"
)

// Environment variable names honored from the .env file.
const (
	envEngineBinary = "ABOOK_ENGINE_BINARY"
	envEngineURL    = "ABOOK_ENGINE_URL"
)

const (
	logFileName        = "abook.log"
	chapterGlob        = "*.txt"
	pollInterval       = 200 * time.Millisecond
	defaultHTTPTimeout = 300 * time.Second
)

// ErrNoChapterFiles indicates the chapter directory held no text files.
var ErrNoChapterFiles = errors.New("no chapter text files found")

type appFlags struct {
	dir       string
	out       string
	title     string
	author    string
	cover     string
	refAudio  string
	preset    string
	engineBin string
	engineURL string
	preview   string
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.dir, "dir", "", flagDirDesc)
	flag.StringVar(&flags.out, "out", ".", flagOutDesc)
	flag.StringVar(&flags.title, "title", "Audiobook", flagTitleDesc)
	flag.StringVar(&flags.author, "author", "Unknown", flagAuthorDesc)
	flag.StringVar(&flags.cover, "cover", "", flagCoverDesc)
	flag.StringVar(&flags.refAudio, "ref", "", flagRefDesc)
	flag.StringVar(&flags.preset, "preset", "", flagPresetDesc)
	flag.StringVar(&flags.engineBin, "engine", os.Getenv(envEngineBinary), flagEngineDesc)
	flag.StringVar(&flags.engineURL, "url", os.Getenv(envEngineURL), flagURLDesc)
	flag.StringVar(&flags.preview, "preview", "", flagPreviewDesc)
	flag.Parse()

	return flags
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	// A missing .env file is fine; flags and the process environment win.
	_ = godotenv.Load()

	flags := parseFlags()

	abookLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	chapters, err := loadChapters(flags.dir)
	if err != nil {
		return err
	}

	meta, err := loadMetadata(flags)
	if err != nil {
		return err
	}

	tools := ffmpeg.New("", "", abookLog)

	speechEngine, err := buildEngine(flags, tools, abookLog)
	if err != nil {
		return err
	}

	spec := core.VoiceSpec{
		RefAudioPath: flags.refAudio,
		Preset:       flags.preset,
	}

	if flags.preview != "" {
		return writePreview(flags.preview, chapters[0].Text, speechEngine, spec, abookLog)
	}

	book := synthesis.NewBook(speechEngine, text.NewRuleSegmenter(), tools, abookLog)
	runner := synthesis.NewRunner(book)

	startErr := runner.Start(chapters, flags.out, spec, meta)
	if startErr != nil {
		return fmt.Errorf("failed to start synthesis: %w", startErr)
	}

	watchProgress(runner)
	runner.Wait()

	result, runErr := runner.Result()
	if runErr != nil {
		return fmt.Errorf("synthesis failed: %w", runErr)
	}

	printResult(result)

	return nil
}

// loadChapters reads every chapter file in lexical order; file names become
// chapter names.
func loadChapters(dir string) ([]core.Chapter, error) {
	if dir == "" {
		return nil, ErrNoChapterFiles
	}

	paths, err := filepath.Glob(filepath.Join(dir, chapterGlob))
	if err != nil {
		return nil, fmt.Errorf("failed to list chapter files: %w", err)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChapterFiles, dir)
	}

	sort.Strings(paths)

	chapters := make([]core.Chapter, 0, len(paths))

	for i, path := range paths {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read chapter file %q: %w", path, readErr)
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		chapters = append(chapters, core.Chapter{
			Index:    i,
			Name:     name,
			Text:     string(data),
			Length:   len(data),
			Selected: true,
		})
	}

	return chapters, nil
}

func loadMetadata(flags appFlags) (core.BookMetadata, error) {
	meta := core.BookMetadata{
		Title:  flags.title,
		Author: flags.author,
		Cover:  nil,
	}

	if flags.cover != "" {
		cover, err := os.ReadFile(flags.cover)
		if err != nil {
			return meta, fmt.Errorf("failed to read cover image: %w", err)
		}

		meta.Cover = cover
	}

	return meta, nil
}

func buildEngine(
	flags appFlags,
	tools *ffmpeg.Tools,
	abookLog *logger.Logger,
) (core.VoiceEngine, error) {
	if flags.engineURL != "" {
		return engine.NewHTTPEngine(flags.engineURL, defaultHTTPTimeout, tools, abookLog), nil
	}

	cliEngine, err := engine.NewCLIEngine(flags.engineBin, tools, abookLog)
	if err != nil {
		return nil, fmt.Errorf("failed to construct speech engine: %w", err)
	}

	return cliEngine, nil
}

// writePreview synthesizes the opening of the first chapter and writes it
// as a WAV file, for auditioning a voice before a full run.
func writePreview(
	outPath, chapterText string,
	speechEngine core.VoiceEngine,
	spec core.VoiceSpec,
	abookLog *logger.Logger,
) error {
	ctx := context.Background()

	pipeline, err := synthesis.NewPipeline(ctx, speechEngine, text.NewRuleSegmenter(), spec, abookLog)
	if err != nil {
		return fmt.Errorf("failed to prepare preview pipeline: %w", err)
	}

	wavData, err := pipeline.Preview(ctx, chapterText)
	if err != nil {
		return fmt.Errorf("failed to synthesize preview: %w", err)
	}

	err = os.WriteFile(outPath, wavData, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write preview to %q: %w", outPath, err)
	}

	fmt.Printf("Preview: %s\n", outPath)

	return nil
}

// watchProgress polls the progress snapshot and prints status transitions
// until the run leaves the running state.
func watchProgress(runner *synthesis.Runner) {
	var lastRevision uint64

	for {
		snapshot := runner.Progress()

		if snapshot.Revision != lastRevision {
			lastRevision = snapshot.Revision

			fmt.Printf("[%5.1f%%] %s\n", snapshot.Percent, snapshot.Status)
		}

		if !snapshot.Running && snapshot.Revision > 0 {
			return
		}

		time.Sleep(pollInterval)
	}
}

func printResult(result core.Result) {
	if result.Combined() {
		fmt.Printf("Audiobook: %s\n", result.ContainerPath)

		return
	}

	fmt.Printf("Chapter files (%d):\n", len(result.ChapterFiles))

	for _, chapterFile := range result.ChapterFiles {
		fmt.Printf("  %s\n", chapterFile)
	}
}
