// Package worker provides a NATS worker that processes audiobook synthesis
// jobs: it pulls chapter text and cover art from the object store, runs the
// book synthesis pipeline, and uploads the resulting artifacts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/synthesis"
	"github.com/book-expert/audiobook-service/internal/text"
)

// synthesisTimeout bounds one whole book job; long-form books run for
// hours.
const synthesisTimeout = 6 * time.Hour

// Artifact key extensions.
const (
	containerKeySuffix = ".m4b"
	chapterKeySuffix   = ".mp3"
)

// Static errors.
var (
	// ErrNoChapters indicates a job without any chapter references.
	ErrNoChapters = errors.New("job contains no chapters")
)

// ChapterRef points at one chapter's text in the object store.
type ChapterRef struct {
	Name    string `json:"name"`
	TextKey string `json:"text_key"`
}

// BookSynthesisRequestedEvent is the job payload consumed from the request
// subject.
type BookSynthesisRequestedEvent struct {
	Header      events.EventHeader `json:"header"`
	Chapters    []ChapterRef       `json:"chapters"`
	Title       string             `json:"title"`
	Author      string             `json:"author"`
	CoverKey    string             `json:"cover_key,omitempty"`
	RefAudioKey string             `json:"ref_audio_key,omitempty"`
	VoicePreset string             `json:"voice_preset,omitempty"`
}

// AudiobookCreatedEvent is the reply published when a job completes.
type AudiobookCreatedEvent struct {
	Header       events.EventHeader `json:"header"`
	ArtifactKeys []string           `json:"artifact_keys"`
	Combined     bool               `json:"combined"`
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes
// them strictly sequentially: the voice engine is a single-instance,
// stateful resource.
type NatsWorker struct {
	natsConnection   *nats.Conn
	jetstreamContext nats.JetStreamContext
	subject          string
	store            core.ObjectStore
	book             *synthesis.Book
	outputDir        string
	defaultPreset    string
	log              *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. defaultPreset, when
// non-empty, is applied to jobs that carry no voice choice of their own.
func NewNatsWorker(
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	subject string,
	store core.ObjectStore,
	book *synthesis.Book,
	outputDir string,
	defaultPreset string,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection:   natsConnection,
		jetstreamContext: jetstreamContext,
		subject:          subject,
		store:            store,
		book:             book,
		outputDir:        outputDir,
		defaultPreset:    defaultPreset,
		log:              log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	artifactKeys, combined, processErr := w.processJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process synthesis job for event %s: %v",
			event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &AudiobookCreatedEvent{
		Header:       event.Header,
		ArtifactKeys: artifactKeys,
		Combined:     combined,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v",
			event.Header.WorkflowID, err)
	}
}

// processJob materializes the job inputs, runs the synthesis pipeline, and
// uploads the produced artifacts. It returns the uploaded keys and whether
// they form a single chaptered container.
func (w *NatsWorker) processJob(
	ctx context.Context,
	event *BookSynthesisRequestedEvent,
) ([]string, bool, error) {
	chapters, err := w.downloadChapters(ctx, event.Chapters)
	if err != nil {
		return nil, false, err
	}

	meta, err := w.buildMetadata(ctx, event)
	if err != nil {
		return nil, false, err
	}

	spec, cleanupRef, err := w.buildVoiceSpec(ctx, event)
	if err != nil {
		return nil, false, err
	}
	defer cleanupRef()

	bookDir := filepath.Join(w.outputDir, text.SanitizeName(event.Title))

	result, err := w.book.Run(ctx, chapters, bookDir, spec, meta, w.logProgress())
	if err != nil {
		return nil, false, fmt.Errorf("synthesis failed: %w", err)
	}

	return w.uploadArtifacts(ctx, result)
}

func (w *NatsWorker) downloadChapters(
	ctx context.Context,
	refs []ChapterRef,
) ([]core.Chapter, error) {
	if len(refs) == 0 {
		return nil, ErrNoChapters
	}

	chapters := make([]core.Chapter, 0, len(refs))

	for i, ref := range refs {
		textData, err := w.store.Download(ctx, ref.TextKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download chapter text for key '%s': %w",
				ref.TextKey, err)
		}

		chapters = append(chapters, core.Chapter{
			Index:    i,
			Name:     ref.Name,
			Text:     string(textData),
			Length:   len(textData),
			Selected: true,
		})
	}

	return chapters, nil
}

func (w *NatsWorker) buildMetadata(
	ctx context.Context,
	event *BookSynthesisRequestedEvent,
) (core.BookMetadata, error) {
	meta := core.BookMetadata{
		Title:  event.Title,
		Author: event.Author,
		Cover:  nil,
	}

	if event.CoverKey != "" {
		cover, err := w.store.Download(ctx, event.CoverKey)
		if err != nil {
			return meta, fmt.Errorf("failed to download cover for key '%s': %w",
				event.CoverKey, err)
		}

		meta.Cover = cover
	}

	return meta, nil
}

// buildVoiceSpec materializes a cloning reference from the object store
// into a temp file when the job carries one. The returned cleanup removes
// that file.
func (w *NatsWorker) buildVoiceSpec(
	ctx context.Context,
	event *BookSynthesisRequestedEvent,
) (core.VoiceSpec, func(), error) {
	preset := event.VoicePreset
	if preset == "" {
		preset = w.defaultPreset
	}

	spec := core.VoiceSpec{
		RefAudioPath: "",
		Preset:       preset,
	}

	if event.RefAudioKey == "" {
		return spec, func() {}, nil
	}

	refData, err := w.store.Download(ctx, event.RefAudioKey)
	if err != nil {
		return spec, func() {}, fmt.Errorf("failed to download reference audio for key '%s': %w",
			event.RefAudioKey, err)
	}

	refFile, err := os.CreateTemp("", "abook-ref-*"+filepath.Ext(event.RefAudioKey))
	if err != nil {
		return spec, func() {}, fmt.Errorf("failed to create temp file for reference audio: %w", err)
	}

	refPath := refFile.Name()

	_, writeErr := refFile.Write(refData)
	closeErr := refFile.Close()

	if writeErr != nil || closeErr != nil {
		return spec, func() {}, fmt.Errorf("failed to persist reference audio to '%s': %w",
			refPath, errors.Join(writeErr, closeErr))
	}

	spec.RefAudioPath = refPath

	cleanup := func() {
		removeErr := os.Remove(refPath)
		if removeErr != nil {
			w.log.Warn("Failed to remove temp reference audio '%s': %v", refPath, removeErr)
		}
	}

	return spec, cleanup, nil
}

func (w *NatsWorker) uploadArtifacts(
	ctx context.Context,
	result core.Result,
) ([]string, bool, error) {
	if result.Combined() {
		key, err := w.uploadFile(ctx, result.ContainerPath, containerKeySuffix)
		if err != nil {
			return nil, false, err
		}

		return []string{key}, true, nil
	}

	keys := make([]string, 0, len(result.ChapterFiles))

	for _, chapterFile := range result.ChapterFiles {
		key, err := w.uploadFile(ctx, chapterFile, chapterKeySuffix)
		if err != nil {
			return nil, false, err
		}

		keys = append(keys, key)
	}

	return keys, false, nil
}

func (w *NatsWorker) uploadFile(ctx context.Context, path, suffix string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact '%s': %w", path, err)
	}

	key := uuid.NewString() + suffix

	err = w.store.Upload(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact for key '%s': %w", key, err)
	}

	return key, nil
}

// logProgress adapts the progress callback to the worker log, reporting
// status transitions without flooding the log at sentence granularity.
func (w *NatsWorker) logProgress() core.ProgressFunc {
	var lastStatus string

	return func(percent float64, status string) {
		if status == lastStatus {
			return
		}

		lastStatus = status

		w.log.Info("[%3.0f%%] %s", percent, status)
	}
}

// publishReplyEvent marshals and responds with the AudiobookCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *AudiobookCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*BookSynthesisRequestedEvent, error) {
	var event BookSynthesisRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if len(event.Chapters) == 0 {
		return nil, ErrNoChapters
	}

	return &event, nil
}
