// Package worker_test tests the NATS worker for the audiobook service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/synthesis"
	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/book-expert/audiobook-service/internal/worker"
)

var errMockDownload = errors.New("mock download error")

// mockObjectStore serves canned chapter text and records uploads.
type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	objects            map[string][]byte
	uploadedKeys       []string
	uploadedData       map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{
		mu:                 sync.Mutex{},
		downloadShouldFail: false,
		objects:            map[string][]byte{},
		uploadedKeys:       nil,
		uploadedData:       map[string][]byte{},
	}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errMockDownload, key)
	}

	return data, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploadedKeys = append(m.uploadedKeys, key)
	m.uploadedData[key] = data

	return nil
}

// fakeEngine returns a constant waveform for every segment.
type fakeEngine struct{}

func (e *fakeEngine) ResolveVoice(_ context.Context, spec core.VoiceSpec) (core.Voice, error) {
	preset := spec.Preset
	if preset == "" || preset == core.PresetCustom {
		preset = core.DefaultPreset
	}

	return core.Voice{Reference: spec.RefAudioPath, Preset: preset}, nil
}

func (e *fakeEngine) Synthesize(_ context.Context, _ core.Voice, _ string) ([]float32, error) {
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 0.1
	}

	return samples, nil
}

// fakeTools writes real output files without invoking external binaries.
type fakeTools struct{}

func (f *fakeTools) Available() bool {
	return true
}

func (f *fakeTools) EnsureCompatible(_ context.Context, path string) (string, error) {
	return path, nil
}

func (f *fakeTools) ProbeDuration(_ context.Context, _ string) float64 {
	return 1.0
}

func (f *fakeTools) EncodeMP3(_ context.Context, wavPath, mp3Path string) error {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return fmt.Errorf("fake encode failed to read %q: %w", wavPath, err)
	}

	err = os.WriteFile(mp3Path, data, 0o600)
	if err != nil {
		return fmt.Errorf("fake encode failed to write %q: %w", mp3Path, err)
	}

	return nil
}

func (f *fakeTools) ConcatCopy(_ context.Context, _, outputPath string) error {
	err := os.WriteFile(outputPath, []byte("concatenated"), 0o600)
	if err != nil {
		return fmt.Errorf("fake concat failed to write %q: %w", outputPath, err)
	}

	return nil
}

func (f *fakeTools) Mux(_ context.Context, _, _, _, outputPath string) error {
	err := os.WriteFile(outputPath, []byte("container"), 0o600)
	if err != nil {
		return fmt.Errorf("fake mux failed to write %q: %w", outputPath, err)
	}

	return nil
}

func okVerifier(_ string, _ int) (bool, []string) {
	return true, nil
}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		server.Shutdown()
		natsConnection.Close()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T) (*worker.NatsWorker, *mockObjectStore, *nats.Conn) {
	t.Helper()

	mockStore := newMockObjectStore()
	mockStore.objects["ch1.txt"] = []byte("The first chapter begins. It also ends.")
	mockStore.objects["ch2.txt"] = []byte("The second chapter is brief.")

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	book := synthesis.NewBookWithVerifier(
		&fakeEngine{},
		text.NewRuleSegmenter(),
		&fakeTools{},
		okVerifier,
		testLogger,
	)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection,
		jetstreamContext,
		"test_subject",
		mockStore,
		book,
		t.TempDir(),
		"",
		testLogger,
	)
	require.NoError(t, err)

	return workerInstance, mockStore, natsConnection
}

func newTestEvent() *worker.BookSynthesisRequestedEvent {
	return &worker.BookSynthesisRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Chapters: []worker.ChapterRef{
			{Name: "Chapter One", TextKey: "ch1.txt"},
			{Name: "Chapter Two", TextKey: "ch2.txt"},
		},
		Title:       "Test Book",
		Author:      "Test Author",
		CoverKey:    "",
		RefAudioKey: "",
		VoicePreset: "",
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	workerInstance, mockStore, natsConnection := setupTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	testEvent := newTestEvent()

	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request("test_subject", eventData, 30*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent worker.AudiobookCreatedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.True(t, replyEvent.Combined, "tools are available, so a container should ship")
	require.Len(t, replyEvent.ArtifactKeys, 1)
	assert.True(t, strings.HasSuffix(replyEvent.ArtifactKeys[0], ".m4b"))

	mockStore.mu.Lock()
	uploaded := mockStore.uploadedData[replyEvent.ArtifactKeys[0]]
	mockStore.mu.Unlock()

	assert.NotEmpty(t, uploaded, "the container bytes should have been uploaded")

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_NoChapters(t *testing.T) {
	t.Parallel()

	workerInstance, _, natsConnection := setupTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = workerInstance.Run(ctx)
	}()

	testEvent := newTestEvent()
	testEvent.Chapters = nil

	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	// An invalid job is dropped without a reply.
	_, err = natsConnection.Request("test_subject", eventData, 2*time.Second)
	require.ErrorIs(t, err, nats.ErrTimeout)
}

func TestMessageHandler_DownloadFailure(t *testing.T) {
	t.Parallel()

	workerInstance, mockStore, natsConnection := setupTest(t)
	mockStore.downloadShouldFail = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = workerInstance.Run(ctx)
	}()

	eventData, err := json.Marshal(newTestEvent())
	require.NoError(t, err)

	// A failed job logs and drops the message rather than replying.
	_, err = natsConnection.Request("test_subject", eventData, 2*time.Second)
	require.ErrorIs(t, err, nats.ErrTimeout)
}
