package synthesis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/book-expert/audiobook-service/internal/core"
)

// ErrRunInProgress is returned when a start is requested while a run is
// active; a synthesis surface drives at most one run at a time because the
// voice engine is a single-instance, stateful resource.
var ErrRunInProgress = errors.New("synthesis already in progress")

// Terminal status messages.
const (
	statusStarting        = "Starting..."
	statusStopped         = "Stopped"
	statusFmtError        = "Error: %v"
	statusFmtSavedTo      = "Complete! Saved to %s"
	statusFmtChaptersMade = "Complete! Generated %d chapters."
)

// Runner executes one book synthesis at a time on a background goroutine,
// publishing progress through a Tracker and supporting cooperative
// cancellation. Observers poll Progress; the initiating caller may block on
// Wait.
type Runner struct {
	book    *Book
	tracker *Tracker

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	result core.Result
	runErr error
}

// NewRunner wraps a Book synthesizer with run lifecycle management.
func NewRunner(book *Book) *Runner {
	return &Runner{
		book:    book,
		tracker: NewTracker(),
		mu:      sync.Mutex{},
		cancel:  nil,
		done:    nil,
		result:  core.Result{},
		runErr:  nil,
	}
}

// Start launches a synthesis run in the background. It fails with
// ErrRunInProgress when a run is already active.
func (r *Runner) Start(
	chapters []core.Chapter,
	outputDir string,
	spec core.VoiceSpec,
	meta core.BookMetadata,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		select {
		case <-r.done:
			// Previous run finished; fall through and start a new one.
		default:
			return ErrRunInProgress
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.tracker.Set(0, statusStarting, true)

	go r.run(ctx, chapters, outputDir, spec, meta)

	return nil
}

// Stop requests cooperative cancellation of the active run. The run
// terminates at the next sentence boundary with the Stopped status; percent
// stays pinned at the last reported value.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
}

// Progress returns the latest progress snapshot.
func (r *Runner) Progress() Snapshot {
	return r.tracker.Snapshot()
}

// Wait blocks until the active run reaches a terminal state. It returns
// immediately when no run was started.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Result returns the outcome of the most recent completed run.
func (r *Runner) Result() (core.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.result, r.runErr
}

func (r *Runner) run(
	ctx context.Context,
	chapters []core.Chapter,
	outputDir string,
	spec core.VoiceSpec,
	meta core.BookMetadata,
) {
	onProgress := func(percent float64, status string) {
		r.tracker.Set(percent, status, true)
	}

	result, err := r.book.Run(ctx, chapters, outputDir, spec, meta, onProgress)

	r.mu.Lock()
	r.result = result
	r.runErr = err

	done := r.done
	r.mu.Unlock()

	r.publishTerminal(result, err)
	close(done)
}

// publishTerminal maps the run outcome onto the status channel. The channel
// always ends in exactly one of: completed with a container path, completed
// with per-chapter files, stopped, or an error message; percent is pinned
// to its last value on stop and error rather than reset.
func (r *Runner) publishTerminal(result core.Result, err error) {
	lastPercent := r.tracker.Snapshot().Percent

	switch {
	case errors.Is(err, core.ErrStopped):
		r.tracker.Set(lastPercent, statusStopped, false)
	case err != nil:
		r.tracker.Set(lastPercent, fmt.Sprintf(statusFmtError, err), false)
	case result.Combined():
		r.tracker.Set(percentComplete,
			fmt.Sprintf(statusFmtSavedTo, filepath.Base(result.ContainerPath)), false)
	default:
		r.tracker.Set(percentComplete,
			fmt.Sprintf(statusFmtChaptersMade, len(result.ChapterFiles)), false)
	}
}
