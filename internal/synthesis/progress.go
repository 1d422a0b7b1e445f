package synthesis

import "sync/atomic"

// Snapshot is an immutable view of a synthesis run's progress. Writers
// replace the whole snapshot atomically; readers never block and never
// observe a torn update. Revision increases monotonically so an observer
// can detect missed updates without locks.
type Snapshot struct {
	Percent  float64
	Status   string
	Running  bool
	Revision uint64
}

// Tracker holds the progress snapshot for one synthesis surface. It
// follows single-writer/multiple-reader discipline: only the orchestration
// goroutine calls Set.
type Tracker struct {
	current  atomic.Pointer[Snapshot]
	revision atomic.Uint64
}

// NewTracker creates a tracker in the idle state.
func NewTracker() *Tracker {
	tracker := &Tracker{}
	tracker.current.Store(&Snapshot{
		Percent:  0,
		Status:   "Idle",
		Running:  false,
		Revision: 0,
	})

	return tracker
}

// Set publishes a new snapshot.
func (t *Tracker) Set(percent float64, status string, running bool) {
	t.current.Store(&Snapshot{
		Percent:  percent,
		Status:   status,
		Running:  running,
		Revision: t.revision.Add(1),
	})
}

// Snapshot returns the latest published snapshot.
func (t *Tracker) Snapshot() Snapshot {
	return *t.current.Load()
}
