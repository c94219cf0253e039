// Package jobs owns the per-acquisition job state machine and the
// orchestrator that drives strategy attempts until one succeeds or the
// ladder is exhausted. Jobs live only in process memory; history is
// deliberately not persisted, a lost job is simply re-requested.
package jobs

import (
	"sync"

	"github.com/google/uuid"

	"github.com/R005ter/fwp/database"
)

type JobID string

func NewJobID() JobID {
	// Short IDs, matching the storage key scheme; collision space is
	// per-process and jobs are short-lived.
	return JobID(uuid.NewString()[:8])
}

type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// rank orders statuses so transitions can be checked monotonic.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// Snapshot is the poller-visible state of a job. Progress is an
// indicator, not a correctness-critical value.
type Snapshot struct {
	Status       Status
	Progress     float64
	Title        string
	Filename     string
	Err          string
	Warning      string
	AttemptIndex int
}

// A Job is one tenant's in-flight acquisition. All writes come from the
// job's own worker goroutine; reads come from any status poller.
type Job struct {
	ID             JobID
	TenantID       database.RowID
	SourceIdentity string

	mu   sync.RWMutex
	snap Snapshot
	done chan struct{}
}

func newJob(tenantID database.RowID, sourceIdentity string) *Job {
	return &Job{
		ID:             NewJobID(),
		TenantID:       tenantID,
		SourceIdentity: sourceIdentity,
		snap:           Snapshot{Status: StatusQueued},
		done:           make(chan struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snap
}

// Done closes when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// setStatus advances the state machine; backward transitions and writes
// after a terminal state are ignored rather than errors, since the only
// writer is the job's own goroutine and a violation is a bug, not a
// runtime condition.
func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.snap.Status.Terminal() || s.rank() < j.snap.Status.rank() {
		return
	}
	j.snap.Status = s
}

// setProgress records progress, enforcing monotonic non-decrease; the
// tool restarts its percentage counter per stream, the poller must not
// see that.
func (j *Job) setProgress(percent float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if percent > j.snap.Progress {
		j.snap.Progress = percent
	}
}

func (j *Job) setTitle(title string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snap.Title = title
}

func (j *Job) setAttempt(index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snap.AttemptIndex = index
}

func (j *Job) setWarning(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snap.Warning = msg
}

func (j *Job) complete(filename string) {
	j.mu.Lock()
	if !j.snap.Status.Terminal() {
		j.snap.Status = StatusComplete
		j.snap.Filename = filename
		j.snap.Progress = 100
	}
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	if !j.snap.Status.Terminal() {
		j.snap.Status = StatusFailed
		if err != nil {
			j.snap.Err = err.Error()
		}
	}
	j.mu.Unlock()
	close(j.done)
}
