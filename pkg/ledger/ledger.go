package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/events"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/rs/zerolog"
)

// Sequence hands out job ids
type Sequence interface {
	NextJobID() (int64, error)
}

// Publisher receives job lifecycle events
type Publisher interface {
	Publish(event *events.Event)
}

// Ledger tracks the jobs of one device. All methods are safe for
// concurrent use; every read returns a copy.
type Ledger struct {
	mu       sync.Mutex
	seq      Sequence
	instance string
	jobs     map[int64]*types.Job
	active   int64

	broker Publisher
	now    func() time.Time
	logger zerolog.Logger
}

// New creates an empty ledger. instance identifies this process lifetime
// and is stamped on every job.
func New(seq Sequence, instance string) *Ledger {
	return &Ledger{
		seq:      seq,
		instance: instance,
		jobs:     make(map[int64]*types.Job),
		now:      time.Now,
		logger:   log.WithComponent("ledger"),
	}
}

// SetBroker sets the event publisher. Call before the ledger is shared.
func (l *Ledger) SetBroker(b Publisher) {
	l.broker = b
}

// Instance returns the boot id stamped on jobs
func (l *Ledger) Instance() string {
	return l.instance
}

// Create registers a new processing job without checking for active ones.
// An already active job stays the one Admit reports as blocking.
func (l *Ledger) Create(kind types.JobKind, target string) (*types.Job, error) {
	l.mu.Lock()
	job, err := l.createLocked(kind, target)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.publish(events.EventJobCreated, job, "")
	return job, nil
}

// Admit creates a job only if no other job is active. The check and the
// creation happen under one lock; a refusal carries the blocking job id.
func (l *Ledger) Admit(kind types.JobKind, target string) (*types.Job, error) {
	l.mu.Lock()
	if l.active != 0 {
		id := l.active
		l.mu.Unlock()
		return nil, errdefs.Busy(id)
	}
	job, err := l.createLocked(kind, target)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.publish(events.EventJobCreated, job, "")
	return job, nil
}

func (l *Ledger) createLocked(kind types.JobKind, target string) (*types.Job, error) {
	id, err := l.seq.NextJobID()
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	now := l.now()
	job := &types.Job{
		ID:          id,
		Kind:        kind,
		Target:      target,
		Instance:    l.instance,
		Status:      types.JobStatusProcessing,
		Progress:    0,
		Log:         []types.LogEntry{{Time: now, Message: fmt.Sprintf("%s %s started", kind, target)}},
		TimeStarted: now,
	}
	l.jobs[id] = job
	if l.active == 0 {
		l.active = id
	}
	return job.Clone(), nil
}

// Record appends a log entry to a job
func (l *Ledger) Record(id int64, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[id]
	if !ok {
		return errdefs.NotFoundf("job %d not found", id)
	}
	job.Log = append(job.Log, types.LogEntry{Time: l.now(), Message: message})
	return nil
}

// UpdateProgress raises the progress of a running job. Values outside
// [0,100], decreases and updates to terminal jobs are ignored.
func (l *Ledger) UpdateProgress(id int64, v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[id]
	if !ok {
		return errdefs.NotFoundf("job %d not found", id)
	}
	if v < 0 || v > 100 || job.Status.Terminal() || v <= job.Progress {
		return nil
	}
	job.Progress = v
	return nil
}

// Complete marks a job as successfully finished
func (l *Ledger) Complete(id int64) error {
	return l.finish(id, types.JobStatusComplete, "completed")
}

// Error marks a job as failed with the given reason
func (l *Ledger) Error(id int64, message string) error {
	return l.finish(id, types.JobStatusError, message)
}

// Cancel marks a job as terminated
func (l *Ledger) Cancel(id int64) error {
	return l.finish(id, types.JobStatusTerminated, "terminated")
}

func (l *Ledger) finish(id int64, status types.JobStatus, message string) error {
	l.mu.Lock()
	job, ok := l.jobs[id]
	if !ok {
		l.mu.Unlock()
		return errdefs.NotFoundf("job %d not found", id)
	}
	if job.Status.Terminal() {
		l.mu.Unlock()
		return nil
	}

	now := l.now()
	job.Status = status
	job.Progress = 100
	job.Log = append(job.Log, types.LogEntry{Time: now, Message: message})
	job.TimeFinished = &now
	if l.active == id {
		l.active = 0
	}
	out := job.Clone()
	l.mu.Unlock()

	switch status {
	case types.JobStatusComplete:
		l.publish(events.EventJobCompleted, out, "")
	case types.JobStatusError:
		l.publish(events.EventJobFailed, out, message)
	default:
		l.publish(events.EventJobTerminated, out, "")
	}
	return nil
}

// Get returns a copy of a job
func (l *Ledger) Get(id int64) (*types.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.jobs[id]
	if !ok {
		return nil, errdefs.NotFoundf("job %d not found", id)
	}
	return job.Clone(), nil
}

// Active returns the non-terminal job, or nil when the device is idle
func (l *Ledger) Active() *types.Job {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == 0 {
		return nil
	}
	return l.jobs[l.active].Clone()
}

// Snapshot returns copies of every job keyed by id
func (l *Ledger) Snapshot() map[int64]*types.Job {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[int64]*types.Job, len(l.jobs))
	for id, job := range l.jobs {
		out[id] = job.Clone()
	}
	return out
}

// IDs returns the ids of every job in ascending order
func (l *Ledger) IDs() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]int64, 0, len(l.jobs))
	for id := range l.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear removes every job, active or not. The id sequence is not reset.
func (l *Ledger) Clear() int {
	l.mu.Lock()
	n := len(l.jobs)
	l.jobs = make(map[int64]*types.Job)
	l.active = 0
	l.mu.Unlock()

	l.logger.Info().Int("jobs", n).Msg("Job ledger cleared")
	if l.broker != nil {
		l.broker.Publish(&events.Event{
			Type:     events.EventJobsCleared,
			Message:  fmt.Sprintf("%d jobs cleared", n),
			Metadata: map[string]string{"count": strconv.Itoa(n), "instance": l.instance},
		})
	}
	return n
}

func (l *Ledger) publish(t events.EventType, job *types.Job, message string) {
	logger := log.WithJobID(job.ID)
	logger.Debug().Str("kind", string(job.Kind)).Str("status", string(job.Status)).Msg("Job " + string(t))

	if l.broker == nil {
		return
	}
	l.broker.Publish(&events.Event{
		ID:      strconv.FormatInt(job.ID, 10),
		Type:    t,
		Message: message,
		Metadata: map[string]string{
			"job_id":   strconv.FormatInt(job.ID, 10),
			"kind":     string(job.Kind),
			"target":   job.Target,
			"status":   string(job.Status),
			"duration": jobDuration(job).String(),
		},
	})
}

func jobDuration(job *types.Job) time.Duration {
	if job.TimeFinished == nil {
		return 0
	}
	return job.TimeFinished.Sub(job.TimeStarted)
}
