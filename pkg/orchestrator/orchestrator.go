package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/ledger"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/runtime"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/rs/zerolog"
)

// Ticket statuses
const (
	TicketOK   = "ok"
	TicketBusy = "busy"
)

// Clearance statuses
const (
	ClearanceReady = "ready"
	ClearanceBusy  = "busy"
)

// Ticket is the outcome of an admission attempt
type Ticket struct {
	Status string `json:"status"`
	JobID  int64  `json:"job_id"`
}

// Busy reports whether the request was refused
func (t Ticket) Busy() bool {
	return t.Status == TicketBusy
}

// Clearance tells whether the device can accept new work
type Clearance struct {
	Status string `json:"status"`
	JobID  int64  `json:"job_id,omitempty"`
}

// Config holds orchestrator configuration
type Config struct {
	Runtime runtime.Runtime
	Ledger  *ledger.Ledger
	// StopTimeout is the grace period given to superseded containers
	StopTimeout time.Duration
}

// work is one admitted job waiting for the worker
type work struct {
	job *types.Job
	run func(ctx context.Context, job *types.Job) error
}

// Orchestrator executes container actions for one device. Mutations are
// admitted through the ledger and run on a single background worker.
type Orchestrator struct {
	runtime     runtime.Runtime
	ledger      *ledger.Ledger
	stopTimeout time.Duration
	logger      zerolog.Logger

	// mu orders admission and enqueueing against ClearJobs
	mu    sync.Mutex
	queue chan *work
	// sem is held by whoever runs or clears jobs
	sem chan struct{}

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	doneCh     chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// New creates an orchestrator. Call Start to begin executing jobs.
func New(cfg Config) *Orchestrator {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = runtime.DefaultStopTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		runtime:     cfg.Runtime,
		ledger:      cfg.Ledger,
		stopTimeout: stopTimeout,
		logger:      log.WithComponent("orchestrator"),
		queue:       make(chan *work, 1),
		sem:         make(chan struct{}, 1),
		baseCtx:     ctx,
		baseCancel:  cancel,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the background worker
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		go o.run()
	})
}

// Stop cancels the running action and waits for the worker to exit
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.baseCancel()
		close(o.stopCh)
	})
	// a worker that never started has nothing to wait for
	o.startOnce.Do(func() { close(o.doneCh) })
	<-o.doneCh
}

// Ledger returns the job ledger
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.ledger
}

// SetConfiguration admits a job applying rc and returns without waiting
// for it. A busy device yields a busy ticket naming the blocking job.
func (o *Orchestrator) SetConfiguration(rc *types.ResolvedConfiguration) (Ticket, error) {
	return o.submit(types.JobKindSetConfiguration, rc.Name, func(ctx context.Context, job *types.Job) error {
		return o.applyConfiguration(ctx, job, rc)
	})
}

// PullImage admits a job pulling ref
func (o *Orchestrator) PullImage(ref string) (Ticket, error) {
	return o.submit(types.JobKindPullImage, ref, func(ctx context.Context, job *types.Job) error {
		return o.pullImage(ctx, job, ref)
	})
}

func (o *Orchestrator) submit(kind types.JobKind, target string, run func(context.Context, *types.Job) error) (Ticket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, err := o.ledger.Admit(kind, target)
	if err != nil {
		var busy *errdefs.BusyError
		if errors.As(err, &busy) {
			return Ticket{Status: TicketBusy, JobID: busy.JobID}, nil
		}
		return Ticket{}, err
	}

	// single-flight admission keeps at most one item queued
	o.queue <- &work{job: job, run: run}

	logger := log.WithJobID(job.ID)
	logger.Info().Str("kind", string(kind)).Str("target", target).Msg("Job admitted")
	return Ticket{Status: TicketOK, JobID: job.ID}, nil
}

// Status returns a job by id
func (o *Orchestrator) Status(id int64) (*types.Job, error) {
	return o.ledger.Get(id)
}

// Clearance reports whether a new job would be admitted
func (o *Orchestrator) Clearance() Clearance {
	if job := o.ledger.Active(); job != nil {
		return Clearance{Status: ClearanceBusy, JobID: job.ID}
	}
	return Clearance{Status: ClearanceReady}
}

// ContainerStatus lists the containers on the device
func (o *Orchestrator) ContainerStatus(ctx context.Context) ([]types.ContainerStatus, error) {
	containers, err := o.runtime.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return containers, nil
}

// ClearJobs cancels the running action, waits until the worker is idle and
// empties the ledger. ctx bounds the wait.
func (o *Orchestrator) ClearJobs(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// the worker may register its action just after a cancel, so keep
	// cancelling until it lets go of the semaphore
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for acquired := false; !acquired; {
		o.cancelRunning()
		select {
		case o.sem <- struct{}{}:
			acquired = true
		case <-ticker.C:
		case <-ctx.Done():
			return 0, fmt.Errorf("failed to wait for running job: %w", ctx.Err())
		}
	}
	defer func() { <-o.sem }()

	// drop admitted jobs the worker has not picked up yet
	select {
	case w := <-o.queue:
		o.logger.Debug().Int64("job_id", w.job.ID).Msg("Dropping queued job")
	default:
	}

	return o.ledger.Clear(), nil
}

func (o *Orchestrator) cancelRunning() {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) run() {
	defer close(o.doneCh)
	o.logger.Info().Msg("Orchestrator worker started")

	for {
		select {
		case w := <-o.queue:
			o.execute(w)
		case <-o.stopCh:
			o.logger.Info().Msg("Orchestrator worker stopped")
			return
		}
	}
}

func (o *Orchestrator) execute(w *work) {
	select {
	case o.sem <- struct{}{}:
	case <-o.stopCh:
		_ = o.ledger.Cancel(w.job.ID)
		return
	}
	defer func() { <-o.sem }()

	// the ledger may have been cleared while the job was queued
	if _, err := o.ledger.Get(w.job.ID); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.cancelMu.Lock()
	o.cancel = cancel
	o.cancelMu.Unlock()
	defer func() {
		o.cancelMu.Lock()
		o.cancel = nil
		o.cancelMu.Unlock()
		cancel()
	}()

	logger := log.WithJobID(w.job.ID)
	logger.Info().Str("kind", string(w.job.Kind)).Str("target", w.job.Target).Msg("Job started")

	err := w.run(ctx, w.job)
	switch {
	case err == nil:
		_ = o.ledger.Complete(w.job.ID)
		logger.Info().Msg("Job completed")
	case ctx.Err() != nil:
		_ = o.ledger.Cancel(w.job.ID)
		logger.Warn().Msg("Job terminated")
	default:
		_ = o.ledger.Error(w.job.ID, err.Error())
		logger.Error().Err(err).Msg("Job failed")
	}
}
