// Package service runs annotation jobs and tracks their progress.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ictashik/OpenDataTagger/internal/models"
)

// Errors returned by the job registry.
var (
	ErrJobNotFound  = errors.New("no progress data found")
	ErrJobCancelled = errors.New("job cancelled")
	ErrDatasetBusy  = errors.New("dataset already has a running job")
)

// Request describes one annotation run.
type Request struct {
	DatasetPath  string
	ConfigPath   string
	InputColumns []string
	// Definitions overrides ConfigPath when non-nil.
	Definitions []models.OutputDefinition
	// Model selects a model of the configured provider; empty uses the default.
	Model string
}

// Job is the live progress record of one annotation run.
// Only the goroutine running the job writes to it.
type Job struct {
	ID         string
	Request    Request
	Done       int
	Total      int
	Status     Status
	TaggedFile string
	LogsFile   string
	StartedAt  time.Time
	LastUpdate time.Time
	LastSave   *time.Time

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

// JobSnapshot is a point-in-time copy of a Job's progress fields.
type JobSnapshot struct {
	ID         string
	Request    Request
	Done       int
	Total      int
	Status     Status
	TaggedFile string
	LogsFile   string
	StartedAt  time.Time
	LastUpdate time.Time
	LastSave   *time.Time
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobSnapshot{
		ID:         j.ID,
		Request:    j.Request,
		Done:       j.Done,
		Total:      j.Total,
		Status:     j.Status,
		TaggedFile: j.TaggedFile,
		LogsFile:   j.LogsFile,
		StartedAt:  j.StartedAt,
		LastUpdate: j.LastUpdate,
		LastSave:   j.LastSave,
	}
}

// Finished returns a channel closed when the job's goroutine exits.
func (j *Job) Finished() <-chan struct{} {
	return j.done
}

// update applies fn unless the job already reached a terminal status.
func (j *Job) update(fn func(j *Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	fn(j)
	j.LastUpdate = time.Now()
}

func (j *Job) begin(total int) {
	j.update(func(j *Job) {
		j.Total = total
		j.Status = Running(0, total)
	})
}

func (j *Job) setFiles(paths models.FilePaths) {
	j.update(func(j *Job) {
		j.TaggedFile = paths.TaggedFile
		j.LogsFile = paths.LogsFile
	})
}

func (j *Job) advance(done int) {
	j.update(func(j *Job) {
		if done < j.Done || done > j.Total {
			return
		}
		j.Done = done
		j.Status = Running(done, j.Total)
	})
}

func (j *Job) note(text string) {
	j.update(func(j *Job) {
		j.Status.Note = text
	})
}

func (j *Job) saved(at time.Time) {
	j.update(func(j *Job) {
		j.LastSave = &at
	})
}

func (j *Job) finish() {
	j.update(func(j *Job) {
		j.Done = j.Total
		j.Status = Finished()
	})
}

func (j *Job) fail(err error) {
	j.update(func(j *Job) {
		j.Status = Errored(err.Error())
	})
}

// Runner executes one job. *Tagger is the production implementation.
type Runner interface {
	Run(ctx context.Context, job *Job)
}

// JobManager tracks annotation jobs in memory. Records live until removed
// by Cleanup; nothing expires them automatically.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	runner Runner
	files  *FileRegistry
	logger *slog.Logger
	now    func() time.Time
}

// NewJobManager creates an empty registry that starts jobs with runner.
func NewJobManager(runner Runner, files *FileRegistry, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		runner: runner,
		files:  files,
		logger: logger,
		now:    time.Now,
	}
}

// Start registers a job and runs it in its own goroutine. It returns
// as soon as the record is visible to pollers.
func (m *JobManager) Start(ctx context.Context, req Request) (*Job, error) {
	if req.DatasetPath == "" {
		return nil, errors.New("dataset path required")
	}
	if _, err := os.Stat(req.DatasetPath); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}

	// The job outlives the request that started it.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := m.now()
	job := &Job{
		ID:         uuid.New().String(),
		Request:    req,
		Status:     Running(0, 0),
		StartedAt:  now,
		LastUpdate: now,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if busy := m.activeFor(req.DatasetPath); busy != nil {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: job %s", ErrDatasetBusy, busy.ID)
	}
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job started", "job_id", job.ID, "dataset", req.DatasetPath, "model", req.Model)

	go func() {
		defer close(job.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				job.fail(fmt.Errorf("internal panic: %v", r))
			}
		}()
		m.runner.Run(jobCtx, job)
	}()

	return job, nil
}

// activeFor returns the job whose goroutine is still working on path.
// Both runs would write the same output files. Callers hold m.mu.
func (m *JobManager) activeFor(path string) *Job {
	for _, job := range m.jobs {
		if job.Request.DatasetPath != path {
			continue
		}
		select {
		case <-job.done:
		default:
			return job
		}
	}
	return nil
}

// register adds an existing record. Used when restoring state and in tests.
func (m *JobManager) register(job *Job) {
	if job.done == nil {
		job.done = make(chan struct{})
		close(job.done)
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
}

// Get retrieves a job by ID.
func (m *JobManager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// List returns all jobs, most recent first.
func (m *JobManager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Cancel asks a running job to stop before its next row.
func (m *JobManager) Cancel(id string) error {
	job, err := m.Get(id)
	if err != nil {
		return err
	}
	if job.cancel != nil {
		job.cancel()
	}
	m.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// Wait blocks until the job's goroutine exits or ctx ends.
func (m *JobManager) Wait(ctx context.Context, id string) (JobSnapshot, error) {
	job, err := m.Get(id)
	if err != nil {
		return JobSnapshot{}, err
	}
	select {
	case <-job.Finished():
		return job.Snapshot(), nil
	case <-ctx.Done():
		return job.Snapshot(), ctx.Err()
	}
}

// Counts returns the number of jobs per state, for metrics.
func (m *JobManager) Counts() map[string]int64 {
	counts := map[string]int64{
		StateRunning.String():  0,
		StateFinished.String(): 0,
		StateError.String():    0,
	}
	for _, job := range m.List() {
		counts[job.Snapshot().Status.State.String()]++
	}
	return counts
}
