package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ictashik/OpenDataTagger/internal/dataset"
	"github.com/ictashik/OpenDataTagger/internal/llm"
	"github.com/ictashik/OpenDataTagger/internal/metrics"
	"github.com/ictashik/OpenDataTagger/internal/models"
	"github.com/ictashik/OpenDataTagger/internal/prompt"
)

// DefaultCheckpointEvery is the number of rows between checkpoints.
const DefaultCheckpointEvery = 10

// Inferrer answers one prompt pair. *llm.Client is the production implementation.
type Inferrer interface {
	Infer(ctx context.Context, systemPrompt, userPrompt string) llm.Result
}

// ModelSelector returns an Inferrer bound to a named model.
type ModelSelector func(ctx context.Context, name string) (Inferrer, error)

// Tagger annotates a dataset row by row, checkpointing to disk as it goes.
type Tagger struct {
	infer           Inferrer
	selectModel     ModelSelector
	files           *FileRegistry
	checkpointEvery int
	collector       *metrics.Collector
	recorder        *metrics.Recorder
	logger          *slog.Logger
}

// TaggerOption configures a Tagger.
type TaggerOption func(*Tagger)

// WithCheckpointEvery sets the checkpoint interval in rows.
func WithCheckpointEvery(n int) TaggerOption {
	return func(t *Tagger) {
		if n > 0 {
			t.checkpointEvery = n
		}
	}
}

// WithModelSelector enables per-request model selection.
func WithModelSelector(s ModelSelector) TaggerOption {
	return func(t *Tagger) { t.selectModel = s }
}

// WithMetrics records checkpoint timings and row counts.
func WithMetrics(c *metrics.Collector, r *metrics.Recorder) TaggerOption {
	return func(t *Tagger) {
		t.collector = c
		t.recorder = r
	}
}

// WithTaggerLogger sets the logger. Defaults to slog.Default().
func WithTaggerLogger(l *slog.Logger) TaggerOption {
	return func(t *Tagger) { t.logger = l }
}

// NewTagger creates a Tagger.
func NewTagger(infer Inferrer, files *FileRegistry, opts ...TaggerOption) *Tagger {
	t := &Tagger{
		infer:           infer,
		files:           files,
		checkpointEvery: DefaultCheckpointEvery,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClientSelector adapts an llm.Client to a ModelSelector.
func ClientSelector(c *llm.Client) ModelSelector {
	return func(ctx context.Context, name string) (Inferrer, error) {
		return c.WithModel(ctx, name)
	}
}

// tagRun is the mutable state of one Run.
type tagRun struct {
	*Tagger
	job     *Job
	infer   Inferrer
	ds      *dataset.Dataset
	paths   models.FilePaths
	pending []models.LogEntry
	logger  *slog.Logger
}

// Run executes job.Request to completion, cancellation or failure.
// Every outcome ends in a terminal status; Run never panics.
func (t *Tagger) Run(ctx context.Context, job *Job) {
	r := &tagRun{
		Tagger: t,
		job:    job,
		infer:  t.infer,
		logger: t.logger.With("job_id", job.ID),
	}

	defer func() {
		if p := recover(); p != nil {
			r.abort(ctx, fmt.Errorf("internal panic: %v", p))
		}
	}()

	if err := r.run(ctx); err != nil {
		r.abort(ctx, err)
		return
	}
	job.finish()
	r.logger.Info("job finished", "rows", r.ds.Len())
}

func (r *tagRun) run(ctx context.Context) error {
	req := r.job.Request

	ds, err := dataset.Load(req.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	r.ds = ds
	total := ds.Len()
	r.job.begin(total)

	tagged, logs := dataset.OutputPaths(req.DatasetPath)
	r.paths = models.FilePaths{TaggedFile: tagged, LogsFile: logs}
	r.job.setFiles(r.paths)
	// Registered before the first row so a crash on row 0 is still recoverable.
	if err := r.files.Register(ctx, r.job.ID, r.paths); err != nil {
		r.logger.Warn("failed to register output files", "error", err)
	}

	if req.Model != "" && r.selectModel != nil {
		infer, err := r.selectModel(ctx, req.Model)
		if err != nil {
			return fmt.Errorf("select model %s: %w", req.Model, err)
		}
		r.infer = infer
	}

	defs := req.Definitions
	if defs == nil {
		defs = dataset.LoadDefinitions(req.ConfigPath)
	}
	columns := slices.Clone(ds.Columns)
	for _, d := range defs {
		ds.EnsureColumn(d.OutputColumn)
	}
	if err := ds.Save(tagged); err != nil {
		return fmt.Errorf("write tagged file: %w", err)
	}
	if err := dataset.ResetLogs(logs); err != nil {
		return fmt.Errorf("reset logs file: %w", err)
	}

	system := prompt.SystemPrompt(columns, total)
	r.logger.Info("tagging dataset", "rows", total, "outputs", len(defs), "checkpoint_every", r.checkpointEvery)

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return ErrJobCancelled
		}

		row := ds.Row(i)
		entries := make([]models.LogEntry, 0, len(defs))
		var providerErr string
		for _, d := range defs {
			rendered := prompt.Render(d.PromptTemplate, row, req.InputColumns)
			result := r.infer.Infer(ctx, system, prompt.UserPrompt(row, columns, rendered))
			if f, ok := result.(llm.Failed); ok && f.Fatal {
				providerErr = f.Reason
			}
			best, explanation := result.Answer()
			entries = append(entries, models.LogEntry{
				RowIndex:    i,
				Column:      d.OutputColumn,
				Prompt:      rendered,
				BestAnswer:  best,
				Explanation: explanation,
			})
		}
		// A row interrupted by cancellation is dropped, not half-written.
		if ctx.Err() != nil {
			return ErrJobCancelled
		}
		for _, e := range entries {
			ds.Set(i, e.Column, e.BestAnswer)
		}
		r.pending = append(r.pending, entries...)

		done := i + 1
		r.job.advance(done)
		r.recorder.RowProcessed(ctx)
		// Cells still get the error sentinel; the note tells the poller
		// that later rows will likely fail the same way.
		if providerErr != "" {
			r.job.note(fmt.Sprintf("Model provider rejected row %d/%d: %s", done, total, providerErr))
		}

		if done%r.checkpointEvery == 0 || done == total {
			r.checkpoint(ctx, done, total)
		}
	}

	if total == 0 {
		r.checkpoint(ctx, 0, 0)
	}
	return nil
}

// checkpoint flushes the dataset and pending logs. Failures are reported
// in the status note and the job carries on.
func (r *tagRun) checkpoint(ctx context.Context, row, total int) {
	start := time.Now()
	err := r.flush()
	if regErr := r.files.Register(ctx, r.job.ID, r.paths); regErr != nil {
		err = errors.Join(err, regErr)
	}
	if r.collector != nil {
		r.collector.RecordTiming(metrics.OpCheckpoint, time.Since(start))
	}

	if err != nil {
		r.recorder.Checkpoint(ctx, metrics.OutcomeFailed)
		r.logger.Warn("checkpoint failed", "row", row, "error", err)
		r.job.note(fmt.Sprintf("Checkpoint failed at row %d/%d: %v", row, total, err))
		return
	}
	r.recorder.Checkpoint(ctx, metrics.OutcomeOK)
	r.job.saved(time.Now())
	r.logger.Debug("checkpoint saved", "row", row)
}

// flush writes the tagged file and appends pending logs, clearing the
// batch only once it is on disk.
func (r *tagRun) flush() error {
	var errs []error
	if err := r.ds.Save(r.paths.TaggedFile); err != nil {
		errs = append(errs, fmt.Errorf("save tagged file: %w", err))
	}
	if err := dataset.AppendLogs(r.paths.LogsFile, r.pending); err != nil {
		errs = append(errs, fmt.Errorf("append logs: %w", err))
	} else {
		r.pending = nil
	}
	return errors.Join(errs...)
}

// abort moves the job to the error state and saves what it can.
func (r *tagRun) abort(ctx context.Context, cause error) {
	r.job.fail(cause)
	if errors.Is(cause, ErrJobCancelled) {
		r.logger.Info("job cancelled")
	} else {
		r.logger.Error("job failed", "error", cause)
	}

	if r.ds == nil || r.paths.TaggedFile == "" {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("partial flush panicked", "panic", p)
		}
	}()
	if err := r.flush(); err != nil {
		r.logger.Error("partial flush failed", "error", err)
		return
	}
	r.job.mu.Lock()
	now := time.Now()
	r.job.LastSave = &now
	r.job.mu.Unlock()
}
