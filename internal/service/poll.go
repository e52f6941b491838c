package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ictashik/OpenDataTagger/internal/dataset"
	"github.com/ictashik/OpenDataTagger/internal/models"
)

// PollLogLimit is the number of recent log entries returned by Poll.
const PollLogLimit = 10

// ProgressSnapshot is what a poller sees of a job.
type ProgressSnapshot struct {
	JobID      string            `json:"job_id"`
	Done       int               `json:"done"`
	Total      int               `json:"total"`
	Status     string            `json:"status"`
	State      string            `json:"state"`
	Logs       []models.LogEntry `json:"logs"`
	LogsNote   string            `json:"logs_note,omitempty"`
	FilesSaved bool              `json:"files_saved"`
	LastSave   string            `json:"last_save"`
}

// Terminal reports whether the job will make no further progress.
func (p ProgressSnapshot) Terminal() bool {
	return p.State != StateRunning.String()
}

// Poll reads a job's progress without blocking its runner. Problems
// reading the logs file are reported in LogsNote, never as an error.
func (m *JobManager) Poll(ctx context.Context, id string) (ProgressSnapshot, error) {
	job, err := m.Get(id)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	snap := job.Snapshot()

	out := ProgressSnapshot{
		JobID:  snap.ID,
		Done:   snap.Done,
		Total:  snap.Total,
		Status: snap.Status.String(),
		State:  snap.Status.State.String(),
		Logs:   []models.LogEntry{},
	}
	if snap.LastSave != nil {
		out.LastSave = snap.LastSave.Format(time.RFC3339)
	}

	if snap.LogsFile != "" {
		entries, err := dataset.TailLogs(snap.LogsFile, PollLogLimit)
		switch {
		case err == nil:
			out.Logs = entries
		case errors.Is(err, fs.ErrNotExist):
			out.LogsNote = "No logs written yet"
		default:
			out.LogsNote = fmt.Sprintf("Could not read logs: %v", err)
		}
	}

	if _, ok, err := m.files.Lookup(ctx, id); err != nil {
		m.logger.Warn("file registry lookup failed", "job_id", id, "error", err)
	} else {
		out.FilesSaved = ok
	}
	return out, nil
}
