package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ictashik/OpenDataTagger/internal/dataset"
	"github.com/ictashik/OpenDataTagger/internal/models"
)

// ErrResultsNotFound is returned when no output file can be located for a job.
var ErrResultsNotFound = errors.New("results not found")

// ResolveOutputFiles locates a job's output files. The registry entry wins
// when its tagged file exists; otherwise the paths are derived from
// datasetHint and, if that tagged file exists, registered again.
func (m *JobManager) ResolveOutputFiles(ctx context.Context, jobID, datasetHint string) (models.FilePaths, error) {
	if jobID != "" {
		paths, ok, err := m.files.Lookup(ctx, jobID)
		if err != nil {
			m.logger.Warn("file registry lookup failed", "job_id", jobID, "error", err)
		}
		if ok && fileExists(paths.TaggedFile) {
			return paths, nil
		}
	}

	if datasetHint == "" {
		return models.FilePaths{}, ErrResultsNotFound
	}
	tagged, logs := dataset.OutputPaths(datasetHint)
	if !fileExists(tagged) {
		return models.FilePaths{}, fmt.Errorf("%s: %w", tagged, ErrResultsNotFound)
	}

	paths := models.FilePaths{TaggedFile: tagged, LogsFile: logs}
	if jobID != "" {
		if err := m.files.Register(ctx, jobID, paths); err != nil {
			m.logger.Warn("failed to re-register output files", "job_id", jobID, "error", err)
		} else {
			m.logger.Info("re-registered output files", "job_id", jobID, "tagged_file", tagged)
		}
	}
	return paths, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CleanupOptions selects which job records Cleanup removes.
type CleanupOptions struct {
	MinAge time.Duration
	DryRun bool
	// Force selects every record, running ones included.
	Force bool
}

// CleanupItem describes one selected record.
type CleanupItem struct {
	JobID    string        `json:"job_id"`
	Status   string        `json:"status"`
	Done     int           `json:"done"`
	Total    int           `json:"total"`
	Age      time.Duration `json:"age"`
	AgeHours float64       `json:"age_hours"`
}

// CleanupReport lists the selected records and whether they were removed.
type CleanupReport struct {
	Selected []CleanupItem `json:"selected"`
	Removed  int           `json:"removed"`
	Kept     int           `json:"kept"`
	DryRun   bool          `json:"dry_run"`
}

// eligible reports whether a record may be reaped without force: it must
// be older than minAge and not visibly advancing.
func eligible(snap JobSnapshot, age, minAge time.Duration) bool {
	if age <= minAge {
		return false
	}
	return snap.Status.Terminal() || !snap.Status.Advancing()
}

// Cleanup removes old job records from memory. File registry entries are
// left to expire on their own, and removing a running job does not stop it.
func (m *JobManager) Cleanup(opts CleanupOptions) CleanupReport {
	now := m.now()
	report := CleanupReport{DryRun: opts.DryRun, Selected: []CleanupItem{}}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, job := range m.jobs {
		snap := job.Snapshot()
		age := now.Sub(snap.StartedAt)
		if !opts.Force && !eligible(snap, age, opts.MinAge) {
			report.Kept++
			continue
		}

		report.Selected = append(report.Selected, CleanupItem{
			JobID:    id,
			Status:   snap.Status.String(),
			Done:     snap.Done,
			Total:    snap.Total,
			Age:      age,
			AgeHours: age.Hours(),
		})
		if !opts.DryRun {
			delete(m.jobs, id)
			report.Removed++
		}
	}

	slices.SortFunc(report.Selected, func(a, b CleanupItem) int {
		return cmp.Compare(b.Age, a.Age)
	})

	if !opts.DryRun && report.Removed > 0 {
		m.logger.Info("cleaned up jobs", "removed", report.Removed, "kept", report.Kept, "force", opts.Force)
	}
	return report
}
