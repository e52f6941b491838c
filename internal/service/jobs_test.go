package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictashik/OpenDataTagger/internal/dataset"
)

func TestJobMonotonicProgress(t *testing.T) {
	job := &Job{ID: "j"}
	job.begin(5)

	job.advance(2)
	job.advance(1)
	assert.Equal(t, 2, job.Snapshot().Done, "done never decreases")

	job.advance(9)
	assert.Equal(t, 2, job.Snapshot().Done, "done never exceeds total")

	job.finish()
	job.advance(3)
	job.fail(errors.New("late"))
	job.note("late note")

	snap := job.Snapshot()
	assert.Equal(t, "finished", snap.Status.String(), "terminal status is final")
	assert.Equal(t, 5, snap.Done)
}

func TestJobNoteClearedByNextRow(t *testing.T) {
	job := &Job{ID: "j"}
	job.begin(3)
	job.advance(1)
	job.note("Checkpoint failed at row 1/3: disk full")
	assert.Equal(t, "Checkpoint failed at row 1/3: disk full", job.Snapshot().Status.String())

	job.advance(2)
	assert.Equal(t, "Processing row 2/3", job.Snapshot().Status.String())
}

func TestSampledProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t, constantReply("Best Answer: yes\nExplanation: ok"))
	source := env.writeFoods(t, 40)

	job, err := env.manager.Start(context.Background(), Request{DatasetPath: source, Definitions: vegetarian})
	require.NoError(t, err)

	last := 0
	terminal := false
	for {
		snap, err := env.manager.Poll(context.Background(), job.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.Done, last)
		assert.LessOrEqual(t, snap.Done, snap.Total)
		if terminal {
			assert.True(t, snap.Terminal(), "left terminal state: %s", snap.Status)
			break
		}
		last = snap.Done
		terminal = snap.Terminal()
		if !terminal {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStartValidatesDataset(t *testing.T) {
	env := newTestEnv(t, constantReply(""))

	_, err := env.manager.Start(context.Background(), Request{})
	assert.Error(t, err)

	_, err = env.manager.Start(context.Background(), Request{DatasetPath: filepath.Join(env.dir, "missing.csv")})
	assert.Error(t, err)
	assert.Empty(t, env.manager.List())
}

func TestGetUnknownJob(t *testing.T) {
	env := newTestEnv(t, constantReply(""))

	_, err := env.manager.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, env.manager.Cancel("nope"), ErrJobNotFound)
	_, err = env.manager.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListMostRecentFirst(t *testing.T) {
	env := newTestEnv(t, constantReply(""))
	now := time.Now()
	env.manager.register(&Job{ID: "old", StartedAt: now.Add(-time.Hour)})
	env.manager.register(&Job{ID: "new", StartedAt: now})
	env.manager.register(&Job{ID: "mid", StartedAt: now.Add(-time.Minute)})

	var ids []string
	for _, j := range env.manager.List() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

func TestRunnerPanicBecomesError(t *testing.T) {
	env := newTestEnv(t, constantReply(""))
	env.manager.runner = runnerFunc(func(context.Context, *Job) { panic("boom") })
	source := env.writeFoods(t, 1)

	job, err := env.manager.Start(context.Background(), Request{DatasetPath: source})
	require.NoError(t, err)

	assert.Equal(t, "error: internal panic: boom", env.wait(t, job.ID).Status.String())
}

func TestConcurrentJobsAreIndependent(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, func(string, string) (string, error) {
		calls.Add(1)
		return "Best Answer: yes\nExplanation: ok", nil
	})
	first := env.writeDataset(t, "foods.csv", 5)
	second := env.writeDataset(t, "dishes.csv", 5)

	a, err := env.manager.Start(context.Background(), Request{DatasetPath: first, Definitions: vegetarian})
	require.NoError(t, err)
	b, err := env.manager.Start(context.Background(), Request{DatasetPath: second, Definitions: vegetarian})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "finished", env.wait(t, a.ID).Status.String())
	assert.Equal(t, "finished", env.wait(t, b.ID).Status.String())
	assert.Equal(t, int32(10), calls.Load())

	counts := env.manager.Counts()
	assert.Equal(t, int64(2), counts["finished"])
	assert.Equal(t, int64(0), counts["running"])
}

func TestStartRejectsBusyDataset(t *testing.T) {
	env := newTestEnv(t, constantReply(""))
	release := make(chan struct{})
	env.manager.runner = runnerFunc(func(context.Context, *Job) { <-release })
	source := env.writeFoods(t, 1)

	running, err := env.manager.Start(context.Background(), Request{DatasetPath: source})
	require.NoError(t, err)

	_, err = env.manager.Start(context.Background(), Request{DatasetPath: source})
	require.ErrorIs(t, err, ErrDatasetBusy)
	assert.Len(t, env.manager.List(), 1, "rejected job is not registered")

	close(release)
	env.wait(t, running.ID)

	_, err = env.manager.Start(context.Background(), Request{DatasetPath: source})
	assert.NoError(t, err, "dataset is free once the first job ends")
}

func TestRerunReplacesLogs(t *testing.T) {
	env := newTestEnv(t, constantReply("Best Answer: yes\nExplanation: ok"))
	source := env.writeFoods(t, 5)
	_, logs := dataset.OutputPaths(source)

	for run := 1; run <= 2; run++ {
		job, err := env.manager.Start(context.Background(), Request{DatasetPath: source, Definitions: vegetarian})
		require.NoError(t, err)
		assert.Equal(t, "finished", env.wait(t, job.ID).Status.String())

		entries, err := dataset.ReadLogs(logs)
		require.NoError(t, err)
		assert.Len(t, entries, 5, "run %d", run)
	}
}

type runnerFunc func(ctx context.Context, job *Job)

func (f runnerFunc) Run(ctx context.Context, job *Job) { f(ctx, job) }
