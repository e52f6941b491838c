package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/llm"
	"github.com/ictashik/OpenDataTagger/internal/llm/llmtest"
	"github.com/ictashik/OpenDataTagger/internal/models"
	"github.com/ictashik/OpenDataTagger/internal/server"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := kv.NewMemory()
	files := service.NewFileRegistry(store, 0)
	fake := llmtest.Constant("Best Answer: sweet\nExplanation: it has sugar")
	inference := llm.NewClient(llm.NewModelFrom(fake, "fake"), store)
	jobs := service.NewJobManager(service.NewTagger(inference, files), files, nil)

	srv := server.New(server.Deps{
		Jobs:    jobs,
		LLM:     inference,
		Store:   store,
		DataDir: t.TempDir(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClientFlow(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL + "/")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Health(ctx))

	data := writeFile(t, "fruit.csv", "Fruit\napple\nlemon\n")
	up, err := c.Upload(ctx, data, "")
	require.NoError(t, err)
	assert.Equal(t, "fruit.csv", up.Dataset)
	assert.Equal(t, []string{"Fruit"}, up.Columns)

	cols, err := c.DefineColumns(ctx, []string{"Fruit"}, []models.OutputDefinition{
		{OutputColumn: "Taste", PromptTemplate: "How does {Fruit} taste?"},
	})
	require.NoError(t, err)
	require.Len(t, cols.Definitions, 1)

	require.NoError(t, c.SelectModel(ctx, "fake"))

	id, err := c.StartTagging(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var last service.ProgressSnapshot
	require.NoError(t, c.Watch(ctx, id, func(s service.ProgressSnapshot) error {
		last = s
		return nil
	}))
	assert.Equal(t, "finished", last.State)
	assert.Equal(t, 2, last.Done)

	progress, err := c.Progress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "finished", progress.Status)

	res, err := c.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, res.JobID)
	assert.Equal(t, 2, res.Rows)

	var buf bytes.Buffer
	require.NoError(t, c.Download(ctx, "tagged", &buf))
	assert.Equal(t, "Fruit,Taste\napple,sweet\nlemon,sweet\n", buf.String())

	status, err := c.LLMStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake", status.Model)
	assert.EqualValues(t, 2, status.Requests)

	timings, err := c.Timings(ctx)
	require.NoError(t, err)
	assert.Nil(t, timings.LLMInfer, "no collector wired")

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	snap, err := c.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)

	report, err := c.Cleanup(ctx, CleanupOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)

	_, err = c.GetJob(ctx, id)
	assert.True(t, IsNotFound(err))
}

func TestClientErrors(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL)
	ctx := context.Background()

	_, err := c.Progress(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "No progress data found", apiErr.Message)

	_, err = c.StartTagging(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "No dataset uploaded", apiErr.Message)

	err = c.Watch(ctx, "missing", func(service.ProgressSnapshot) error { return nil })
	assert.True(t, IsNotFound(err))

	assert.True(t, IsNotFound(c.CancelJob(ctx, "missing")))

	_, err = c.Upload(ctx, filepath.Join(t.TempDir(), "absent.csv"), "")
	assert.Error(t, err)
}

func TestPlainTextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	err := New(ts.URL).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("TAGGER_SERVER_URL", "http://tagger.internal:9000/")
	t.Setenv("TAGGER_CLIENT_TIMEOUT", "5s")

	c := New("")
	assert.Equal(t, "http://tagger.internal:9000", c.endpoint)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}
