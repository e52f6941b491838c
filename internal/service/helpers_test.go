package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictashik/OpenDataTagger/internal/kv"
	"github.com/ictashik/OpenDataTagger/internal/llm"
	"github.com/ictashik/OpenDataTagger/internal/llm/llmtest"
	"github.com/ictashik/OpenDataTagger/internal/models"
)

type testEnv struct {
	manager *JobManager
	store   *kv.Memory
	files   *FileRegistry
	fake    *llmtest.Fake
	dir     string
}

func newTestEnv(t *testing.T, reply func(system, user string) (string, error), opts ...TaggerOption) *testEnv {
	t.Helper()
	store := kv.NewMemory()
	files := NewFileRegistry(store, 0)
	fake := llmtest.New(reply)
	client := llm.NewClient(llm.NewModelFrom(fake, "fake"), store)
	tagger := NewTagger(client, files, opts...)
	return &testEnv{
		manager: NewJobManager(tagger, files, nil),
		store:   store,
		files:   files,
		fake:    fake,
		dir:     t.TempDir(),
	}
}

// writeFoods writes foods.csv with n rows of Food/Origin.
func (e *testEnv) writeFoods(t *testing.T, n int) string {
	t.Helper()
	return e.writeDataset(t, "foods.csv", n)
}

func (e *testEnv) writeDataset(t *testing.T, name string, n int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("Food,Origin\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "food-%d,origin-%d\n", i, i)
	}
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func (e *testEnv) wait(t *testing.T, id string) JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := e.manager.Wait(ctx, id)
	require.NoError(t, err)
	return snap
}

var vegetarian = []models.OutputDefinition{{OutputColumn: "Vegetarian", PromptTemplate: "Is {Food} vegetarian?"}}

func constantReply(text string) func(string, string) (string, error) {
	return func(string, string) (string, error) { return text, nil }
}
