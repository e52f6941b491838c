package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ictashik/OpenDataTagger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDataset(t *testing.T) {
	path := writeFile(t, t.TempDir(), "foods.csv", "\ufeffFood, Origin\nrice,Asia\nbread\n")

	ds, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"Food", "Origin"}, ds.Columns)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, "rice", ds.Rows[0]["Food"])
	assert.Equal(t, "", ds.Rows[1]["Origin"], "short rows are padded")
}

func TestLoadDatasetEmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.csv", "")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestLoadDatasetDuplicateColumns(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dup.csv", "Food,Origin, Food\nrice,Asia,beans\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrDuplicateColumn)

	_, err = ReadColumns(path)
	assert.ErrorIs(t, err, ErrDuplicateColumn)
}

func TestEnsureColumnAndSave(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "foods.csv", "Food\nrice\nbeans\n")

	ds, err := Load(path)
	require.NoError(t, err)

	ds.EnsureColumn("Vegetarian")
	ds.EnsureColumn("Vegetarian")
	ds.Set(1, "Vegetarian", "yes")

	out := filepath.Join(dir, "out.csv")
	require.NoError(t, ds.Save(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "Food,Vegetarian\nrice,\nbeans,yes\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestRowReturnsCopy(t *testing.T) {
	ds := &Dataset{Columns: []string{"A"}, Rows: []map[string]string{{"A": "1"}}}

	row := ds.Row(0)
	row["A"] = "changed"

	assert.Equal(t, "1", ds.Rows[0]["A"])
}

func TestOutputPaths(t *testing.T) {
	tagged, logs := OutputPaths(filepath.Join("media", "foods.csv"))

	assert.Equal(t, filepath.Join("media", "foods_tagged.csv"), tagged)
	assert.Equal(t, filepath.Join("media", "foods_logs.csv"), logs)
	assert.Equal(t, filepath.Join("media", "foods_config.csv"), ConfigPath(filepath.Join("media", "foods.csv")))
}

func TestDefinitionsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.csv")
	defs := []models.OutputDefinition{{OutputColumn: "A", PromptTemplate: "T"}}

	require.NoError(t, SaveDefinitions(path, defs))
	assert.Equal(t, defs, LoadDefinitions(path))
}

func TestLoadDefinitionsOptional(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(dir, "missing.csv")},
		{"missing fields", writeFile(t, dir, "bad.csv", "Column,Prompt\nA,T\n")},
		{"empty file", writeFile(t, dir, "empty.csv", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := LoadDefinitions(tt.path)
			assert.NotNil(t, defs)
			assert.Empty(t, defs)
		})
	}
}

func TestLoadDefinitionsQuotedTemplate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.csv",
		"OutputColumn,PromptTemplate\nTag1,\"Is {Food} vegetarian, really?\"\n,skipped\n")

	defs := LoadDefinitions(path)

	require.Len(t, defs, 1)
	assert.Equal(t, "Is {Food} vegetarian, really?", defs[0].PromptTemplate)
}

func TestDefinitionsFromForm(t *testing.T) {
	defs := DefinitionsFromForm(
		[]string{" Tag1 ", "", "Tag3", "Tag4"},
		[]string{" Is {Food} ok? ", "orphan", "  ", "Spicy?"},
	)

	assert.Equal(t, []models.OutputDefinition{
		{OutputColumn: "Tag1", PromptTemplate: "Is {Food} ok?"},
		{OutputColumn: "Tag4", PromptTemplate: "Spicy?"},
	}, defs)
}

func TestAppendAndTailLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.csv")

	var batch []models.LogEntry
	for i := 0; i < 12; i++ {
		batch = append(batch, models.LogEntry{RowIndex: i, Column: "Tag", Prompt: "p, with comma", BestAnswer: "yes", Explanation: "line1\nline2"})
	}
	require.NoError(t, AppendLogs(path, batch[:5]))
	require.NoError(t, AppendLogs(path, batch[5:]))
	require.NoError(t, AppendLogs(path, nil))

	all, err := ReadLogs(path)
	require.NoError(t, err)
	assert.Equal(t, batch, all)

	tail, err := TailLogs(path, 10)
	require.NoError(t, err)
	require.Len(t, tail, 10)
	assert.Equal(t, 2, tail[0].RowIndex)
	assert.Equal(t, 11, tail[9].RowIndex)
}

func TestReadLogsRejectsForeignFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "logs.csv", "a,b\n1,2\n")

	_, err := ReadLogs(path)
	assert.Error(t, err)
}

func TestResetLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.csv")
	require.NoError(t, AppendLogs(path, []models.LogEntry{{RowIndex: 0, Column: "Tag", BestAnswer: "old"}}))

	require.NoError(t, ResetLogs(path))
	entries, err := ReadLogs(path)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, AppendLogs(path, []models.LogEntry{{RowIndex: 0, Column: "Tag", BestAnswer: "new"}}))
	entries, err = ReadLogs(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].BestAnswer)
}
