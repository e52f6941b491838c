// Package models defines data structures shared across the tagger.
package models

// OutputDefinition names a target column and the prompt template used to fill it.
type OutputDefinition struct {
	OutputColumn   string `json:"output_column" yaml:"output_column"`
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template"`
}

// LogEntry records one processed (row, output definition) cell.
type LogEntry struct {
	RowIndex    int    `json:"row_index"`
	Column      string `json:"column"`
	Prompt      string `json:"prompt"`
	BestAnswer  string `json:"best_answer"`
	Explanation string `json:"explanation"`
}

// FilePaths locates the durable outputs of one job.
type FilePaths struct {
	TaggedFile string `json:"tagged_file"`
	LogsFile   string `json:"logs_file"`
}
