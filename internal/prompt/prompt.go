// Package prompt builds the text sent to the language model for each cell.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Response markers the model is asked to emit.
const (
	BestAnswerMarker  = "Best Answer:"
	ExplanationMarker = "Explanation:"
)

// Render replaces every {name} placeholder for the listed input columns
// with the row value. Placeholders for unlisted or absent columns stay as-is.
func Render(template string, row map[string]string, inputColumns []string) string {
	out := template
	for _, name := range inputColumns {
		value, ok := row[name]
		if !ok {
			continue
		}
		placeholder := "{" + name + "}"
		if strings.Contains(out, placeholder) {
			out = strings.ReplaceAll(out, placeholder, value)
		}
	}
	return out
}

// SystemPrompt frames the dataset for the model. It is built once per job.
func SystemPrompt(columns []string, rowCount int) string {
	var sb strings.Builder
	sb.WriteString("You are a data annotation assistant. You label one row of a tabular dataset at a time.\n")
	fmt.Fprintf(&sb, "The dataset has %d rows and %d columns: %s.\n", rowCount, len(columns), strings.Join(columns, ", "))
	sb.WriteString("Answer the question about the row you are given. Reply in exactly this format:\n")
	sb.WriteString(BestAnswerMarker + " <short answer>\n")
	sb.WriteString(ExplanationMarker + " <one or two sentences>")
	return sb.String()
}

// UserPrompt embeds the full row followed by the rendered question.
// Columns are listed in dataset order; fields missing from columns are appended sorted.
func UserPrompt(row map[string]string, columns []string, rendered string) string {
	var sb strings.Builder
	sb.WriteString("Row:\n")

	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		value, ok := row[col]
		if !ok {
			continue
		}
		seen[col] = true
		fmt.Fprintf(&sb, "- %s: %s\n", col, value)
	}

	var extra []string
	for col := range row {
		if !seen[col] {
			extra = append(extra, col)
		}
	}
	sort.Strings(extra)
	for _, col := range extra {
		fmt.Fprintf(&sb, "- %s: %s\n", col, row[col])
	}

	sb.WriteString("\nQuestion: ")
	sb.WriteString(rendered)
	return sb.String()
}
