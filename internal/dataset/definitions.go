package dataset

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/ictashik/OpenDataTagger/internal/models"
)

// Config file header fields.
const (
	fieldOutputColumn   = "OutputColumn"
	fieldPromptTemplate = "PromptTemplate"
)

// LoadDefinitions reads the output definition config.
// The config is optional: a missing, unreadable or malformed file yields an empty list.
func LoadDefinitions(path string) []models.OutputDefinition {
	defs := []models.OutputDefinition{}
	if path == "" {
		return defs
	}
	f, err := os.Open(path)
	if err != nil {
		return defs
	}
	defer f.Close()

	records, err := newReader(f).ReadAll()
	if err != nil || len(records) == 0 {
		return defs
	}

	header := cleanHeader(records[0])
	outIdx, promptIdx := -1, -1
	for i, h := range header {
		switch h {
		case fieldOutputColumn:
			outIdx = i
		case fieldPromptTemplate:
			promptIdx = i
		}
	}
	if outIdx < 0 || promptIdx < 0 {
		return defs
	}

	for _, rec := range records[1:] {
		if outIdx >= len(rec) || promptIdx >= len(rec) {
			continue
		}
		if strings.TrimSpace(rec[outIdx]) == "" {
			continue
		}
		defs = append(defs, models.OutputDefinition{
			OutputColumn:   rec[outIdx],
			PromptTemplate: rec[promptIdx],
		})
	}
	return defs
}

// SaveDefinitions overwrites path with the full definition list.
func SaveDefinitions(path string, defs []models.OutputDefinition) error {
	return writeAtomic(path, func(w *csv.Writer) error {
		if err := w.Write([]string{fieldOutputColumn, fieldPromptTemplate}); err != nil {
			return err
		}
		for _, d := range defs {
			if err := w.Write([]string{d.OutputColumn, d.PromptTemplate}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DefinitionsFromForm pairs parallel output column and template lists.
// Values are trimmed and pairs with a blank side are dropped.
func DefinitionsFromForm(outputs, templates []string) []models.OutputDefinition {
	n := min(len(outputs), len(templates))
	defs := make([]models.OutputDefinition, 0, n)
	for i := 0; i < n; i++ {
		oc := strings.TrimSpace(outputs[i])
		pt := strings.TrimSpace(templates[i])
		if oc == "" || pt == "" {
			continue
		}
		defs = append(defs, models.OutputDefinition{OutputColumn: oc, PromptTemplate: pt})
	}
	return defs
}
