package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ictashik/OpenDataTagger/internal/models"
)

// LogsHeader is the fixed header of a logs file.
var LogsHeader = []string{"row_index", "column", "prompt", "best_answer", "explanation"}

// ResetLogs replaces the logs file with one holding only the header, so a
// new run never inherits entries from an earlier one.
func ResetLogs(path string) error {
	return writeAtomic(path, func(w *csv.Writer) error {
		return w.Write(LogsHeader)
	})
}

// AppendLogs appends entries to the logs file, writing the header
// first when the file is new or empty.
func AppendLogs(path string, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open logs: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat logs: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(LogsHeader); err != nil {
			f.Close()
			return fmt.Errorf("write logs header: %w", err)
		}
	}
	for _, e := range entries {
		rec := []string{strconv.Itoa(e.RowIndex), e.Column, e.Prompt, e.BestAnswer, e.Explanation}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write log entry: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush logs: %w", err)
	}
	return f.Close()
}

// ReadLogs reads every entry of a logs file.
func ReadLogs(path string) ([]models.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open logs: %w", err)
	}
	defer f.Close()

	r := newReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []models.LogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read logs header: %w", err)
	}
	if len(header) != len(LogsHeader) || cleanHeader(header)[0] != LogsHeader[0] {
		return nil, fmt.Errorf("unexpected logs header %v", header)
	}

	entries := []models.LogEntry{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log entry %d: %w", len(entries), err)
		}
		if len(rec) != len(LogsHeader) {
			return nil, fmt.Errorf("log entry %d has %d fields", len(entries), len(rec))
		}
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("log entry %d row_index: %w", len(entries), err)
		}
		entries = append(entries, models.LogEntry{
			RowIndex:    idx,
			Column:      rec[1],
			Prompt:      rec[2],
			BestAnswer:  rec[3],
			Explanation: rec[4],
		})
	}
	return entries, nil
}

// TailLogs returns the last n entries of a logs file.
func TailLogs(path string, n int) ([]models.LogEntry, error) {
	entries, err := ReadLogs(path)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
