// Package dataset reads and writes the CSV files a tagging job works on:
// the input dataset, the output definition config, and the append-only logs.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoHeader is returned when a CSV file has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// ErrDuplicateColumn is returned when a header names the same column twice.
var ErrDuplicateColumn = errors.New("duplicate column")

// Dataset is an in-memory table with ordered columns.
// It is not safe for concurrent use; a job owns its dataset exclusively.
type Dataset struct {
	Columns []string
	Rows    []map[string]string
}

// Load reads a CSV file whose first record is the header.
// Short records are padded with empty values.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := newReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = cleanHeader(header)
	if err := checkUnique(header); err != nil {
		return nil, err
	}

	ds := &Dataset{Columns: header}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(ds.Rows), err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// ReadColumns returns only the header of a CSV file.
func ReadColumns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	header, err := newReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = cleanHeader(header)
	if err := checkUnique(header); err != nil {
		return nil, err
	}
	return header, nil
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether name is part of the header.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// EnsureColumn appends name to the header if missing and
// initializes it to the empty string on every row.
func (d *Dataset) EnsureColumn(name string) {
	if d.HasColumn(name) {
		return
	}
	d.Columns = append(d.Columns, name)
	for _, row := range d.Rows {
		row[name] = ""
	}
}

// Set writes a single cell.
func (d *Dataset) Set(i int, column, value string) {
	d.Rows[i][column] = value
}

// Row returns a copy of row i.
func (d *Dataset) Row(i int) map[string]string {
	out := make(map[string]string, len(d.Rows[i]))
	for k, v := range d.Rows[i] {
		out[k] = v
	}
	return out
}

// Save writes the dataset as CSV. The file is written to a temporary
// sibling and renamed into place so readers never see a partial file.
func (d *Dataset) Save(path string) error {
	return writeAtomic(path, func(w *csv.Writer) error {
		if err := w.Write(d.Columns); err != nil {
			return err
		}
		record := make([]string, len(d.Columns))
		for _, row := range d.Rows {
			for i, col := range d.Columns {
				record[i] = row[col]
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

// OutputPaths derives the tagged-output and logs paths for a dataset source:
// "data/foods.csv" becomes "data/foods_tagged.csv" and "data/foods_logs.csv".
func OutputPaths(source string) (tagged, logs string) {
	ext := filepath.Ext(source)
	base := strings.TrimSuffix(source, ext)
	return base + "_tagged" + ext, base + "_logs" + ext
}

// ConfigPath derives the path used for a config created next to the dataset.
func ConfigPath(source string) string {
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + "_config" + ext
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func cleanHeader(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header
}

// checkUnique rejects repeated column names. Rows are keyed by name, so a
// repeat would merge two columns into one.
func checkUnique(header []string) error {
	seen := make(map[string]bool, len(header))
	for _, col := range header {
		if seen[col] {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, col)
		}
		seen[col] = true
	}
	return nil
}

func writeAtomic(path string, write func(w *csv.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := write(w); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
