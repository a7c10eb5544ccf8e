package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// TableWriter appends row batches to a CSV table. Opening truncates any
// previous content, so a restarted pass rewrites its output from scratch
// rather than appending duplicates. The header is written exactly once: on
// the first append, or on Close when nothing was appended.
type TableWriter struct {
	path          string
	header        []string
	file          *os.File
	w             *csv.Writer
	headerWritten bool
	rows          int
}

// CreateTable opens path for writing, truncating it
func CreateTable(path string, header []string) (*TableWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &TableWriter{
		path:   path,
		header: append([]string(nil), header...),
		file:   f,
		w:      csv.NewWriter(f),
	}, nil
}

// Path returns the table location
func (tw *TableWriter) Path() string {
	return tw.path
}

// Rows returns the number of data rows written
func (tw *TableWriter) Rows() int {
	return tw.rows
}

// Append writes a batch and flushes it, so a crash loses at most the batch in
// flight.
func (tw *TableWriter) Append(rows []Row) error {
	if err := tw.writeHeader(); err != nil {
		return err
	}
	for _, row := range rows {
		if err := tw.w.Write(row.Record); err != nil {
			return fmt.Errorf("write %s: %w", tw.path, err)
		}
	}
	tw.w.Flush()
	if err := tw.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", tw.path, err)
	}
	tw.rows += len(rows)
	return nil
}

// Close writes a header if none was written and closes the file
func (tw *TableWriter) Close() error {
	if tw.file == nil {
		return nil
	}
	err := tw.writeHeader()
	if err == nil {
		tw.w.Flush()
		err = tw.w.Error()
	}
	if cerr := tw.file.Close(); err == nil {
		err = cerr
	}
	tw.file = nil
	return err
}

func (tw *TableWriter) writeHeader() error {
	if tw.headerWritten {
		return nil
	}
	if err := tw.w.Write(tw.header); err != nil {
		return fmt.Errorf("write header %s: %w", tw.path, err)
	}
	tw.headerWritten = true
	return nil
}
