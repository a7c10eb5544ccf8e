package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Batch is one chunk of parsed rows
type Batch struct {
	Index   int // 1-based
	Rows    []Row
	Skipped []*RowError
	Read    int // source records consumed, including skipped ones
}

// RowStream reads a tabular source in bounded chunks. It can be rewound to
// the start of the file but not resumed mid-stream.
type RowStream struct {
	path      string
	chunkSize int
	file      *os.File
	reader    *csv.Reader
	schema    *Schema
	total     int
	read      int
	batches   int
	logger    *zap.Logger
}

// Open opens a source table, validates its header and counts its rows
func Open(path string, chunkSize int, logger *zap.Logger) (*RowStream, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	total, err := CountRows(path)
	if err != nil {
		return nil, err
	}

	rs := &RowStream{
		path:      path,
		chunkSize: chunkSize,
		total:     total,
		logger:    logger.With(zap.String("source", path)),
	}
	if err := rs.Rewind(); err != nil {
		return nil, err
	}

	rs.logger.Info("Opened source table", zap.Int("total_rows", total), zap.Int("chunk_size", chunkSize))
	return rs, nil
}

// Rewind restarts the stream from the first data row
func (rs *RowStream) Rewind() error {
	if rs.file != nil {
		_ = rs.file.Close()
	}
	f, err := os.Open(rs.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", rs.path, err)
	}
	r := newCSVReader(f)
	header, err := r.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: empty table, no header", rs.path)
		}
		return fmt.Errorf("read header of %s: %w", rs.path, err)
	}
	schema, err := NewSchema(header)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", rs.path, err)
	}

	rs.file = f
	rs.reader = r
	rs.schema = schema
	rs.read = 0
	rs.batches = 0
	return nil
}

// Schema returns the validated source schema
func (rs *RowStream) Schema() *Schema {
	return rs.schema
}

// Total returns the number of data rows counted when the stream was opened
func (rs *RowStream) Total() int {
	return rs.total
}

// Read returns the number of data rows consumed so far
func (rs *RowStream) Read() int {
	return rs.read
}

// Next returns the next batch of at most chunk size rows, or io.EOF once the
// source is exhausted. Malformed rows are reported in Batch.Skipped; only I/O
// failures are returned as errors.
func (rs *RowStream) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{Index: rs.batches + 1}
	for batch.Read < rs.chunkSize {
		record, err := rs.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				batch.Read++
				batch.Skipped = append(batch.Skipped, &RowError{Line: perr.StartLine, Err: fmt.Errorf("%w: %v", ErrMalformedRow, perr.Err)})
				continue
			}
			return nil, fmt.Errorf("read %s: %w", rs.path, err)
		}
		batch.Read++

		line, _ := rs.reader.FieldPos(0)
		row, err := rs.schema.Parse(line, record)
		if err != nil {
			var rerr *RowError
			if errors.As(err, &rerr) {
				batch.Skipped = append(batch.Skipped, rerr)
				continue
			}
			return nil, err
		}
		batch.Rows = append(batch.Rows, row)
	}

	if batch.Read == 0 {
		return nil, io.EOF
	}

	rs.read += batch.Read
	rs.batches++
	for _, skipped := range batch.Skipped {
		rs.logger.Warn("Skipping malformed row", zap.Int("batch", batch.Index), zap.Error(skipped))
	}
	return batch, nil
}

// Close closes the underlying file
func (rs *RowStream) Close() error {
	if rs.file == nil {
		return nil
	}
	err := rs.file.Close()
	rs.file = nil
	return err
}

// CountRows counts the data rows of a table in one pass. Quoted multi-line
// cells count as a single row.
func CountRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := newCSVReader(f)
	r.ReuseRecord = true

	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return 0, fmt.Errorf("count rows of %s: %w", path, err)
			}
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil // header
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}
