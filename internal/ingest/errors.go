package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is returned when the source header lacks a required column
	ErrMissingColumn = errors.New("missing required column")
	// ErrInvalidID is returned for id cells that cannot be normalized
	ErrInvalidID = errors.New("invalid id")
	// ErrInvalidTimestamp is returned for created_at cells that cannot be parsed
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrMalformedRow is returned for records whose shape does not match the header
	ErrMalformedRow = errors.New("malformed row")
)

// RowError describes a single skipped row
type RowError struct {
	Line  int
	Field string
	Err   error
}

// Error implements the error interface
func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("row at line %d, column %s: %v", e.Line, e.Field, e.Err)
}

// Unwrap returns the underlying error
func (e *RowError) Unwrap() error {
	return e.Err
}
