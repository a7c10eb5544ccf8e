package pipeline

import (
	"fmt"
)

// Stage names a pipeline pass
type Stage string

const (
	StageSetup     Stage = "setup"
	StagePartition Stage = "partition"
	StageFilter    Stage = "filter"
	StageIndex     Stage = "index"
	StageAssemble  Stage = "assemble"
	StageFinalize  Stage = "finalize"
)

// StageError is a failure that aborted a pass. Record identifies the row or
// thread involved when one is known.
type StageError struct {
	Stage  Stage
	Record string
	Err    error
}

// Error implements the error interface
func (e *StageError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage failed at %s: %v", e.Stage, e.Record, e.Err)
}

// Unwrap returns the underlying error
func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, record string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Record: record, Err: err}
}
