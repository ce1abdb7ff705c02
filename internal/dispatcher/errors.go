package dispatcher

import "fmt"

// ValidationError represents a fatal problem with the job payload.
type ValidationError struct {
	JobID   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for job %s: %s", e.JobID, e.Message)
}

// StageError records which job stage failed.
type StageError struct {
	Stage string // fetch, merge, verify, upload, status
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
