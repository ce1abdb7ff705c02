package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/local/pdfweaver/internal/weaver"
)

// MergeJob is the payload carried on the stream.
type MergeJob struct {
	JobID      string         `json:"job_id"`
	Entries    []weaver.Entry `json:"entries"`
	OutputName string         `json:"output_name"`
	// UploadDir holds files received with the request; removed when the job ends.
	UploadDir  string    `json:"upload_dir,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Encode marshals the job for the stream.
func (j *MergeJob) Encode() ([]byte, error) {
	if j.JobID == "" {
		return nil, errors.New("merge job without job_id")
	}
	return json.Marshal(j)
}

// DecodeJob parses a stream payload.
func DecodeJob(data []byte) (*MergeJob, error) {
	var j MergeJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode merge job: %w", err)
	}
	if j.JobID == "" {
		return nil, errors.New("decode merge job: missing job_id")
	}
	return &j, nil
}

// DefaultOutputName is used when a job names no output file.
const DefaultOutputName = weaver.DefaultOutputName

// OutputFile returns a safe base name for the job's output document.
func (j *MergeJob) OutputFile() string {
	name := filepath.Base(strings.TrimSpace(j.OutputName))
	if name == "." || name == "/" || name == ".." || name == "" {
		return DefaultOutputName
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
