package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/finsight/internal/agent"
)

// Process defines how a crew walks its tasks.
type Process string

const (
	// ProcessSequential runs tasks in list order.
	ProcessSequential Process = "sequential"
	// ProcessParallel is accepted for definitions but runs with sequential
	// semantics.
	ProcessParallel Process = "parallel"
)

// ParseProcess maps a configuration tag to a Process. Empty means sequential.
func ParseProcess(s string) (Process, error) {
	switch Process(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProcessSequential:
		return ProcessSequential, nil
	case ProcessParallel:
		return ProcessParallel, nil
	default:
		return "", fmt.Errorf("unknown process %q", s)
	}
}

// Tool produces document text for a file path.
type Tool struct {
	Name string
	Call func(ctx context.Context, path string) (string, error)
}

// Task is a unit of work bound to one worker. Description may carry a
// {query} placeholder; it is documentation for the worker and is never
// substituted. Async is informational.
type Task struct {
	Description    string        `json:"description"`
	ExpectedOutput string        `json:"expected_output"`
	Agent          *agent.Worker `json:"agent"`
	Tools          []Tool        `json:"-"`
	Async          bool          `json:"async"`
}

func (t *Task) role() string {
	if t == nil || t.Agent == nil {
		return ""
	}
	return t.Agent.Role
}

// RunInputs is the input of one crew run.
type RunInputs struct {
	Query    string `json:"query"`
	FilePath string `json:"file_path,omitempty"`
	// RemoveFile deletes FilePath once the run has finished. Set for uploads.
	RemoveFile bool `json:"remove_file,omitempty"`
}

// JobStatus tracks an async analysis job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is an analysis submitted for background execution.
type Job struct {
	ID         string          `json:"id"`
	Inputs     RunInputs       `json:"inputs"`
	Status     JobStatus       `json:"status"`
	AnalysisID int64           `json:"analysis_id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	receipt string // queue message id, set on consume
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.Status == JobDone || j.Status == JobFailed
}
