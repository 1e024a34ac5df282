package models

import "time"

type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecSkipped   ExecutionStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled, ExecSkipped:
		return true
	}
	return false
}

// Execution is one run of a pipeline. It is created when the run is
// accepted and mutated in place by its owning goroutine until terminal;
// readers get unmarshalled copies from the store.
type Execution struct {
	ID           string            `json:"id"`
	PipelineID   string            `json:"pipeline_id"`
	PipelineName string            `json:"pipeline_name"`
	Status       ExecutionStatus   `json:"status"`
	StartTime    *time.Time        `json:"start_time,omitempty"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Duration     float64           `json:"duration,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	TriggeredBy  string            `json:"triggered_by,omitempty"`
	Steps        []StepExecution   `json:"steps"`
	ErrorMessage string            `json:"error_message,omitempty"`
	OutputFiles  []string          `json:"output_files,omitempty"`
	Logs         []ExecutionLog    `json:"logs,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type StepExecution struct {
	StepID       string          `json:"step_id"`
	StepName     string          `json:"step_name"`
	Status       ExecutionStatus `json:"status"`
	StartTime    *time.Time      `json:"start_time,omitempty"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Duration     float64         `json:"duration,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	OutputData   map[string]any  `json:"output_data,omitempty"`
}

type ExecutionLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Step      string    `json:"step,omitempty"`
}

// FileInfo describes a file known to the system: an upload or an output
// registered by a save step.
type FileInfo struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Size       int64             `json:"size"`
	Format     DataFormat        `json:"format,omitempty"`
	UploadedAt time.Time         `json:"uploaded_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
