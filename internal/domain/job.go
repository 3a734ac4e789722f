package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one JSON to Excel conversion request and its tracked lifecycle.
type Job struct {
	ID                string
	Input             UploadRef
	Options           ConversionOptions
	Status            JobStatus
	CreatedAt         time.Time
	CompletedAt       *time.Time
	OutputFilePath    string
	OutputFileName    string
	ConversionSummary map[string]any
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob builds a pending job. An empty id gets a generated one.
func NewJob(id string, input UploadRef, options ConversionOptions) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:        id,
		Input:     input,
		Options:   options,
		Status:    NewJobStatus(),
		CreatedAt: time.Now().UTC(),
	}
}

func (j *Job) IsComplete() bool {
	return j.Status.IsComplete()
}

// UpdateStatus reports progress. It returns false once the job is terminal.
func (j *Job) UpdateStatus(status StatusValue, progress int, message string) bool {
	if j.IsComplete() {
		return false
	}
	switch status {
	case StatusCompleted:
		return j.SetCompleted("", "", nil, message)
	case StatusFailed:
		return j.SetError(NewProcessingError(message, nil, nil), message)
	}
	j.Status.Update(status, progress, message)
	return true
}

func (j *Job) SetCompleted(outputPath, outputName string, summary map[string]any, message string) bool {
	if j.IsComplete() {
		return false
	}
	j.Status.SetCompleted(message)
	j.OutputFilePath = outputPath
	j.OutputFileName = outputName
	j.ConversionSummary = cloneMap(summary)
	j.markCompleted()
	return true
}

func (j *Job) SetError(err *Error, message string) bool {
	if j.IsComplete() {
		return false
	}
	j.Status.SetError(err, message)
	j.OutputFilePath = ""
	j.OutputFileName = ""
	j.ConversionSummary = nil
	j.markCompleted()
	return true
}

func (j *Job) markCompleted() {
	if j.CompletedAt != nil {
		return
	}
	completedAt := j.Status.LastUpdated
	j.CompletedAt = &completedAt
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Status.Error = j.Status.Error.clone()
	clone.ConversionSummary = cloneMap(j.ConversionSummary)
	if j.CompletedAt != nil {
		completedAt := *j.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

func (j *Job) ToMap() map[string]any {
	result := j.Status.ToMap()
	result["job_id"] = j.ID
	result["file_id"] = j.Input.FileID
	result["input"] = j.Input.ToMap()
	result["options"] = j.Options.ToMap()
	result["created_at"] = formatTime(j.CreatedAt)
	if j.CompletedAt != nil {
		result["completed_at"] = formatTime(*j.CompletedAt)
	}
	if j.OutputFilePath != "" {
		result["output_file_path"] = j.OutputFilePath
	}
	if j.OutputFileName != "" {
		result["output_file_name"] = j.OutputFileName
	}
	if j.ConversionSummary != nil {
		result["conversion_summary"] = cloneMap(j.ConversionSummary)
	}
	return result
}

// ResultMap is the summary returned once a job is terminal.
func (j *Job) ResultMap() map[string]any {
	result := map[string]any{
		"job_id": j.ID,
		"status": string(j.Status.Status),
	}
	if j.CompletedAt != nil {
		result["completed_at"] = formatTime(*j.CompletedAt)
	}
	if j.OutputFilePath != "" {
		result["output_file_path"] = j.OutputFilePath
	}
	if j.OutputFileName != "" {
		result["output_file_name"] = j.OutputFileName
	}
	if j.ConversionSummary != nil {
		result["conversion_summary"] = cloneMap(j.ConversionSummary)
	}
	if j.Status.Error != nil {
		result["error"] = j.Status.Error.ToMap()
	}
	return result
}

func JobFromMap(values map[string]any) (*Job, error) {
	jobID := stringValue(values["job_id"])
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	status, err := JobStatusFromMap(values)
	if err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	createdAt, err := timeValue(values["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	completedAt, err := optionalTimeValue(values["completed_at"])
	if err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	input := UploadRef{FileID: stringValue(values["file_id"])}
	if raw := mapValue(values["input"]); raw != nil {
		input, err = UploadRefFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}

	return &Job{
		ID:                jobID,
		Input:             input,
		Options:           ConversionOptionsFromMap(mapValue(values["options"])),
		Status:            status,
		CreatedAt:         createdAt,
		CompletedAt:       completedAt,
		OutputFilePath:    stringValue(values["output_file_path"]),
		OutputFileName:    stringValue(values["output_file_name"]),
		ConversionSummary: cloneMap(mapValue(values["conversion_summary"])),
	}, nil
}
