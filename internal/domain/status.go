package domain

import (
	"fmt"
	"time"
)

type StatusValue string

const (
	StatusPending    StatusValue = "pending"
	StatusValidating StatusValue = "validating"
	StatusProcessing StatusValue = "processing"
	StatusCompleted  StatusValue = "completed"
	StatusFailed     StatusValue = "failed"
)

// ParseStatusValue accepts the lowercase wire form of a status.
func ParseStatusValue(value string) (StatusValue, error) {
	switch status := StatusValue(value); status {
	case StatusPending, StatusValidating, StatusProcessing, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown job status %q", value)
	}
}

func (s StatusValue) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobStatus tracks progress of a single job. Update does not validate
// transitions; terminal guarding happens on Job.
type JobStatus struct {
	Status             StatusValue
	ProgressPercentage int
	Message            string
	LastUpdated        time.Time
	Error              *Error
}

func NewJobStatus() JobStatus {
	return JobStatus{
		Status:      StatusPending,
		Message:     "Job created and waiting in queue",
		LastUpdated: time.Now().UTC(),
	}
}

func (s *JobStatus) Update(status StatusValue, progress int, message string) {
	s.Status = status
	s.ProgressPercentage = clampProgress(progress)
	s.Message = message
	s.LastUpdated = time.Now().UTC()
}

func (s *JobStatus) SetCompleted(message string) {
	if message == "" {
		message = "Conversion completed successfully"
	}
	s.Status = StatusCompleted
	s.ProgressPercentage = 100
	s.Message = message
	s.Error = nil
	s.LastUpdated = time.Now().UTC()
}

func (s *JobStatus) SetError(err *Error, message string) {
	if err == nil {
		err = NewSystemError("unknown failure", nil)
	}
	if message == "" {
		message = err.UserMessage()
	}
	s.Status = StatusFailed
	s.Message = message
	s.Error = err
	s.LastUpdated = time.Now().UTC()
}

func (s JobStatus) IsComplete() bool {
	return s.Status.IsTerminal()
}

func (s JobStatus) ToMap() map[string]any {
	result := map[string]any{
		"status":              string(s.Status),
		"progress_percentage": s.ProgressPercentage,
		"message":             s.Message,
		"last_updated":        formatTime(s.LastUpdated),
	}
	if s.Error != nil {
		result["error"] = s.Error.ToMap()
	}
	return result
}

func JobStatusFromMap(values map[string]any) (JobStatus, error) {
	status, err := ParseStatusValue(stringValue(values["status"]))
	if err != nil {
		return JobStatus{}, err
	}
	lastUpdated, err := timeValue(values["last_updated"])
	if err != nil {
		return JobStatus{}, fmt.Errorf("parse last_updated: %w", err)
	}

	result := JobStatus{
		Status:             status,
		ProgressPercentage: intValue(values["progress_percentage"]),
		Message:            stringValue(values["message"]),
		LastUpdated:        lastUpdated,
	}
	if raw, ok := values["error"].(map[string]any); ok {
		result.Error = ErrorFromMap(raw)
	}
	return result, nil
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
