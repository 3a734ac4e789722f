package domain

import (
	"errors"
	"fmt"
)

type ErrorCategory string

const (
	CategoryInput      ErrorCategory = "input"
	CategoryValidation ErrorCategory = "validation"
	CategoryCapacity   ErrorCategory = "capacity"
	CategoryProcessing ErrorCategory = "processing"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryConflict   ErrorCategory = "conflict"
	CategorySystem     ErrorCategory = "system"
)

const (
	CodeJobQueueFull       = "job_queue_full"
	CodeJobNotFound        = "job_not_found"
	CodeFileNotFound       = "file_not_found"
	CodeOutputNotFound     = "output_not_found"
	CodeJobNotComplete     = "job_not_complete"
	CodeJobAlreadyComplete = "job_already_complete"
	CodeJobCancelled       = "job_cancelled"
	CodeJobTimeout         = "job_timeout"
	CodeInvalidOptions     = "invalid_options"
	CodeInvalidFile        = "invalid_file"
	CodeConversionFailed   = "conversion_failed"
	CodeSystemError        = "system_error"
)

// Error is the structured error surfaced by the service layer. Context holds
// identifiers and limits an API layer can echo back to the caller.
type Error struct {
	Category    ErrorCategory
	Code        string
	Message     string
	Context     map[string]any
	Resolutions []string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// UserMessage renders the error for display, without internal causes.
func (e *Error) UserMessage() string {
	if len(e.Resolutions) == 0 {
		return e.Message
	}
	return e.Message + ". " + e.Resolutions[0]
}

func (e *Error) ToMap() map[string]any {
	result := map[string]any{
		"category": string(e.Category),
		"code":     e.Code,
		"message":  e.Message,
	}
	if len(e.Context) > 0 {
		result["context"] = cloneMap(e.Context)
	}
	if len(e.Resolutions) > 0 {
		result["resolutions"] = append([]string(nil), e.Resolutions...)
	}
	return result
}

func ErrorFromMap(values map[string]any) *Error {
	if values == nil {
		return nil
	}
	return &Error{
		Category:    ErrorCategory(stringValue(values["category"])),
		Code:        stringValue(values["code"]),
		Message:     stringValue(values["message"]),
		Context:     cloneMap(mapValue(values["context"])),
		Resolutions: stringSlice(values["resolutions"]),
	}
}

func (e *Error) clone() *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Context = cloneMap(e.Context)
	clone.Resolutions = append([]string(nil), e.Resolutions...)
	return &clone
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func HasCode(err error, code string) bool {
	target, ok := AsError(err)
	return ok && target.Code == code
}

func NewQueueFullError(limit int) *Error {
	return &Error{
		Category:    CategoryCapacity,
		Code:        CodeJobQueueFull,
		Message:     fmt.Sprintf("Job queue is full (maximum %d jobs)", limit),
		Context:     map[string]any{"max_active_jobs": limit},
		Resolutions: []string{"Wait for queued jobs to finish and try again"},
	}
}

func NewJobNotFoundError(jobID string) *Error {
	return &Error{
		Category:    CategoryInput,
		Code:        CodeJobNotFound,
		Message:     fmt.Sprintf("Job %s was not found", jobID),
		Context:     map[string]any{"job_id": jobID},
		Resolutions: []string{"Check the job id or create a new job"},
	}
}

func NewFileNotFoundError(fileID string) *Error {
	return &Error{
		Category:    CategoryInput,
		Code:        CodeFileNotFound,
		Message:     fmt.Sprintf("Uploaded file %s was not found", fileID),
		Context:     map[string]any{"file_id": fileID},
		Resolutions: []string{"Upload the file again before creating a job"},
	}
}

func NewOutputNotFoundError(jobID, path string) *Error {
	return &Error{
		Category:    CategoryInput,
		Code:        CodeOutputNotFound,
		Message:     fmt.Sprintf("Output file for job %s is no longer available", jobID),
		Context:     map[string]any{"job_id": jobID, "output_file_path": path},
		Resolutions: []string{"Run the conversion again"},
	}
}

func NewJobNotCompleteError(jobID string, status StatusValue) *Error {
	return &Error{
		Category:    CategoryConflict,
		Code:        CodeJobNotComplete,
		Message:     fmt.Sprintf("Job %s is not complete yet", jobID),
		Context:     map[string]any{"job_id": jobID, "status": string(status)},
		Resolutions: []string{"Poll the job status until it is completed"},
	}
}

func NewJobAlreadyCompleteError(jobID string, status StatusValue) *Error {
	return &Error{
		Category: CategoryConflict,
		Code:     CodeJobAlreadyComplete,
		Message:  fmt.Sprintf("Job %s is already %s", jobID, status),
		Context:  map[string]any{"job_id": jobID, "status": string(status)},
	}
}

func NewCancelledError(jobID string) *Error {
	return &Error{
		Category: CategoryProcessing,
		Code:     CodeJobCancelled,
		Message:  "Job cancelled by user",
		Context:  map[string]any{"job_id": jobID},
	}
}

func NewTimeoutError(jobID string, timeoutMinutes int) *Error {
	return &Error{
		Category:    CategoryTimeout,
		Code:        CodeJobTimeout,
		Message:     fmt.Sprintf("Job timed out after %d minutes", timeoutMinutes),
		Context:     map[string]any{"job_id": jobID, "timeout_minutes": timeoutMinutes},
		Resolutions: []string{"Try a smaller input file or simpler conversion options"},
	}
}

func NewValidationError(code, message string, context map[string]any, resolutions ...string) *Error {
	return &Error{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Context:     context,
		Resolutions: resolutions,
	}
}

func NewProcessingError(message string, cause error, context map[string]any) *Error {
	return &Error{
		Category:    CategoryProcessing,
		Code:        CodeConversionFailed,
		Message:     message,
		Context:     context,
		Resolutions: []string{"Check the input JSON structure and conversion options"},
		cause:       cause,
	}
}

func NewSystemError(message string, cause error) *Error {
	return &Error{
		Category:    CategorySystem,
		Code:        CodeSystemError,
		Message:     message,
		Resolutions: []string{"Try again later"},
		cause:       cause,
	}
}
