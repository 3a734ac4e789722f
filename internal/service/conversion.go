package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iago/json2excel-back/internal/converter"
	"github.com/iago/json2excel-back/internal/domain"
	"github.com/iago/json2excel-back/internal/repository"
	"github.com/iago/json2excel-back/internal/storage"
)

const (
	progressValidating = 10
	progressConverting = 30
	progressConverted  = 90
)

// ProgressFunc receives a snapshot of the job after each progress change.
type ProgressFunc func(snapshot *domain.Job)

// ConversionService runs a single job's conversion and serves its output.
type ConversionService struct {
	repo      repository.JobsRepository
	converter *converter.Converter
	outputDir string
	logger    *log.Logger
}

func NewConversionService(
	repo repository.JobsRepository,
	conv *converter.Converter,
	outputDir string,
	logger *log.Logger,
) (*ConversionService, error) {
	if conv == nil {
		conv = converter.New()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &ConversionService{
		repo:      repo,
		converter: conv,
		outputDir: outputDir,
		logger:    logger,
	}, nil
}

// Process converts the job input and records the outcome on job. It returns
// true only when the job ends COMPLETED.
func (s *ConversionService) Process(ctx context.Context, job *domain.Job, progress ProgressFunc) bool {
	started := time.Now()
	report := func(status domain.StatusValue, percent int, message string) {
		if job.UpdateStatus(status, percent, message) && progress != nil {
			progress(job.Clone())
		}
	}

	report(domain.StatusValidating, progressValidating, "Validating input file")
	data, err := os.ReadFile(job.Input.Path)
	if err != nil {
		s.fail(job, domain.NewFileNotFoundError(job.Input.FileID))
		return false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		s.fail(job, domain.NewValidationError(
			domain.CodeInvalidFile,
			"Input file is empty",
			map[string]any{"file_id": job.Input.FileID},
		))
		return false
	}

	report(domain.StatusProcessing, progressConverting, "Converting JSON to Excel")
	outputName := s.outputName(job)
	jobDir := filepath.Join(s.outputDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		s.fail(job, domain.NewSystemError("Failed to prepare output directory", err))
		return false
	}
	outputPath := filepath.Join(jobDir, outputName)

	summary, err := s.converter.Convert(ctx, data, job.Options, outputPath, func(done, total int) {
		percent := progressConverting + done*(progressConverted-progressConverting)/max(total, 1)
		report(domain.StatusProcessing, percent, fmt.Sprintf("Converted %d of %d records", done, total))
	})
	if err != nil {
		_ = os.RemoveAll(jobDir)
		s.fail(job, conversionError(job.ID, err))
		return false
	}

	result := summary.ToMap()
	result["input_size_bytes"] = int64(len(data))
	if info, statErr := os.Stat(outputPath); statErr == nil {
		result["output_size_bytes"] = info.Size()
	}
	result["duration_ms"] = time.Since(started).Milliseconds()

	if !job.SetCompleted(outputPath, outputName, result, "") {
		return false
	}
	if s.logger != nil {
		s.logger.Printf(
			"conversion completed job_id=%s records=%d columns=%d duration_ms=%d",
			job.ID, summary.Records, summary.Columns, result["duration_ms"],
		)
	}
	return true
}

// GetOutputFile returns the path and download name of a completed job's
// workbook.
func (s *ConversionService) GetOutputFile(ctx context.Context, jobID string) (string, string, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", domain.NewJobNotFoundError(jobID)
		}
		return "", "", domain.NewSystemError("Failed to load job", err)
	}
	if job.Status.Status != domain.StatusCompleted {
		return "", "", domain.NewJobNotCompleteError(jobID, job.Status.Status)
	}
	if job.OutputFilePath == "" {
		return "", "", domain.NewOutputNotFoundError(jobID, "")
	}
	if _, err := os.Stat(job.OutputFilePath); err != nil {
		return "", "", domain.NewOutputNotFoundError(jobID, job.OutputFilePath)
	}
	return job.OutputFilePath, job.OutputFileName, nil
}

// RemoveJobArtifacts deletes everything written for the job under the output
// directory.
func (s *ConversionService) RemoveJobArtifacts(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" || strings.ContainsAny(job.ID, `/\`) || strings.HasPrefix(job.ID, ".") {
		return fmt.Errorf("refusing to remove artifacts for job id %q", jobIDOf(job))
	}
	if err := os.RemoveAll(filepath.Join(s.outputDir, job.ID)); err != nil {
		return fmt.Errorf("remove artifacts job_id=%s: %w", job.ID, err)
	}
	return nil
}

func (s *ConversionService) outputName(job *domain.Job) string {
	base := job.Options.OutputName
	if base == "" {
		base = storage.OutputBaseName(job.Input.OriginalName)
	}
	return base + ".xlsx"
}

func (s *ConversionService) fail(job *domain.Job, err *domain.Error) {
	job.SetError(err, "")
	if s.logger != nil {
		s.logger.Printf("conversion failed job_id=%s code=%s err=%v", job.ID, err.Code, err)
	}
}

func conversionError(jobID string, err error) *domain.Error {
	details := map[string]any{"job_id": jobID}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.NewProcessingError("Conversion was interrupted", err, details)
	case errors.Is(err, converter.ErrEmptyDocument):
		return domain.NewValidationError(
			domain.CodeInvalidFile,
			"JSON document has no records to convert",
			details,
			"Provide a non-empty JSON array or object",
		)
	case errors.Is(err, converter.ErrTooManyRows), errors.Is(err, converter.ErrTooManyCols):
		return domain.NewValidationError(
			domain.CodeInvalidFile,
			"JSON document does not fit in a single worksheet",
			details,
			"Split the JSON document into smaller files",
		)
	default:
		return domain.NewProcessingError("Failed to convert JSON to Excel", err, details)
	}
}

func jobIDOf(job *domain.Job) string {
	if job == nil {
		return ""
	}
	return job.ID
}
