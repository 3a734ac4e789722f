package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iago/json2excel-back/internal/domain"
)

// FileStore keeps uploaded JSON files on local disk and remembers their
// metadata in memory.
type FileStore struct {
	dir      string
	maxBytes int64
	logger   *log.Logger

	mu      sync.RWMutex
	uploads map[string]domain.UploadRef
}

func NewFileStore(dir string, maxBytes int64, logger *log.Logger) (*FileStore, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileStore{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
		uploads:  make(map[string]domain.UploadRef),
	}, nil
}

func (s *FileStore) MaxBytes() int64 {
	return s.maxBytes
}

// SaveUpload validates and stores an uploaded JSON document.
func (s *FileStore) SaveUpload(ctx context.Context, originalName string, body io.Reader) (domain.UploadRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.UploadRef{}, err
	}

	name := SanitizeFilename(originalName)
	if !strings.EqualFold(filepath.Ext(name), ".json") {
		return domain.UploadRef{}, domain.NewValidationError(
			domain.CodeInvalidFile,
			"Only .json files can be converted",
			map[string]any{"filename": name},
			"Upload a file with the .json extension",
		)
	}

	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return domain.UploadRef{}, domain.NewSystemError("Failed to read upload", err)
	}
	if int64(len(data)) > s.maxBytes {
		return domain.UploadRef{}, domain.NewValidationError(
			domain.CodeInvalidFile,
			"File exceeds the maximum upload size",
			map[string]any{"filename": name, "max_bytes": s.maxBytes},
			"Split the JSON document into smaller files",
		)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return domain.UploadRef{}, domain.NewValidationError(
			domain.CodeInvalidFile,
			"File is empty",
			map[string]any{"filename": name},
		)
	}
	if !json.Valid(data) {
		return domain.UploadRef{}, domain.NewValidationError(
			domain.CodeInvalidFile,
			"File is not valid JSON",
			map[string]any{"filename": name},
			"Check the file with a JSON validator",
		)
	}

	fileID := uuid.NewString()
	path := filepath.Join(s.dir, fileID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.UploadRef{}, domain.NewSystemError("Failed to store upload", err)
	}

	ref := domain.UploadRef{
		FileID:       fileID,
		OriginalName: name,
		Path:         path,
		Size:         int64(len(data)),
		UploadedAt:   time.Now().UTC(),
	}
	s.mu.Lock()
	s.uploads[fileID] = ref
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Printf("upload stored file_id=%s name=%s size=%d", fileID, name, ref.Size)
	}
	return ref, nil
}

func (s *FileStore) GetUpload(_ context.Context, fileID string) (domain.UploadRef, error) {
	s.mu.RLock()
	ref, ok := s.uploads[fileID]
	s.mu.RUnlock()
	if !ok {
		return domain.UploadRef{}, domain.NewFileNotFoundError(fileID)
	}
	if _, err := os.Stat(ref.Path); err != nil {
		return domain.UploadRef{}, domain.NewFileNotFoundError(fileID)
	}
	return ref, nil
}

func (s *FileStore) DeleteUpload(_ context.Context, fileID string) error {
	s.mu.Lock()
	ref, ok := s.uploads[fileID]
	delete(s.uploads, fileID)
	s.mu.Unlock()

	if !ok {
		return domain.NewFileNotFoundError(fileID)
	}
	if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload %s: %w", fileID, err)
	}
	return nil
}
