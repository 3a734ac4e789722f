package domain

import "time"

// UploadRef points at an uploaded input file. Jobs hold it read-only; the file
// itself belongs to the upload storage.
type UploadRef struct {
	FileID       string
	OriginalName string
	Path         string
	Size         int64
	UploadedAt   time.Time
}

func (u UploadRef) ToMap() map[string]any {
	return map[string]any{
		"file_id":       u.FileID,
		"original_name": u.OriginalName,
		"path":          u.Path,
		"size":          u.Size,
		"uploaded_at":   formatTime(u.UploadedAt),
	}
}

func UploadRefFromMap(values map[string]any) (UploadRef, error) {
	uploadedAt, err := timeValue(values["uploaded_at"])
	if err != nil {
		return UploadRef{}, err
	}
	return UploadRef{
		FileID:       stringValue(values["file_id"]),
		OriginalName: stringValue(values["original_name"]),
		Path:         stringValue(values["path"]),
		Size:         int64Value(values["size"]),
		UploadedAt:   uploadedAt,
	}, nil
}
