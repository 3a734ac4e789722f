package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/iago/json2excel-back/internal/domain"
)

// multipart framing on top of the file itself
const uploadOverheadBytes = 1 << 20

func (api *API) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.uploads.MaxBytes()+uploadOverheadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.writeServiceError(w, r, domain.NewValidationError(
				domain.CodeInvalidFile,
				"File exceeds the maximum upload size",
				map[string]any{"max_bytes": api.uploads.MaxBytes()},
				"Split the JSON document into smaller files",
			))
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	ref, err := api.uploads.SaveUpload(r.Context(), header.Filename, file)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_id":     ref.FileID,
		"filename":    ref.OriginalName,
		"size":        ref.Size,
		"uploaded_at": ref.UploadedAt.Format(time.RFC3339Nano),
	})
}
