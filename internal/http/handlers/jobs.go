package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/iago/json2excel-back/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var optionFields = []string{
	"sheet_name",
	"array_handling",
	"nested_separator",
	"max_nesting_level",
	"include_headers",
	"format_headers",
	"output_name",
}

type createJobRequest struct {
	FileID  string         `json:"file_id"`
	Options map[string]any `json:"options,omitempty"`
}

// CreateJob accepts JSON ({"file_id", "options"}) or form fields with the
// same names.
func (api *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	fileID, raw, err := parseCreateJob(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file_id is required and options must be scalar values")
		return
	}

	job, err := api.jobs.CreateJob(r.Context(), fileID, raw)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job.ToMap())
}

func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	var filter *domain.StatusValue
	if value := strings.TrimSpace(r.URL.Query().Get("status")); value != "" {
		status, err := domain.ParseStatusValue(strings.ToLower(value))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		filter = &status
	}

	jobs, err := api.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := api.jobs.GetJobStatus(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (api *API) JobResult(w http.ResponseWriter, r *http.Request) {
	result, err := api.jobs.GetJobResult(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) DownloadJob(w http.ResponseWriter, r *http.Request) {
	path, name, err := api.jobs.GetOutputFile(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeFile(w, r, path)
}

func (api *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	cancelled, err := api.jobs.CancelJob(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":    jobID,
		"cancelled": cancelled,
	})
}

func (api *API) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := api.jobs.GetQueueStatus(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func parseCreateJob(r *http.Request) (string, map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && err != http.ErrNotMultipart {
			return "", nil, errInvalidPayload
		}
		raw := make(map[string]string)
		for _, key := range optionFields {
			if values, ok := r.Form[key]; ok && len(values) > 0 {
				raw[key] = values[0]
			}
		}
		fileID := strings.TrimSpace(r.FormValue("file_id"))
		if fileID == "" {
			return "", nil, errInvalidPayload
		}
		return fileID, raw, nil
	}

	var request createJobRequest
	if err := decodeJSON(r, &request); err != nil {
		return "", nil, err
	}
	fileID := strings.TrimSpace(request.FileID)
	if fileID == "" {
		return "", nil, errInvalidPayload
	}

	raw := make(map[string]string, len(request.Options))
	for key, value := range request.Options {
		switch typed := value.(type) {
		case string:
			raw[key] = typed
		case bool, float64:
			raw[key] = fmt.Sprint(typed)
		case nil:
		default:
			return "", nil, errInvalidPayload
		}
	}
	return fileID, raw, nil
}
