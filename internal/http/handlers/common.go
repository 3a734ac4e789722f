package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/iago/json2excel-back/internal/http/middleware"
	"github.com/iago/json2excel-back/internal/service"
	"github.com/iago/json2excel-back/internal/storage"
)

const queueFullRetryAfterSeconds = 5

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	jobs    *service.JobManager
	uploads *storage.FileStore
	logger  *log.Logger
}

func NewAPI(jobs *service.JobManager, uploads *storage.FileStore, logger *log.Logger) *API {
	return &API{
		jobs:    jobs,
		uploads: uploads,
		logger:  logger,
	}
}

type errorBody struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Category    string         `json:"category,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Resolutions []string       `json:"resolutions,omitempty"`
}

type errorPayload struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorPayload{
		Error:     errorBody{Code: code, Message: message},
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

// writeServiceError maps structured service errors onto HTTP statuses.
// Anything unstructured is reported as an internal error.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	target, ok := domain.AsError(err)
	if !ok {
		api.logf("request failed request_id=%s err=%v", middleware.GetRequestID(r.Context()), err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	statusCode := statusForCategory(target.Category)
	if statusCode >= http.StatusInternalServerError {
		api.logf("request failed request_id=%s code=%s err=%v", middleware.GetRequestID(r.Context()), target.Code, err)
	}
	if target.Code == domain.CodeJobQueueFull {
		w.Header().Set("Retry-After", strconv.Itoa(queueFullRetryAfterSeconds))
	}

	writeJSON(w, statusCode, errorPayload{
		Error: errorBody{
			Code:        target.Code,
			Message:     target.Message,
			Category:    string(target.Category),
			Context:     target.Context,
			Resolutions: target.Resolutions,
		},
		RequestID: middleware.GetRequestID(r.Context()),
	})
}

func statusForCategory(category domain.ErrorCategory) int {
	switch category {
	case domain.CategoryInput:
		return http.StatusNotFound
	case domain.CategoryValidation:
		return http.StatusBadRequest
	case domain.CategoryCapacity:
		return http.StatusServiceUnavailable
	case domain.CategoryConflict:
		return http.StatusConflict
	case domain.CategoryTimeout, domain.CategoryProcessing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func (api *API) logf(format string, args ...any) {
	if api.logger != nil {
		api.logger.Printf(format, args...)
	}
}
