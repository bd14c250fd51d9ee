package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
)

// ErrorResponse represents a WSM error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a WSM error response. Errors without an application
// code are masked as WSM_INTERNAL so store internals do not leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	var app *core.AppError
	if !errors.As(err, &app) {
		app = core.NewAppError(core.ErrInternal, "internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(app.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(app.Code),
		Message: app.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteAccepted writes a 202 Accepted response with a job reference.
func WriteAccepted(w http.ResponseWriter, jobID string) {
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":      jobID,
		"status":      string(job.StatusRunning),
		"status_href": "/v1/jobs/" + jobID,
	})
}
