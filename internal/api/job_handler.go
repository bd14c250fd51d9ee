package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetJob returns the report for one job.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	rep, err := a.jobs.GetReport(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rep)
}

// ListJobs lists job reports for a workspace, newest first.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}
	reports, err := a.jobs.ListReports(r.Context(), wsid, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": reports})
}
