package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/workspace"
)

type CreateCloudContextRequest struct {
	Platform       core.CloudPlatform `json:"platform"`
	SpendProfileID string             `json:"spend_profile_id,omitempty"`
}

// ListCloudContexts lists the workspace's cloud contexts.
func (a *API) ListCloudContexts(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}
	contexts, err := a.store.ListCloudContexts(r.Context(), wsid)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"cloud_contexts": contexts})
}

// GetCloudContext gets one cloud context by platform.
func (a *API) GetCloudContext(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	platform := core.CloudPlatform(chi.URLParam(r, "platform"))

	cc, err := a.store.GetCloudContext(r.Context(), wsid, platform)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cc)
}

// CreateCloudContext provisions a cloud context on the workspace (async).
func (a *API) CreateCloudContext(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	ws, err := a.store.GetWorkspace(r.Context(), wsid)
	if err != nil {
		WriteError(w, err)
		return
	}
	if ws.Stage != core.StageMC {
		WriteError(w, core.NewAppErrorf(core.ErrBadRequest,
			"cloud contexts are not supported on %s stage workspaces", ws.Stage))
		return
	}

	var req CreateCloudContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}

	body, _ := json.Marshal(req)
	requestHash := core.ComputeRequestHash(body, "POST", "/v1/workspaces/"+wsid+"/cloudcontexts")

	inputs := flight.NewFlightMap()
	if err := inputs.Put(workspace.KeyPlatform, string(req.Platform)); err != nil {
		WriteError(w, err)
		return
	}
	if req.SpendProfileID != "" {
		if err := inputs.Put(workspace.KeySpendProfileID, req.SpendProfileID); err != nil {
			WriteError(w, err)
			return
		}
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    workspace.FlightContextCreate,
		Description:   fmt.Sprintf("create %s cloud context on workspace %s", req.Platform, wsid),
		OperationType: core.OperationCreate,
		Submitter:     submitter(r),
		WorkspaceID:   wsid,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}

// DeleteCloudContext tears down a cloud context (async).
func (a *API) DeleteCloudContext(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	platform := core.CloudPlatform(chi.URLParam(r, "platform"))

	if _, err := a.store.GetCloudContext(r.Context(), wsid, platform); err != nil {
		WriteError(w, err)
		return
	}

	path := fmt.Sprintf("/v1/workspaces/%s/cloudcontexts/%s", wsid, platform)
	requestHash := core.ComputeRequestHash(nil, "DELETE", path)

	inputs := flight.NewFlightMap()
	if err := inputs.Put(workspace.KeyPlatform, string(platform)); err != nil {
		WriteError(w, err)
		return
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    workspace.FlightContextDelete,
		Description:   fmt.Sprintf("delete %s cloud context on workspace %s", platform, wsid),
		OperationType: core.OperationDelete,
		Submitter:     submitter(r),
		WorkspaceID:   wsid,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}
