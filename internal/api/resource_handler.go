package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/resource"
)

type CreateResourceRequest struct {
	ID          string                   `json:"id,omitempty"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Type        core.ResourceType        `json:"type"`
	Stewardship core.StewardshipType     `json:"stewardship"`
	Cloning     core.CloningInstructions `json:"cloning_instructions"`
	Properties  map[string]string        `json:"properties,omitempty"`
	Attributes  json.RawMessage          `json:"attributes,omitempty"`
	AccessScope core.AccessScope         `json:"access_scope,omitempty"`
	ManagedBy   core.ManagedBy           `json:"managed_by,omitempty"`
	PrivateUser *core.PrivateUser        `json:"private_user,omitempty"`
}

type CloneResourceRequest struct {
	DestWorkspaceID string                   `json:"dest_workspace_id"`
	Name            string                   `json:"name,omitempty"`
	Description     string                   `json:"description,omitempty"`
	Cloning         core.CloningInstructions `json:"cloning_instructions,omitempty"`
}

// ListResources lists the workspace's resources.
func (a *API) ListResources(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}
	resources, err := a.store.ListResources(r.Context(), wsid)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
}

// GetResource gets a single resource by id.
func (a *API) GetResource(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.GetResource(r.Context(), chi.URLParam(r, "wsid"), chi.URLParam(r, "rid"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// GetResourceByName gets a single resource by its workspace-unique name.
func (a *API) GetResourceByName(w http.ResponseWriter, r *http.Request) {
	res, err := a.store.GetResourceByName(r.Context(), chi.URLParam(r, "wsid"), chi.URLParam(r, "name"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// CreateResource creates a controlled or referenced resource (async).
func (a *API) CreateResource(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}

	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.ID == "" {
		req.ID = core.NewID()
	}

	body, _ := json.Marshal(req)
	requestHash := core.ComputeRequestHash(body, "POST", "/v1/workspaces/"+wsid+"/resources")

	res := core.Resource{
		ID:          req.ID,
		WorkspaceID: wsid,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Stewardship: req.Stewardship,
		Cloning:     req.Cloning,
		Properties:  req.Properties,
		Attributes:  req.Attributes,
		AccessScope: req.AccessScope,
		ManagedBy:   req.ManagedBy,
		PrivateUser: req.PrivateUser,
		CreatedBy:   submitter(r),
	}

	inputs := flight.NewFlightMap()
	if err := inputs.Put(resource.KeyResource, res); err != nil {
		WriteError(w, err)
		return
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    resource.FlightCreate,
		Description:   fmt.Sprintf("create resource %s in workspace %s", req.Name, wsid),
		OperationType: core.OperationCreate,
		Submitter:     submitter(r),
		WorkspaceID:   wsid,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}

// DeleteResource removes a resource and its cloud artifact (async).
func (a *API) DeleteResource(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	rid := chi.URLParam(r, "rid")

	if _, err := a.store.GetResource(r.Context(), wsid, rid); err != nil {
		WriteError(w, err)
		return
	}

	path := fmt.Sprintf("/v1/workspaces/%s/resources/%s", wsid, rid)
	requestHash := core.ComputeRequestHash(nil, "DELETE", path)

	inputs := flight.NewFlightMap()
	if err := inputs.Put(resource.KeyResourceID, rid); err != nil {
		WriteError(w, err)
		return
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    resource.FlightDelete,
		Description:   fmt.Sprintf("delete resource %s from workspace %s", rid, wsid),
		OperationType: core.OperationDelete,
		Submitter:     submitter(r),
		WorkspaceID:   wsid,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}

// CloneResource copies a resource into another workspace (async). The copy
// depth comes from the resource's stored cloning instructions unless the
// request overrides them.
func (a *API) CloneResource(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	rid := chi.URLParam(r, "rid")

	if _, err := a.store.GetResource(r.Context(), wsid, rid); err != nil {
		WriteError(w, err)
		return
	}

	var req CloneResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.DestWorkspaceID == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "dest_workspace_id is required"))
		return
	}
	if _, err := a.store.GetWorkspace(r.Context(), req.DestWorkspaceID); err != nil {
		WriteError(w, err)
		return
	}

	path := fmt.Sprintf("/v1/workspaces/%s/resources/%s/clone", wsid, rid)
	body, _ := json.Marshal(req)
	requestHash := core.ComputeRequestHash(body, "POST", path)

	inputs := flight.NewFlightMap()
	if err := firstPutErr(
		inputs.Put(resource.KeySourceWorkspaceID, wsid),
		inputs.Put(resource.KeySourceResourceID, rid),
	); err != nil {
		WriteError(w, err)
		return
	}
	if req.Name != "" {
		if err := inputs.Put(resource.KeyDestName, req.Name); err != nil {
			WriteError(w, err)
			return
		}
	}
	if req.Description != "" {
		if err := inputs.Put(resource.KeyDestDescription, req.Description); err != nil {
			WriteError(w, err)
			return
		}
	}
	if req.Cloning != "" {
		if err := inputs.Put(resource.KeyInstructionOverride, string(req.Cloning)); err != nil {
			WriteError(w, err)
			return
		}
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    resource.FlightClone,
		Description:   fmt.Sprintf("clone resource %s into workspace %s", rid, req.DestWorkspaceID),
		OperationType: core.OperationClone,
		Submitter:     submitter(r),
		WorkspaceID:   req.DestWorkspaceID,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}

func firstPutErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
