package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/resource"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/workspace"
)

type CreateWorkspaceRequest struct {
	ID             string              `json:"id,omitempty"`
	UserFacingID   string              `json:"user_facing_id"`
	DisplayName    string              `json:"display_name,omitempty"`
	Description    string              `json:"description,omitempty"`
	Stage          core.WorkspaceStage `json:"stage,omitempty"`
	SpendProfileID string              `json:"spend_profile_id,omitempty"`
	Properties     map[string]string   `json:"properties,omitempty"`
	Policies       []core.PolicyInput  `json:"policies,omitempty"`
}

type UpdateWorkspaceRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type UpdatePropertiesRequest struct {
	Set    map[string]string `json:"set,omitempty"`
	Remove []string          `json:"remove,omitempty"`
}

type CloneWorkspaceRequest struct {
	Destination        CreateWorkspaceRequest `json:"destination"`
	AdditionalPolicies []core.PolicyInput     `json:"additional_policies,omitempty"`
}

// ListWorkspaces lists workspaces with cursor pagination.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)

	var createdAfter *time.Time
	if c := r.URL.Query().Get("cursor"); c != "" {
		t, err := decodeCursor(c)
		if err != nil {
			WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid cursor"))
			return
		}
		createdAfter = &t
	}

	workspaces, err := a.store.ListWorkspaces(ctx, limit, createdAfter)
	if err != nil {
		a.log.Error("list workspaces failed", zap.Error(err))
		WriteError(w, err)
		return
	}

	var nextCursor string
	if len(workspaces) == limit {
		nextCursor = encodeCursor(workspaces[len(workspaces)-1].CreatedAt)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces":  workspaces,
		"next_cursor": nextCursor,
	})
}

// GetWorkspace gets a single workspace by id.
func (a *API) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.store.GetWorkspace(r.Context(), chi.URLParam(r, "wsid"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

// CreateWorkspace creates a new workspace (async).
func (a *API) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.UserFacingID == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "user_facing_id is required"))
		return
	}
	if req.ID == "" {
		req.ID = core.NewID()
	}
	if req.Stage == "" {
		req.Stage = core.StageMC
	}
	// Rawls-stage workspaces are owned elsewhere and carry no policies here.
	if req.Stage == core.StageRawls && len(req.Policies) > 0 {
		WriteError(w, core.NewAppError(core.ErrBadRequest,
			"policies are not supported on RAWLS_WORKSPACE stage workspaces"))
		return
	}

	body, _ := json.Marshal(req)
	requestHash := core.ComputeRequestHash(body, "POST", "/v1/workspaces")

	ws := core.Workspace{
		ID:             req.ID,
		UserFacingID:   req.UserFacingID,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		Stage:          req.Stage,
		SpendProfileID: req.SpendProfileID,
		Properties:     req.Properties,
		CreatedBy:      submitter(r),
	}

	inputs := flight.NewFlightMap()
	if err := inputs.Put(workspace.KeyWorkspace, ws); err != nil {
		WriteError(w, err)
		return
	}
	if len(req.Policies) > 0 {
		if err := inputs.Put(workspace.KeyPolicies, req.Policies); err != nil {
			WriteError(w, err)
			return
		}
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    workspace.FlightWorkspaceCreate,
		Description:   fmt.Sprintf("create workspace %s", req.UserFacingID),
		OperationType: core.OperationCreate,
		Submitter:     submitter(r),
		WorkspaceID:   req.ID,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}

// UpdateWorkspace changes the display name or description (sync).
func (a *API) UpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsid := chi.URLParam(r, "wsid")

	var req UpdateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.DisplayName == nil && req.Description == nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "nothing to update"))
		return
	}

	if err := a.store.UpdateWorkspaceAttributes(ctx, wsid, req.DisplayName, req.Description); err != nil {
		WriteError(w, err)
		return
	}
	a.recordChange(ctx, wsid, core.OperationUpdate)

	ws, err := a.store.GetWorkspace(ctx, wsid)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

// UpdateProperties merges and removes workspace properties (sync).
func (a *API) UpdateProperties(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsid := chi.URLParam(r, "wsid")

	var req UpdatePropertiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}

	ws, err := a.store.UpdateWorkspaceProperties(ctx, wsid, req.Set, req.Remove)
	if err != nil {
		WriteError(w, err)
		return
	}
	a.recordChange(ctx, wsid, core.OperationUpdate)

	WriteJSON(w, http.StatusOK, ws)
}

// DeleteWorkspace tears down the workspace and everything in it (async).
func (a *API) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}

	requestHash := core.ComputeRequestHash(nil, "DELETE", "/v1/workspaces/"+wsid)
	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    workspace.FlightWorkspaceDelete,
		Description:   fmt.Sprintf("delete workspace %s", wsid),
		OperationType: core.OperationDelete,
		Submitter:     submitter(r),
		WorkspaceID:   wsid,
		RequestHash:   requestHash,
	})
}

// GetPolicies returns the workspace's effective policy set.
func (a *API) GetPolicies(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}
	policies, err := a.store.GetPolicies(r.Context(), wsid)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

// GetLastChanged returns the latest activity timestamp per change type.
func (a *API) GetLastChanged(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		WriteError(w, err)
		return
	}
	changes, err := a.store.LastChanged(r.Context(), wsid)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"last_changed": changes})
}

// CloneWorkspace copies a workspace and its resources into a new one (async).
func (a *API) CloneWorkspace(w http.ResponseWriter, r *http.Request) {
	srcID := chi.URLParam(r, "wsid")

	if _, err := a.store.GetWorkspace(r.Context(), srcID); err != nil {
		WriteError(w, err)
		return
	}

	var req CloneWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.Destination.UserFacingID == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "destination user_facing_id is required"))
		return
	}
	if req.Destination.ID == "" {
		req.Destination.ID = core.NewID()
	}
	if req.Destination.Stage == "" {
		req.Destination.Stage = core.StageMC
	}

	body, _ := json.Marshal(req)
	requestHash := core.ComputeRequestHash(body, "POST", "/v1/workspaces/"+srcID+"/clone")

	dest := core.Workspace{
		ID:             req.Destination.ID,
		UserFacingID:   req.Destination.UserFacingID,
		DisplayName:    req.Destination.DisplayName,
		Description:    req.Destination.Description,
		Stage:          req.Destination.Stage,
		SpendProfileID: req.Destination.SpendProfileID,
		Properties:     req.Destination.Properties,
		CreatedBy:      submitter(r),
	}

	inputs := flight.NewFlightMap()
	if err := inputs.Put(workspace.KeyWorkspace, dest); err != nil {
		WriteError(w, err)
		return
	}
	if err := inputs.Put(resource.KeySourceWorkspaceID, srcID); err != nil {
		WriteError(w, err)
		return
	}
	if len(req.AdditionalPolicies) > 0 {
		if err := inputs.Put(workspace.KeyAdditionalPolicies, req.AdditionalPolicies); err != nil {
			WriteError(w, err)
			return
		}
	}

	a.submitJob(w, r, job.Request{
		JobID:         r.Header.Get("Idempotency-Key"),
		FlightType:    workspace.FlightWorkspaceClone,
		Description:   fmt.Sprintf("clone workspace %s into %s", srcID, dest.UserFacingID),
		OperationType: core.OperationClone,
		Submitter:     submitter(r),
		WorkspaceID:   dest.ID,
		RequestHash:   requestHash,
		Inputs:        inputs,
	})
}

// recordChange timestamps a synchronous mutation in the activity log. Async
// mutations are timestamped by the flight-completion hook instead.
func (a *API) recordChange(ctx context.Context, wsid string, op core.OperationType) {
	if err := a.store.WriteChange(ctx, wsid, op, time.Now().UTC()); err != nil {
		a.log.Warn("activity write failed",
			zap.String("workspace_id", wsid),
			zap.String("change_type", string(op)),
			zap.Error(err))
	}
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
