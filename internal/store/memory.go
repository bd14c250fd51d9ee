package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
)

// Memory implements every store port in process. Used by unit tests and by
// dev runs without postgres. The flight store is the engine's own MemStore.
type Memory struct {
	*flight.MemStore

	mu         sync.RWMutex
	workspaces map[string]*core.Workspace
	contexts   map[string]map[core.CloudPlatform]*core.CloudContext
	policies   map[string][]core.PolicyInput
	resources  map[string]map[string]*core.Resource // workspaceID -> resourceID
	jobs       map[string]*JobRecord
	activity   map[string]map[core.OperationType]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		MemStore:   flight.NewMemStore(),
		workspaces: map[string]*core.Workspace{},
		contexts:   map[string]map[core.CloudPlatform]*core.CloudContext{},
		policies:   map[string][]core.PolicyInput{},
		resources:  map[string]map[string]*core.Resource{},
		jobs:       map[string]*JobRecord{},
		activity:   map[string]map[core.OperationType]time.Time{},
	}
}

func deepCopy[T any](in, out *T) {
	b, _ := json.Marshal(in)
	_ = json.Unmarshal(b, out)
}

func (m *Memory) CreateWorkspace(ctx context.Context, ws *core.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[ws.ID]; ok {
		return core.NewAppErrorf(core.ErrConflictExists, "workspace %s already exists", ws.ID)
	}
	for _, existing := range m.workspaces {
		if existing.UserFacingID == ws.UserFacingID {
			return core.NewAppErrorf(core.ErrConflictExists, "user-facing id %s already in use", ws.UserFacingID)
		}
	}
	cp := &core.Workspace{}
	deepCopy(ws, cp)
	m.workspaces[ws.ID] = cp
	return nil
}

func (m *Memory) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	cp := &core.Workspace{}
	deepCopy(ws, cp)
	return cp, nil
}

func (m *Memory) ListWorkspaces(ctx context.Context, limit int, createdAfter *time.Time) ([]core.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Workspace
	for _, ws := range m.workspaces {
		if createdAfter != nil && !ws.CreatedAt.After(*createdAfter) {
			continue
		}
		cp := core.Workspace{}
		deepCopy(ws, &cp)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateWorkspaceAttributes(ctx context.Context, id string, displayName, description *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	if displayName != nil {
		ws.DisplayName = *displayName
	}
	if description != nil {
		ws.Description = *description
	}
	ws.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateWorkspaceProperties(ctx context.Context, id string, set map[string]string, remove []string) (*core.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	if ws.Properties == nil {
		ws.Properties = map[string]string{}
	}
	for k, v := range set {
		ws.Properties[k] = v
	}
	for _, k := range remove {
		delete(ws.Properties, k)
	}
	ws.UpdatedAt = time.Now().UTC()
	cp := &core.Workspace{}
	deepCopy(ws, cp)
	return cp, nil
}

func (m *Memory) DeleteWorkspace(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[id]; !ok {
		return core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	delete(m.workspaces, id)
	delete(m.contexts, id)
	delete(m.policies, id)
	delete(m.resources, id)
	return nil
}

func (m *Memory) CreateCloudContext(ctx context.Context, cc *core.CloudContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPlatform, ok := m.contexts[cc.WorkspaceID]
	if !ok {
		byPlatform = map[core.CloudPlatform]*core.CloudContext{}
		m.contexts[cc.WorkspaceID] = byPlatform
	}
	if _, ok := byPlatform[cc.Platform]; ok {
		return core.NewAppErrorf(core.ErrConflictExists, "cloud context %s already exists on workspace %s", cc.Platform, cc.WorkspaceID)
	}
	cp := &core.CloudContext{}
	deepCopy(cc, cp)
	byPlatform[cc.Platform] = cp
	return nil
}

func (m *Memory) GetCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform) (*core.CloudContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cc, ok := m.contexts[workspaceID][platform]
	if !ok {
		return nil, core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	cp := &core.CloudContext{}
	deepCopy(cc, cp)
	return cp, nil
}

func (m *Memory) ListCloudContexts(ctx context.Context, workspaceID string) ([]core.CloudContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.CloudContext
	for _, cc := range m.contexts[workspaceID] {
		cp := core.CloudContext{}
		deepCopy(cc, &cp)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *Memory) ClaimCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform, state core.ContextState, flightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.contexts[workspaceID][platform]
	if !ok {
		return core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	if cc.FlightID != "" && cc.FlightID != flightID {
		return core.NewAppErrorf(core.ErrConflictLocked, "%s context on workspace %s is owned by flight %s", platform, workspaceID, cc.FlightID)
	}
	cc.FlightID = flightID
	cc.State = state
	return nil
}

func (m *Memory) ReleaseCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform, state core.ContextState, flightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.contexts[workspaceID][platform]
	if !ok {
		return core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	if cc.FlightID != flightID {
		return core.NewAppErrorf(core.ErrConflictLocked, "%s context on workspace %s is owned by flight %s", platform, workspaceID, cc.FlightID)
	}
	cc.FlightID = ""
	cc.State = state
	return nil
}

func (m *Memory) UpdateCloudContextFields(ctx context.Context, workspaceID string, platform core.CloudPlatform, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.contexts[workspaceID][platform]
	if !ok {
		return core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	if cc.ProviderFields == nil {
		cc.ProviderFields = map[string]string{}
	}
	for k, v := range fields {
		cc.ProviderFields[k] = v
	}
	return nil
}

func (m *Memory) DeleteCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[workspaceID][platform]; !ok {
		return core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	delete(m.contexts[workspaceID], platform)
	return nil
}

func (m *Memory) GetPolicies(ctx context.Context, workspaceID string) ([]core.PolicyInput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.workspaces[workspaceID]; !ok {
		return nil, core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", workspaceID)
	}
	return core.ClonePolicies(m.policies[workspaceID]), nil
}

func (m *Memory) ReplacePolicies(ctx context.Context, workspaceID string, policies []core.PolicyInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[workspaceID]; !ok {
		return core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", workspaceID)
	}
	m.policies[workspaceID] = core.ClonePolicies(policies)
	return nil
}

func (m *Memory) CreateResource(ctx context.Context, r *core.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.resources[r.WorkspaceID]
	if !ok {
		byID = map[string]*core.Resource{}
		m.resources[r.WorkspaceID] = byID
	}
	if _, ok := byID[r.ID]; ok {
		return core.NewAppErrorf(core.ErrConflictExists, "resource %s already exists", r.ID)
	}
	for _, existing := range byID {
		if existing.Name == r.Name {
			return core.NewAppErrorf(core.ErrConflictExists, "resource name %q already in use in workspace %s", r.Name, r.WorkspaceID)
		}
	}
	cp := &core.Resource{}
	deepCopy(r, cp)
	byID[r.ID] = cp
	return nil
}

func (m *Memory) GetResource(ctx context.Context, workspaceID, resourceID string) (*core.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[workspaceID][resourceID]
	if !ok {
		return nil, core.NewAppErrorf(core.ErrNotFound, "resource %s not found in workspace %s", resourceID, workspaceID)
	}
	cp := &core.Resource{}
	deepCopy(r, cp)
	return cp, nil
}

func (m *Memory) GetResourceByName(ctx context.Context, workspaceID, name string) (*core.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.resources[workspaceID] {
		if r.Name == name {
			cp := &core.Resource{}
			deepCopy(r, cp)
			return cp, nil
		}
	}
	return nil, core.NewAppErrorf(core.ErrNotFound, "resource %q not found in workspace %s", name, workspaceID)
}

func (m *Memory) ListResources(ctx context.Context, workspaceID string) ([]core.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Resource
	for _, r := range m.resources[workspaceID] {
		cp := core.Resource{}
		deepCopy(r, &cp)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteResource(ctx context.Context, workspaceID, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[workspaceID][resourceID]; !ok {
		return core.NewAppErrorf(core.ErrNotFound, "resource %s not found in workspace %s", resourceID, workspaceID)
	}
	delete(m.resources[workspaceID], resourceID)
	return nil
}

func (m *Memory) CreateJob(ctx context.Context, j *JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.JobID]; ok {
		return core.NewAppErrorf(core.ErrConflictExists, "job %s already exists", j.JobID)
	}
	cp := *j
	m.jobs[j.JobID] = &cp
	return nil
}

func (m *Memory) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, core.NewAppErrorf(core.ErrNotFound, "job %s not found", jobID)
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListJobs(ctx context.Context, workspaceID string, limit int) ([]JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JobRecord
	for _, j := range m.jobs {
		if workspaceID != "" && j.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted.Before(out[j].Submitted) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) WriteChange(ctx context.Context, workspaceID string, change core.OperationType, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOp, ok := m.activity[workspaceID]
	if !ok {
		byOp = map[core.OperationType]time.Time{}
		m.activity[workspaceID] = byOp
	}
	byOp[change] = ts
	return nil
}

func (m *Memory) LastChanged(ctx context.Context, workspaceID string) (map[core.OperationType]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[core.OperationType]time.Time{}
	for op, ts := range m.activity[workspaceID] {
		out[op] = ts
	}
	return out, nil
}
