package core

import (
	"encoding/json"
	"time"
)

type ResourceType string

const (
	ResourceStorageBucket      ResourceType = "STORAGE_BUCKET"
	ResourceAnalyticDataset    ResourceType = "ANALYTIC_DATASET"
	ResourceComputeInstance    ResourceType = "COMPUTE_INSTANCE"
	ResourceSnapshotReference  ResourceType = "SNAPSHOT_REFERENCE"
	ResourceRepoReference      ResourceType = "REPO_REFERENCE"
	ResourceWorkspaceReference ResourceType = "WORKSPACE_REFERENCE"
)

type StewardshipType string

const (
	StewardshipControlled StewardshipType = "CONTROLLED"
	StewardshipReferenced StewardshipType = "REFERENCED"
)

type CloningInstructions string

const (
	CloneNothing    CloningInstructions = "NOTHING"
	CloneReference  CloningInstructions = "REFERENCE"
	CloneDefinition CloningInstructions = "DEFINITION"
	CloneResource   CloningInstructions = "RESOURCE"
)

func (c CloningInstructions) Valid() bool {
	switch c {
	case CloneNothing, CloneReference, CloneDefinition, CloneResource:
		return true
	}
	return false
}

type AccessScope string

const (
	AccessShared  AccessScope = "SHARED"
	AccessPrivate AccessScope = "PRIVATE"
)

type ManagedBy string

const (
	ManagedByUser        ManagedBy = "USER"
	ManagedByApplication ManagedBy = "APPLICATION"
)

// PrivateUser identifies the single user a private controlled resource is
// assigned to, with the roles granted on the underlying cloud object.
type PrivateUser struct {
	UserName string   `json:"user_name"`
	Roles    []string `json:"roles"`
}

// LineageEntry records one clone hop. Lineage is append-only: each clone adds
// exactly one entry and never reorders or truncates the history.
type LineageEntry struct {
	SourceWorkspaceID string `json:"source_workspace_id"`
	SourceResourceID  string `json:"source_resource_id"`
}

type Resource struct {
	ID           string              `json:"id"`
	WorkspaceID  string              `json:"workspace_id"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Type         ResourceType        `json:"type"`
	Stewardship  StewardshipType     `json:"stewardship"`
	Cloning      CloningInstructions `json:"cloning_instructions"`
	Properties   map[string]string   `json:"properties,omitempty"`
	Lineage      []LineageEntry      `json:"lineage,omitempty"`
	Attributes   json.RawMessage     `json:"attributes,omitempty"`
	AccessScope  AccessScope         `json:"access_scope,omitempty"`
	ManagedBy    ManagedBy           `json:"managed_by,omitempty"`
	PrivateUser  *PrivateUser        `json:"private_user,omitempty"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
}

func (r *Resource) IsControlled() bool {
	return r.Stewardship == StewardshipControlled
}

// Per-type attribute payloads carried in Resource.Attributes.

type BucketAttributes struct {
	BucketName string `json:"bucket_name"`
	Region     string `json:"region,omitempty"`
}

type DatasetAttributes struct {
	DatasetName string `json:"dataset_name"`
	Region      string `json:"region,omitempty"`
}

type InstanceAttributes struct {
	InstanceName string `json:"instance_name"`
	Region       string `json:"region,omitempty"`
	MachineType  string `json:"machine_type,omitempty"`
}

// ReferenceAttributes points at an external object; nothing cloud-side is
// owned by this system for a referenced resource.
type ReferenceAttributes struct {
	TargetID string `json:"target_id"`
}

// Region returns the declared cloud region for a controlled resource, or ""
// when the resource carries no placement (references never do).
func (r *Resource) Region() string {
	if !r.IsControlled() || len(r.Attributes) == 0 {
		return ""
	}
	var attrs struct {
		Region string `json:"region"`
	}
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return ""
	}
	return attrs.Region
}
