package core

import "time"

type WorkspaceStage string

const (
	// StageRawls workspaces are owned by an external system; they carry no
	// cloud contexts or policies of their own.
	StageRawls WorkspaceStage = "RAWLS_WORKSPACE"
	// StageMC workspaces are fully managed here.
	StageMC WorkspaceStage = "MC_WORKSPACE"
)

type Workspace struct {
	ID             string            `json:"id"`
	UserFacingID   string            `json:"user_facing_id"`
	DisplayName    string            `json:"display_name,omitempty"`
	Description    string            `json:"description,omitempty"`
	Stage          WorkspaceStage    `json:"stage"`
	SpendProfileID string            `json:"spend_profile_id,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type CloudPlatform string

const (
	PlatformAWS   CloudPlatform = "AWS"
	PlatformGCP   CloudPlatform = "GCP"
	PlatformAzure CloudPlatform = "AZURE"
)

type ContextState string

const (
	ContextCreating ContextState = "CREATING"
	ContextReady    ContextState = "READY"
	ContextDeleting ContextState = "DELETING"
)

// CloudContext is the per-provider account/project binding owned by a
// workspace. While a lifecycle flight is operating on the context, FlightID
// records the owner; any other flight touching the row must fail fast.
type CloudContext struct {
	WorkspaceID    string            `json:"workspace_id"`
	Platform       CloudPlatform     `json:"platform"`
	State          ContextState      `json:"state"`
	FlightID       string            `json:"flight_id,omitempty"`
	Error          string            `json:"error,omitempty"`
	SpendProfileID string            `json:"spend_profile_id,omitempty"`
	ProviderFields map[string]string `json:"provider_fields,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
