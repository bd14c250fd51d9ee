// Package workspace implements workspace and cloud-context lifecycle flights,
// including whole-workspace cloning. Per-resource data copies run as nested
// resource-clone flights so one resource's failure cannot corrupt copies
// already committed for the others.
package workspace

// Flight type names registered by this package.
const (
	FlightWorkspaceCreate = "workspace-create"
	FlightWorkspaceDelete = "workspace-delete"
	FlightWorkspaceClone  = "workspace-clone"
	FlightContextCreate   = "cloud-context-create"
	FlightContextDelete   = "cloud-context-delete"
)

// Flight input keys. Source workspace and destination workspace ids ride
// under the keys shared with the resource package.
const (
	KeyWorkspace          = "workspace"
	KeyPolicies           = "policies"
	KeyPlatform           = "platform"
	KeySpendProfileID     = "spend_profile_id"
	KeyAdditionalPolicies = "additional_policies"

	// KeyCloneResults is the working-map key holding per-resource clone
	// outcomes of a workspace clone. It is part of the job response.
	KeyCloneResults = "clone_results"
)

const (
	wkWorkspace    = "workspace_record"
	wkContext      = "cloud_context_record"
	wkResources    = "resource_records"
	wkPrevPolicies = "previous_policies"
)
