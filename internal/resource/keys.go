package resource

// Flight type names registered by this package.
const (
	FlightCreate = "resource-create"
	FlightDelete = "resource-delete"
	FlightClone  = "resource-clone"
)

// Flight input keys. The workspace id rides under the shared job key.
const (
	KeyResource            = "resource"
	KeyResourceID          = "resource_id"
	KeySourceWorkspaceID   = "source_workspace_id"
	KeySourceResourceID    = "source_resource_id"
	KeyDestName            = "dest_name"
	KeyDestDescription     = "dest_description"
	KeyInstructionOverride = "cloning_override"
)

// Working-map keys internal to this package's flights.
const (
	wkResource     = "resource_record"
	wkEffective    = "effective_instruction"
	wkSourceType   = "source_resource_type"
	wkDest         = "dest_resource"
	wkPrevPolicies = "previous_dest_policies"
)
