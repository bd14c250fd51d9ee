package core

// OperationType declares what kind of change a job makes to a workspace. The
// activity log is keyed by it. UNKNOWN is a sentinel meaning the flight
// definition forgot to declare one; submitting it is a programming defect.
type OperationType string

const (
	OperationUnknown             OperationType = "UNKNOWN"
	OperationCreate              OperationType = "CREATE"
	OperationUpdate              OperationType = "UPDATE"
	OperationDelete              OperationType = "DELETE"
	OperationClone               OperationType = "CLONE"
	OperationSystemCleanup       OperationType = "SYSTEM_CLEANUP"
	OperationGrantWorkspaceRole  OperationType = "GRANT_WORKSPACE_ROLE"
	OperationRemoveWorkspaceRole OperationType = "REMOVE_WORKSPACE_ROLE"
)

func (o OperationType) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationClone,
		OperationSystemCleanup, OperationGrantWorkspaceRole, OperationRemoveWorkspaceRole:
		return true
	}
	return false
}
