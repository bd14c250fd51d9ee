// Package job is the caller-facing wrapper around flights. Every async API
// request becomes a job whose id doubles as the flight id, so job status is
// always readable straight off the flight row.
package job

// Well-known flight input and working-map keys. Flights that want their
// outcome surfaced through the job API put the payload under KeyResponse.
const (
	KeyDescription   = "description"
	KeyOperationType = "operation_type"
	KeyWorkspaceID   = "workspace_id"
	KeySubmitter     = "submitter"
	KeyResponse      = "response"
)
