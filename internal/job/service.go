package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Request describes one job submission. JobID is caller-chosen for
// idempotent retries; empty means generate one. RequestHash fingerprints the
// original HTTP request so a reused JobID with a different body is caught.
type Request struct {
	JobID         string
	FlightType    string
	Description   string
	OperationType core.OperationType
	Submitter     string
	WorkspaceID   string
	RequestHash   string
	Inputs        flight.FlightMap
}

// ErrorReport is the failure detail attached to a failed job. Fatal marks
// flights whose rollback did not complete and need operator repair.
type ErrorReport struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Fatal      bool   `json:"fatal,omitempty"`
}

type Report struct {
	JobID         string             `json:"job_id"`
	Status        Status             `json:"status"`
	Description   string             `json:"description,omitempty"`
	OperationType core.OperationType `json:"operation_type"`
	Submitter     string             `json:"submitter,omitempty"`
	WorkspaceID   string             `json:"workspace_id,omitempty"`
	Submitted     time.Time          `json:"submitted"`
	Completed     *time.Time         `json:"completed,omitempty"`
	Response      json.RawMessage    `json:"response,omitempty"`
	Error         *ErrorReport       `json:"error,omitempty"`
}

type Service struct {
	engine *flight.Engine
	jobs   store.JobStore
	log    *zap.Logger
}

func NewService(engine *flight.Engine, jobs store.JobStore, log *zap.Logger) *Service {
	return &Service{engine: engine, jobs: jobs, log: log}
}

// Submit records the job and launches its flight. Resubmitting the same
// JobID with the same RequestHash returns the existing job id; a different
// hash is a conflict. An UNKNOWN operation type means the flight definition
// forgot to declare one, which is a defect worth failing loudly on.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	if !req.OperationType.Valid() {
		return "", core.NewAppErrorf(core.ErrBadRequest,
			"job %q: operation type %q is not submittable", req.JobID, req.OperationType)
	}
	if req.JobID == "" {
		req.JobID = core.NewID()
	}

	rec := &store.JobRecord{
		JobID:         req.JobID,
		FlightID:      req.JobID,
		Description:   req.Description,
		OperationType: req.OperationType,
		Submitter:     req.Submitter,
		WorkspaceID:   req.WorkspaceID,
		RequestHash:   req.RequestHash,
		Submitted:     time.Now().UTC(),
	}
	if err := s.jobs.CreateJob(ctx, rec); err != nil {
		if core.CodeOf(err) != core.ErrConflictExists {
			return "", err
		}
		existing, getErr := s.jobs.GetJob(ctx, req.JobID)
		if getErr != nil {
			return "", getErr
		}
		if existing.RequestHash != req.RequestHash {
			return "", core.NewAppErrorf(core.ErrConflictIdempotent,
				"job %s already exists with a different request", req.JobID)
		}
		// Same request retried; the flight is already running or finished.
		return req.JobID, nil
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = flight.NewFlightMap()
	}
	if err := putJobKeys(inputs, req); err != nil {
		return "", err
	}
	if err := s.engine.Submit(ctx, req.JobID, req.FlightType, inputs); err != nil {
		if errors.Is(err, flight.ErrFlightExists) {
			return req.JobID, nil
		}
		return "", err
	}
	s.log.Info("job submitted",
		zap.String("job_id", req.JobID),
		zap.String("flight_type", req.FlightType),
		zap.String("operation_type", string(req.OperationType)),
		zap.String("workspace_id", req.WorkspaceID))
	return req.JobID, nil
}

// SubmitAndWait runs the job synchronously from the caller's point of view,
// returning its final report. The flight still checkpoints durably, so a
// crash mid-wait leaves a recoverable flight, not a lost request.
func (s *Service) SubmitAndWait(ctx context.Context, req Request, timeout time.Duration) (*Report, error) {
	jobID, err := s.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Wait(ctx, jobID, timeout); err != nil {
		return nil, err
	}
	return s.GetReport(ctx, jobID)
}

// GetReport maps the underlying flight state onto the job API surface.
func (s *Service) GetReport(ctx context.Context, jobID string) (*Report, error) {
	rec, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	st, err := s.engine.GetFlight(ctx, rec.FlightID)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		JobID:         rec.JobID,
		Description:   rec.Description,
		OperationType: rec.OperationType,
		Submitter:     rec.Submitter,
		WorkspaceID:   rec.WorkspaceID,
		Submitted:     rec.Submitted,
		Completed:     st.Completed,
	}
	switch st.Status {
	case flight.StatusSuccess:
		rep.Status = StatusSucceeded
		if raw, ok := st.Working[KeyResponse]; ok {
			rep.Response = raw
		}
	case flight.StatusError, flight.StatusFatal:
		rep.Status = StatusFailed
		code := core.ErrorCode(st.ErrorCode)
		if code == "" {
			code = core.ErrInternal
		}
		rep.Error = &ErrorReport{
			Message:    st.ErrorMessage,
			StatusCode: code.HTTPStatus(),
			Fatal:      st.Status == flight.StatusFatal,
		}
	default:
		rep.Status = StatusRunning
	}
	return rep, nil
}

// ListReports returns reports for a workspace's jobs, newest last.
func (s *Service) ListReports(ctx context.Context, workspaceID string, limit int) ([]Report, error) {
	recs, err := s.jobs.ListJobs(ctx, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(recs))
	for _, rec := range recs {
		rep, err := s.GetReport(ctx, rec.JobID)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, nil
}

func putJobKeys(inputs flight.FlightMap, req Request) error {
	if err := inputs.Put(KeyDescription, req.Description); err != nil {
		return err
	}
	if err := inputs.Put(KeyOperationType, req.OperationType); err != nil {
		return err
	}
	if err := inputs.Put(KeySubmitter, req.Submitter); err != nil {
		return err
	}
	return inputs.Put(KeyWorkspaceID, req.WorkspaceID)
}
