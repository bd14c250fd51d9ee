package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/api/middleware"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

// Store is the persistence surface the handlers read from. Async mutations
// go through flights, so only reads and small synchronous updates hit the
// store directly.
type Store interface {
	store.WorkspaceStore
	store.ResourceStore
	store.ActivityStore
}

type API struct {
	store Store
	jobs  *job.Service
	// ready reports backend connectivity for /readyz. nil means always ready.
	ready func(ctx context.Context) error
	log   *zap.Logger
}

func NewAPI(st Store, jobs *job.Service, ready func(ctx context.Context) error, log *zap.Logger) *API {
	return &API{
		store: st,
		jobs:  jobs,
		ready: ready,
		log:   log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger(a.log))
	r.Use(chiMiddleware.AllowContentType("application/json"))

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Workspaces
		r.Get("/workspaces", a.ListWorkspaces)
		r.Post("/workspaces", a.CreateWorkspace)
		r.Get("/workspaces/{wsid}", a.GetWorkspace)
		r.Patch("/workspaces/{wsid}", a.UpdateWorkspace)
		r.Delete("/workspaces/{wsid}", a.DeleteWorkspace)
		r.Post("/workspaces/{wsid}/properties", a.UpdateProperties)
		r.Get("/workspaces/{wsid}/policies", a.GetPolicies)
		r.Get("/workspaces/{wsid}/last-changed", a.GetLastChanged)
		r.Post("/workspaces/{wsid}/clone", a.CloneWorkspace)

		// Cloud contexts
		r.Get("/workspaces/{wsid}/cloudcontexts", a.ListCloudContexts)
		r.Post("/workspaces/{wsid}/cloudcontexts", a.CreateCloudContext)
		r.Get("/workspaces/{wsid}/cloudcontexts/{platform}", a.GetCloudContext)
		r.Delete("/workspaces/{wsid}/cloudcontexts/{platform}", a.DeleteCloudContext)

		// Resources
		r.Get("/workspaces/{wsid}/resources", a.ListResources)
		r.Post("/workspaces/{wsid}/resources", a.CreateResource)
		r.Get("/workspaces/{wsid}/resources/{rid}", a.GetResource)
		r.Delete("/workspaces/{wsid}/resources/{rid}", a.DeleteResource)
		r.Get("/workspaces/{wsid}/resources/name/{name}", a.GetResourceByName)
		r.Post("/workspaces/{wsid}/resources/{rid}/clone", a.CloneResource)

		// Jobs
		r.Get("/workspaces/{wsid}/jobs", a.ListJobs)
		r.Get("/jobs/{job_id}", a.GetJob)
	})

	return r
}

// submitJob runs req through the job layer with the caller's request id
// attached for log correlation, and answers 202 with a job reference.
func (a *API) submitJob(w http.ResponseWriter, r *http.Request, req job.Request) {
	ctx := flight.WithDiag(r.Context(), flight.Diag{
		"request_id": middleware.GetRequestID(r),
	})
	jobID, err := a.jobs.Submit(ctx, req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteAccepted(w, jobID)
}

// submitter identifies the calling user. Authn is handled upstream; the
// gateway forwards the resolved identity in this header.
func submitter(r *http.Request) string {
	if u := r.Header.Get("X-User"); u != "" {
		return u
	}
	return "anonymous"
}

// encodeCursor encodes a timestamp as a base64 cursor.
func encodeCursor(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.Format(time.RFC3339Nano)))
}

// decodeCursor decodes a base64 cursor to a timestamp.
func decodeCursor(s string) (time.Time, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(b))
}
