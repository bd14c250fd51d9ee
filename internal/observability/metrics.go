package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsm-api metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wsm_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsm_active_requests",
		Help: "Current in-flight requests",
	})

	// flight engine metrics
	FlightTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_flight_total",
		Help: "Flight completion count",
	}, []string{"flight_type", "status"})

	FlightDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wsm_flight_duration_seconds",
		Help:    "Flight end-to-end duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"flight_type"})

	FlightQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsm_flight_queue_depth",
		Help: "Flights queued but not yet picked up by a worker",
	})

	StepRetryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_step_retry_total",
		Help: "Step retry count",
	}, []string{"flight_type", "step"})

	UndoFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_undo_failure_total",
		Help: "Undo steps that failed during rollback",
	}, []string{"flight_type", "step"})

	SubflightWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wsm_subflight_wait_seconds",
		Help:    "Parent-step wait time on nested flights",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// cloning metrics
	CloneResourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_clone_resource_total",
		Help: "Per-resource clone outcomes",
	}, []string{"resource_type", "instruction", "outcome"})

	CloneDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wsm_clone_duration_seconds",
		Help:    "Resource data copy duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"resource_type"})

	// activity log metrics
	ActivityWriteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsm_activity_write_total",
		Help: "Activity log writes by change type",
	}, []string{"change_type"})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		FlightTotal, FlightDuration, FlightQueueDepth,
		StepRetryTotal, UndoFailureTotal, SubflightWaitSeconds,
		CloneResourceTotal, CloneDuration, ActivityWriteTotal,
	)
}
