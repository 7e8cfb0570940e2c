package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksCreated       = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_tasks_created_total", Help: "Tasks created"})
	TasksTransitioned  = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_tasks_transitioned_total", Help: "Accepted task transitions"})
	TasksRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_task_transitions_rejected_total", Help: "Task transitions rejected by the state machine"})
	JobsCreated        = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_jobs_created_total", Help: "Jobs created"})
	RunsExecuted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_runs_executed_total", Help: "New job runs recorded"})
	RunsDeduplicated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_runs_deduplicated_total", Help: "Run-now calls answered with an existing run"})
	DocsIngested       = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_memory_docs_ingested_total", Help: "Memory documents ingested"})
	DocsDeduplicated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_memory_docs_deduplicated_total", Help: "Ingests answered with an existing document"})
	MemorySearches     = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_memory_searches_total", Help: "Memory searches served"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_control_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	HTTPRequestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mission_control_http_request_duration_seconds",
		Help:    "API request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksCreated,
			TasksTransitioned,
			TasksRejected,
			JobsCreated,
			RunsExecuted,
			RunsDeduplicated,
			DocsIngested,
			DocsDeduplicated,
			MemorySearches,
			RateLimitRejects,
			HTTPRequestSeconds,
		)
	})
	return promhttp.Handler()
}
