package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mission-control/internal/logging"
	"mission-control/internal/ratelimit"
	"mission-control/internal/service"
	"mission-control/internal/telemetry"
)

// Server wires HTTP handlers for the mission-control API.
type Server struct {
	svc     *service.Service
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

// New constructs the API server. A nil limiter admits every request.
func New(svc *service.Service, limiter ratelimit.Limiter, logger zerolog.Logger) *Server {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Server{
		svc:     svc,
		limiter: limiter,
		log:     logging.Component(logger, "api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/mission-control", func(r chi.Router) {
		r.Use(contentTypeJSON)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskId}", s.handleGetTask)
		r.Get("/tasks/{taskId}/events", s.handleTaskEvents)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobId}", s.handleGetJob)
		r.Get("/jobs/{jobId}/runs", s.handleJobRuns)

		r.Get("/memory/search", s.handleSearchMemory)
		r.Get("/memory/docs/{docId}", s.handleGetMemoryDoc)
		r.Get("/memory/docs/{docId}/chunks", s.handleMemoryChunks)

		r.Get("/activity", s.handleListActivity)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/tasks", s.handleCreateTask)
			r.Post("/tasks/{taskId}/transition", s.handleTransitionTask)
			r.Post("/jobs", s.handleCreateJob)
			r.Post("/jobs/{jobId}/enabled", s.handleSetJobEnabled)
			r.Post("/jobs/{jobId}/run-now", s.handleRunNow)
			r.Post("/memory/ingest", s.handleIngestMemory)
			r.Post("/memory/ingest-object", s.handleIngestObject)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": s.svc.Backend(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": s.svc.Backend()})
}

// envelope is the success body of every API route. Mode names the store
// backend that served the request.
type envelope struct {
	Mode string `json:"mode"`
	Data any    `json:"data"`
}

func (s *Server) respond(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Mode: s.svc.Backend(), Data: data})
}

func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
