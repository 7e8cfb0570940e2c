package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mission-control/internal/models"
	"mission-control/internal/service"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := models.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.svc.ListTasks(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTaskInput
	if err := decode(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.svc.CreateTask(r.Context(), actorFromRequest(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, task)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.ListTaskEvents(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, events)
}

// transitionRequest carries the task id from the path into the decoded body.
type transitionRequest struct {
	service.TransitionInput
	taskID string
}

func (t *transitionRequest) Validate() error {
	t.TaskID = t.taskID
	return t.TransitionInput.Validate()
}

func (s *Server) handleTransitionTask(w http.ResponseWriter, r *http.Request) {
	req := transitionRequest{taskID: chi.URLParam(r, "taskId")}
	if err := decode(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.svc.TransitionTask(r.Context(), actorFromRequest(r), req.TransitionInput)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, task)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.ListJobs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req service.CreateJobInput
	if err := decode(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.svc.CreateJob(r.Context(), actorFromRequest(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, job)
}

func (s *Server) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.ListJobRuns(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, runs)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (e *enabledRequest) Validate() error {
	if e.Enabled == nil {
		return fmt.Errorf("%w: enabled is required", service.ErrValidation)
	}
	return nil
}

func (s *Server) handleSetJobEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decode(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.svc.SetJobEnabled(r.Context(), actorFromRequest(r), chi.URLParam(r, "jobId"), *req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, job)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	var req service.RunNowInput
	if err := decode(w, r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	run, err := s.svc.RunJobNow(r.Context(), actorFromRequest(r), chi.URLParam(r, "jobId"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, run)
}

func (s *Server) handleIngestMemory(w http.ResponseWriter, r *http.Request) {
	var req service.IngestInput
	if err := decode(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.svc.IngestMemory(r.Context(), actorFromRequest(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, doc)
}

func (s *Server) handleIngestObject(w http.ResponseWriter, r *http.Request) {
	var req service.ObjectIngestInput
	if err := decode(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.svc.IngestObject(r.Context(), actorFromRequest(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, doc)
}

func (s *Server) handleSearchMemory(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.SearchMemory(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, results)
}

func (s *Server) handleGetMemoryDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GetMemoryDoc(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, doc)
}

func (s *Server) handleMemoryChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.svc.ListMemoryChunks(r.Context(), chi.URLParam(r, "docId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, chunks)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := service.ActivityFilter{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: limit must be an integer", errBadRequest))
			return
		}
		filter.Limit = n
	}
	items, err := s.svc.ListActivity(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, items)
}
