package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/imageguard/guardian/internal/scheduler"
)

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.schedulerStore.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

type scheduledJobRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schedule    string            `json:"schedule"`
	JobType     scheduler.JobType `json:"job_type"`
	Config      map[string]string `json:"config"`
	Enabled     bool              `json:"enabled"`
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	var req scheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Name == "" || req.Schedule == "" || req.JobType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name, schedule and job_type are required")
		return
	}

	job := &scheduler.Job{
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		JobType:     req.JobType,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}
	if err := s.scheduler.AddJob(r.Context(), job); err != nil {
		respondError(w, http.StatusBadRequest, "scheduler_error", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	job, err := s.schedulerStore.GetJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":       job,
		"next_runs": s.scheduler.GetNextRuns(id, 3),
	})
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	job, err := s.schedulerStore.GetJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var req scheduledJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name != "" {
		job.Name = req.Name
	}
	if req.Description != "" {
		job.Description = req.Description
	}
	if req.Schedule != "" {
		job.Schedule = req.Schedule
	}
	if req.JobType != "" {
		job.JobType = req.JobType
	}
	if req.Config != nil {
		job.Config = req.Config
	}
	job.Enabled = req.Enabled

	if err := s.scheduler.UpdateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusBadRequest, "scheduler_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.DeleteJob(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.RunJobNow(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	executions, err := s.schedulerStore.GetJobExecutions(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, executions)
}
