package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/imageguard/guardian/internal/hunter"
	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/store"
)

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	filters := store.ListScanTaskFilters{
		UserID: &userID,
		Limit:  50,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			filters.Limit = limit
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if offset, err := strconv.Atoi(o); err == nil {
			filters.Offset = offset
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := models.ScanStatus(status)
		filters.Status = &st
	}
	if mode := r.URL.Query().Get("mode"); mode != "" {
		m := models.ScanMode(mode)
		filters.Mode = &m
	}

	tasks, total, err := s.hunter.Tasks(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, tasks, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

type createScanRequest struct {
	models.ScanConfig
	// Defer leaves the task queued for a worker instead of starting it
	// inline.
	Defer bool `json:"defer"`
}

func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	task, err := s.hunter.CreateTask(r.Context(), userID, req.ScanConfig)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if req.Defer && s.queue != nil {
		if err := s.queue.EnqueueScan(r.Context(), task.ID); err != nil {
			respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
			return
		}
	} else {
		if err := s.hunter.Start(r.Context(), task.ID); err != nil {
			respondServiceError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid task ID")
		return
	}

	task, err := s.hunter.Task(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid task ID")
		return
	}

	if err := s.hunter.Cancel(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	task, err := s.hunter.Task(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, task)
}

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamScanProgress pushes progress snapshots over a websocket until the
// task reaches a terminal state. With Redis available updates arrive over
// pub/sub; otherwise the task row is polled.
func (s *Server) streamScanProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid task ID")
		return
	}

	task, err := s.hunter.Task(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snapshot := taskProgress(task)
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if task.Status.Terminal() {
		return
	}

	ctx := r.Context()

	if s.queue != nil {
		updates, stop := s.queue.SubscribeScanProgress(ctx, id)
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-updates:
				if !ok {
					return
				}
				if err := conn.WriteJSON(p); err != nil {
					return
				}
				if p.Status.Terminal() {
					return
				}
			}
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := s.hunter.Task(ctx, id)
			if err != nil {
				return
			}
			if err := conn.WriteJSON(taskProgress(task)); err != nil {
				return
			}
			if task.Status.Terminal() {
				return
			}
		}
	}
}

func taskProgress(task *models.ScanTask) hunter.Progress {
	return hunter.Progress{
		TaskID:     task.ID,
		Status:     task.Status,
		Percent:    task.Progress,
		Scanned:    task.TotalScanned,
		Violations: task.ViolationsFound,
	}
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	filters := store.ListViolationFilters{
		Limit: 100,
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			filters.Limit = limit
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if offset, err := strconv.Atoi(o); err == nil {
			filters.Offset = offset
		}
	}
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		if id, err := uuid.Parse(taskID); err == nil {
			filters.TaskID = &id
		}
	}
	if platform := r.URL.Query().Get("platform"); platform != "" {
		p := models.Platform(platform)
		filters.Platform = &p
	}
	if sellerID := r.URL.Query().Get("seller_id"); sellerID != "" {
		filters.SellerID = &sellerID
	}
	if level := r.URL.Query().Get("level"); level != "" {
		lv := models.SimilarityLevel(level)
		filters.Level = &lv
	}
	if r.URL.Query().Get("unassigned") == "true" {
		filters.Unassigned = true
	}
	if wl := r.URL.Query().Get("whitelisted"); wl != "" {
		b := wl == "true"
		filters.Whitelisted = &b
	}

	violations, total, err := s.store.ListViolations(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, violations, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

func (s *Server) getViolation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	violation, err := s.store.GetViolation(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if violation == nil {
		respondError(w, http.StatusNotFound, "not_found", "Violation not found")
		return
	}

	respondJSON(w, http.StatusOK, violation)
}

type whitelistViolationRequest struct {
	Whitelisted bool `json:"whitelisted"`
}

func (s *Server) setViolationWhitelisted(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	var req whitelistViolationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.store.SetViolationWhitelisted(r.Context(), id, req.Whitelisted); err != nil {
		respondServiceError(w, err)
		return
	}

	violation, err := s.store.GetViolation(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, violation)
}
