package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/reports"
	"github.com/imageguard/guardian/internal/store"
)

func (s *Server) listInfringers(w http.ResponseWriter, r *http.Request) {
	filters := store.ListInfringerFilters{Limit: 50}
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
	if platform := r.URL.Query().Get("platform"); platform != "" {
		p := models.Platform(platform)
		filters.Platform = &p
	}
	if risk := r.URL.Query().Get("risk_level"); risk != "" {
		rl := models.RiskLevel(risk)
		filters.RiskLevel = &rl
	}

	profiles, total, err := s.store.ListInfringerProfiles(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, profiles, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

func sellerParams(r *http.Request) (models.Platform, string) {
	return models.Platform(chi.URLParam(r, "platform")), chi.URLParam(r, "sellerID")
}

func (s *Server) getInfringer(w http.ResponseWriter, r *http.Request) {
	platform, sellerID := sellerParams(r)

	profile, err := s.store.GetInfringerProfile(r.Context(), platform, sellerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if profile == nil {
		respondError(w, http.StatusNotFound, "not_found", "Infringer profile not found")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) listInfringerViolations(w http.ResponseWriter, r *http.Request) {
	platform, sellerID := sellerParams(r)

	violations, err := s.store.ListViolationsBySeller(r.Context(), platform, sellerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, violations)
}

func (s *Server) getRelatedSellers(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", "Seller graph is not configured")
		return
	}
	platform, sellerID := sellerParams(r)

	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	related, err := s.graph.FindRelatedSellers(r.Context(), platform, sellerID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "graph_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, related)
}

func (s *Server) recomputeInfringer(w http.ResponseWriter, r *http.Request) {
	platform, sellerID := sellerParams(r)

	profile, err := s.infringer.Recompute(r.Context(), platform, sellerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) getDashboardSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	counts, err := s.store.GetDashboardCounts(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, counts)
}

func (s *Server) getQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
		})
		return
	}

	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	workers, err := s.queue.ActiveWorkers(r.Context(), 30*time.Second)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"jobs":    stats,
		"workers": workers,
	})
}

type exportRequest struct {
	Type      reports.ExportType       `json:"type"`
	Format    reports.ExportFormat     `json:"format"`
	Title     string                   `json:"title"`
	CaseID    *string                  `json:"case_id"`
	Platforms []models.Platform        `json:"platforms"`
	Levels    []models.SimilarityLevel `json:"levels"`
	DateFrom  *time.Time               `json:"date_from"`
	DateTo    *time.Time               `json:"date_to"`
}

func (req *exportRequest) toReportRequest() (*reports.ExportRequest, error) {
	out := &reports.ExportRequest{
		Type:      req.Type,
		Format:    req.Format,
		Title:     req.Title,
		Platforms: req.Platforms,
		Levels:    req.Levels,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
	}
	if req.CaseID != nil {
		id, err := uuid.Parse(*req.CaseID)
		if err != nil {
			return nil, err
		}
		out.CaseID = &id
	}
	return out, nil
}

func (s *Server) generateExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	reportReq, err := req.toReportRequest()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	export, err := s.reportGenerator.Generate(r.Context(), reportReq)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// streamCSVExport writes CSV rows directly to the response without
// buffering, for large violation exports.
func (s *Server) streamCSVExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := &reports.ExportRequest{
		Type:   reports.ExportType(q.Get("type")),
		Format: reports.FormatCSV,
	}
	if req.Type == "" {
		req.Type = reports.ExportViolations
	}
	for _, p := range q["platform"] {
		req.Platforms = append(req.Platforms, models.Platform(p))
	}
	for _, l := range q["level"] {
		req.Levels = append(req.Levels, models.SimilarityLevel(l))
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(req.Type)+".csv"))

	if err := s.reportGenerator.StreamCSV(r.Context(), w, req); err != nil {
		// Headers are already written, so just log.
		s.logger.Error("csv stream failed", "type", req.Type, "error", err)
	}
}
