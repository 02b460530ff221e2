package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/auth"
	"github.com/imageguard/guardian/internal/cases"
	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/reports"
	"github.com/imageguard/guardian/internal/store"
)

// actor returns the identity recorded on case timeline events.
func actor(r *http.Request) string {
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		return claims.Email
	}
	return "system"
}

func (s *Server) listCases(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	filters := store.ListCaseFilters{
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
		st := models.CaseStatus(status)
		filters.Status = &st
	}
	if priority := r.URL.Query().Get("priority"); priority != "" {
		p := models.CasePriority(priority)
		filters.Priority = &p
	}
	if platform := r.URL.Query().Get("platform"); platform != "" {
		p := models.Platform(platform)
		filters.Platform = &p
	}
	if sellerID := r.URL.Query().Get("seller_id"); sellerID != "" {
		filters.SellerID = &sellerID
	}

	caseList, total, err := s.cases.List(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, caseList, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

type createCaseRequest struct {
	ViolationIDs []uuid.UUID         `json:"violation_ids"`
	Priority     models.CasePriority `json:"priority"`
	Notes        string              `json:"notes"`
}

func (s *Server) createCase(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return
	}

	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	c, err := s.cases.Create(r.Context(), cases.CreateCaseRequest{
		UserID:       userID,
		ViolationIDs: req.ViolationIDs,
		Priority:     req.Priority,
		Notes:        req.Notes,
		CreatedBy:    actor(r),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, c)
}

func caseIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "caseID"))
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	c, err := s.cases.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

type updateCaseRequest struct {
	Priority   models.CasePriority `json:"priority"`
	Notes      string              `json:"notes"`
	AssignedTo string              `json:"assigned_to"`
}

func (s *Server) updateCase(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	var req updateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	c, err := s.cases.UpdateDetails(r.Context(), id, req.Priority, req.Notes, req.AssignedTo)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

type transitionRequest struct {
	Status models.CaseStatus `json:"status"`
	Reason string            `json:"reason"`
}

func (s *Server) transitionCase(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	c, err := s.cases.Transition(r.Context(), id, req.Status, req.Reason, actor(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

type addNoteRequest struct {
	Note string `json:"note"`
}

func (s *Server) addCaseNote(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	var req addNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.cases.AddNote(r.Context(), id, req.Note, actor(r)); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

type addEvidenceRequest struct {
	Description string       `json:"description"`
	Metadata    models.JSONB `json:"metadata"`
}

func (s *Server) addCaseEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	var req addEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Description == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "description is required")
		return
	}

	if err := s.cases.AddEvidence(r.Context(), id, req.Description, req.Metadata, actor(r)); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (s *Server) getCaseTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	events, err := s.cases.Timeline(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (s *Server) getCaseViolations(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	violations, err := s.cases.Violations(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, violations)
}

func (s *Server) downloadCaseEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	export, err := s.reportGenerator.Generate(r.Context(), &reports.ExportRequest{
		Type:   reports.ExportCaseEvidence,
		Format: reports.FormatPDF,
		CaseID: &id,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

func (s *Server) listLetters(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	letters, err := s.cases.Letters(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

type draftLetterRequest struct {
	Level     models.WarningLevel `json:"level"`
	Variables map[string]string   `json:"variables"`
}

func (s *Server) draftLetter(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	var req draftLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	letter, err := s.cases.DraftLetter(r.Context(), id, cases.LetterRequest{
		Level:     req.Level,
		Variables: req.Variables,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, letter)
}

type sendLetterRequest struct {
	Via string `json:"via"`
}

func (s *Server) sendLetter(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}
	letterID, err := uuid.Parse(chi.URLParam(r, "letterID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid letter ID")
		return
	}

	var req sendLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Via == "" {
		req.Via = "email"
	}

	letter, err := s.cases.SendLetter(r.Context(), caseID, letterID, req.Via, actor(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

type letterResponseRequest struct {
	Response string `json:"response"`
}

func (s *Server) recordLetterResponse(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}
	letterID, err := uuid.Parse(chi.URLParam(r, "letterID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid letter ID")
		return
	}

	var req letterResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.cases.RecordResponse(r.Context(), caseID, letterID, req.Response, actor(r)); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	reportList, err := s.cases.Reports(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, reportList)
}

type draftReportRequest struct {
	Type      models.ReportType `json:"type"`
	Variables map[string]string `json:"variables"`
}

func (s *Server) draftReport(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}

	var req draftReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	report, err := s.cases.DraftReport(r.Context(), id, cases.ReportRequest{
		Type:      req.Type,
		Variables: req.Variables,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, report)
}

type submitReportRequest struct {
	Confirmation string `json:"confirmation_number"`
}

func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}
	reportID, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid report ID")
		return
	}

	var req submitReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	report, err := s.cases.SubmitReport(r.Context(), caseID, reportID, req.Confirmation, actor(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

type reportOutcomeRequest struct {
	Status           models.ReportStatus `json:"status"`
	PlatformResponse string              `json:"platform_response"`
}

func (s *Server) recordReportOutcome(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid case ID")
		return
	}
	reportID, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid report ID")
		return
	}

	var req reportOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := s.cases.RecordReportOutcome(r.Context(), caseID, reportID, req.Status, req.PlatformResponse, actor(r)); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
