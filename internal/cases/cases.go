// Package cases tracks legal cases from detection through resolution. A case
// groups the violations of one seller on one platform and carries an
// append-only event timeline, warning letters, and official platform reports.
package cases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
	"github.com/imageguard/guardian/internal/store"
	"github.com/imageguard/guardian/internal/templates"
)

// Store is the persistence surface the case service needs.
type Store interface {
	NextCaseNumber(ctx context.Context, now time.Time) (string, error)
	CreateCase(ctx context.Context, c *models.LegalCase) error
	GetCase(ctx context.Context, id uuid.UUID) (*models.LegalCase, error)
	ListCases(ctx context.Context, filters store.ListCaseFilters) ([]models.LegalCase, int, error)
	UpdateCaseStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error
	UpdateCaseDetails(ctx context.Context, id uuid.UUID, priority models.CasePriority, notes, assignedTo string) error
	AppendCaseEvent(ctx context.Context, event *models.CaseEvent) error
	ListCaseEvents(ctx context.Context, caseID uuid.UUID) ([]models.CaseEvent, error)

	GetViolationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Violation, error)
	AssignViolationsToCase(ctx context.Context, ids []uuid.UUID, caseID uuid.UUID) error
	ListViolations(ctx context.Context, filters store.ListViolationFilters) ([]models.Violation, int, error)

	CreateWarningLetter(ctx context.Context, letter *models.WarningLetter) error
	GetWarningLetter(ctx context.Context, id uuid.UUID) (*models.WarningLetter, error)
	ListWarningLetters(ctx context.Context, caseID uuid.UUID) ([]models.WarningLetter, error)
	MarkLetterSent(ctx context.Context, id uuid.UUID, via string) error
	RecordLetterResponse(ctx context.Context, id uuid.UUID, response string) error

	CreateOfficialReport(ctx context.Context, report *models.OfficialReport) error
	GetOfficialReport(ctx context.Context, id uuid.UUID) (*models.OfficialReport, error)
	ListOfficialReports(ctx context.Context, caseID uuid.UUID) ([]models.OfficialReport, error)
	MarkReportSubmitted(ctx context.Context, id uuid.UUID, confirmation string) error
	UpdateReportOutcome(ctx context.Context, id uuid.UUID, status models.ReportStatus, platformResponse string) error
}

// Notifier receives case lifecycle notifications. Implementations must not
// block; failures are logged and never fail the operation.
type Notifier interface {
	CaseCreated(ctx context.Context, c *models.LegalCase, violations int)
	CaseStatusChanged(ctx context.Context, c *models.LegalCase, from, to models.CaseStatus)
}

// transitions is the forward path of a case: each status has exactly one
// successor, no steps may be skipped. Dismissal is handled separately: any
// non-terminal status can be dismissed.
var transitions = map[models.CaseStatus]models.CaseStatus{
	models.CaseStatusDetected:    models.CaseStatusReviewing,
	models.CaseStatusReviewing:   models.CaseStatusWarningSent,
	models.CaseStatusWarningSent: models.CaseStatusReported,
	models.CaseStatusReported:    models.CaseStatusResolved,
}

// CanTransition reports whether a case may move from one status to another.
func CanTransition(from, to models.CaseStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == models.CaseStatusDismissed {
		return true
	}
	return transitions[from] == to
}

type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(st Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: st, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCaseRequest opens a case over a set of existing violations.
type CreateCaseRequest struct {
	UserID       uuid.UUID           `json:"user_id"`
	ViolationIDs []uuid.UUID         `json:"violation_ids"`
	Priority     models.CasePriority `json:"priority"`
	Notes        string              `json:"notes"`
	CreatedBy    string              `json:"created_by"`
}

// Create opens a new case. All violations must exist, be unassigned, and
// belong to the same seller on the same platform.
func (s *Service) Create(ctx context.Context, req CreateCaseRequest) (*models.LegalCase, error) {
	verr := &models.ValidationError{}
	if req.UserID == uuid.Nil {
		verr.Add("user_id is required")
	}
	if len(req.ViolationIDs) == 0 {
		verr.Add("at least one violation is required")
	}
	switch req.Priority {
	case "", models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
	default:
		verr.Add("unknown priority %q", req.Priority)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	violations, err := s.store.GetViolationsByIDs(ctx, req.ViolationIDs)
	if err != nil {
		return nil, fmt.Errorf("loading violations: %w", err)
	}
	if len(violations) != len(req.ViolationIDs) {
		return nil, fmt.Errorf("%w: %d of %d violations found", models.ErrNotFound, len(violations), len(req.ViolationIDs))
	}

	key := models.InfringerKey{Platform: violations[0].Platform, SellerID: violations[0].SellerID}
	for i := range violations {
		v := &violations[i]
		if v.Platform != key.Platform || v.SellerID != key.SellerID {
			return nil, models.ErrMixedInfringer
		}
		if v.CaseID != nil {
			return nil, fmt.Errorf("violation %s already belongs to case %s", v.ID, *v.CaseID)
		}
	}

	number, err := s.store.NextCaseNumber(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("allocating case number: %w", err)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	legalCase := &models.LegalCase{
		UserID:     req.UserID,
		CaseNumber: number,
		Status:     models.CaseStatusDetected,
		Priority:   priority,
		Platform:   key.Platform,
		SellerID:   key.SellerID,
		SellerName: violations[0].SellerName,
		Notes:      req.Notes,
	}
	if err := s.store.CreateCase(ctx, legalCase); err != nil {
		return nil, fmt.Errorf("creating case: %w", err)
	}

	if err := s.store.AssignViolationsToCase(ctx, req.ViolationIDs, legalCase.ID); err != nil {
		return nil, fmt.Errorf("assigning violations: %w", err)
	}

	s.appendEvent(ctx, legalCase.ID, models.EventCaseCreated,
		fmt.Sprintf("case opened with %d violation(s) against %s on %s",
			len(violations), legalCase.SellerName, legalCase.Platform),
		models.JSONB{"violation_count": len(violations)}, req.CreatedBy)

	s.logger.Info("case created", "case_id", legalCase.ID, "case_number", number,
		"platform", key.Platform, "seller_id", key.SellerID, "violations", len(violations))

	if s.notifier != nil {
		s.notifier.CaseCreated(ctx, legalCase, len(violations))
	}
	return legalCase, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.LegalCase, error) {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, models.ErrNotFound
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, filters store.ListCaseFilters) ([]models.LegalCase, int, error) {
	return s.store.ListCases(ctx, filters)
}

// Timeline returns the case events in chronological order.
func (s *Service) Timeline(ctx context.Context, caseID uuid.UUID) ([]models.CaseEvent, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListCaseEvents(ctx, caseID)
}

// Violations lists the violations assigned to the case.
func (s *Service) Violations(ctx context.Context, caseID uuid.UUID) ([]models.Violation, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	vs, _, err := s.store.ListViolations(ctx, store.ListViolationFilters{CaseID: &caseID})
	return vs, err
}

// Transition moves a case along the state machine and records the change on
// the timeline.
func (s *Service) Transition(ctx context.Context, caseID uuid.UUID, to models.CaseStatus, reason, actor string) (*models.LegalCase, error) {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, to) {
		return nil, &models.IllegalTransitionError{From: c.Status, To: to}
	}

	if err := s.store.UpdateCaseStatus(ctx, caseID, to); err != nil {
		return nil, fmt.Errorf("updating case status: %w", err)
	}

	eventType := models.EventStatusChanged
	if to.Terminal() {
		eventType = models.EventResolved
	}
	desc := fmt.Sprintf("status changed from %s to %s", c.Status, to)
	if reason != "" {
		desc += ": " + reason
	}
	s.appendEvent(ctx, caseID, eventType, desc,
		models.JSONB{"from": string(c.Status), "to": string(to)}, actor)

	s.logger.Info("case transitioned", "case_id", caseID,
		"case_number", c.CaseNumber, "from", c.Status, "to", to)

	if s.notifier != nil {
		s.notifier.CaseStatusChanged(ctx, c, c.Status, to)
	}
	return s.Get(ctx, caseID)
}

// UpdateDetails changes priority, notes, and assignee on an open case.
func (s *Service) UpdateDetails(ctx context.Context, caseID uuid.UUID, priority models.CasePriority, notes, assignedTo string) (*models.LegalCase, error) {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("case %s is closed", c.CaseNumber)
	}
	if err := s.store.UpdateCaseDetails(ctx, caseID, priority, notes, assignedTo); err != nil {
		return nil, err
	}
	return s.Get(ctx, caseID)
}

// AddNote appends a free-form note to the case timeline.
func (s *Service) AddNote(ctx context.Context, caseID uuid.UUID, note, actor string) error {
	if strings.TrimSpace(note) == "" {
		verr := &models.ValidationError{}
		verr.Add("note must not be empty")
		return verr.Err()
	}
	if _, err := s.Get(ctx, caseID); err != nil {
		return err
	}
	s.appendEvent(ctx, caseID, models.EventNoteAdded, note, nil, actor)
	return nil
}

// AddEvidence attaches evidence metadata to the case timeline.
func (s *Service) AddEvidence(ctx context.Context, caseID uuid.UUID, description string, metadata models.JSONB, actor string) error {
	if _, err := s.Get(ctx, caseID); err != nil {
		return err
	}
	s.appendEvent(ctx, caseID, models.EventEvidenceAdded, description, metadata, actor)
	return nil
}

func (s *Service) appendEvent(ctx context.Context, caseID uuid.UUID, eventType models.CaseEventType, description string, metadata models.JSONB, actor string) {
	event := &models.CaseEvent{
		CaseID:      caseID,
		EventType:   eventType,
		Description: description,
		Metadata:    metadata,
		CreatedBy:   actor,
	}
	if err := s.store.AppendCaseEvent(ctx, event); err != nil {
		s.logger.Error("failed to append case event", "case_id", caseID,
			"event_type", eventType, "error", err)
	}
}

// letterVariables builds the substitution set shared by letters and reports
// from the case and its most similar violation.
func letterVariables(c *models.LegalCase, violations []models.Violation, extra map[string]string) map[string]string {
	vars := map[string]string{
		"case_number": c.CaseNumber,
		"seller_name": c.SellerName,
		"seller_id":   c.SellerID,
		"platform":    string(c.Platform),
	}
	if len(violations) > 0 {
		top := violations[0]
		for _, v := range violations[1:] {
			if v.Overall > top.Overall {
				top = v
			}
		}
		vars["listing_title"] = top.Title
		vars["listing_url"] = top.URL
		vars["listing_price"] = fmt.Sprintf("%.0f %s", top.Price, top.Currency)
		vars["similarity_score"] = fmt.Sprintf("%.1f", top.Overall)
		vars["detected_date"] = top.DetectedAt.Format("2006-01-02")
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// LetterRequest drafts a warning letter for a case.
type LetterRequest struct {
	Level     models.WarningLevel `json:"level"`
	Variables map[string]string   `json:"variables"`
}

// DraftLetter renders a warning letter from the built-in template for the
// requested escalation level and stores it as a draft.
func (s *Service) DraftLetter(ctx context.Context, caseID uuid.UUID, req LetterRequest) (*models.WarningLetter, error) {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("case %s is closed", c.CaseNumber)
	}

	tmpl, err := templates.LetterForLevel(req.Level)
	if err != nil {
		return nil, err
	}

	violations, _, err := s.store.ListViolations(ctx, store.ListViolationFilters{CaseID: &caseID})
	if err != nil {
		return nil, fmt.Errorf("loading case violations: %w", err)
	}

	vars := letterVariables(c, violations, req.Variables)
	letter := &models.WarningLetter{
		CaseID:     caseID,
		Level:      req.Level,
		TemplateID: tmpl.ID,
		Subject:    templates.Render(tmpl.Subject, vars),
		Content:    templates.Render(tmpl.Body, vars),
		Variables:  toJSONB(vars),
		Status:     models.LetterStatusDraft,
	}
	if err := s.store.CreateWarningLetter(ctx, letter); err != nil {
		return nil, fmt.Errorf("storing letter: %w", err)
	}
	return letter, nil
}

// SendLetter marks a drafted letter as sent and records the event on the
// timeline. The case status is left untouched; the operator transitions the
// case separately.
func (s *Service) SendLetter(ctx context.Context, caseID, letterID uuid.UUID, via, actor string) (*models.WarningLetter, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	letter, err := s.store.GetWarningLetter(ctx, letterID)
	if err != nil {
		return nil, err
	}
	if letter == nil || letter.CaseID != caseID {
		return nil, models.ErrNotFound
	}
	if letter.Status != models.LetterStatusDraft {
		return nil, fmt.Errorf("letter %s is not a draft", letterID)
	}

	if err := s.store.MarkLetterSent(ctx, letterID, via); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, caseID, models.EventLetterSent,
		fmt.Sprintf("%s warning letter sent via %s", letter.Level, via),
		models.JSONB{"letter_id": letterID.String(), "level": string(letter.Level)}, actor)

	return s.store.GetWarningLetter(ctx, letterID)
}

// RecordResponse stores the seller's reply to a sent letter.
func (s *Service) RecordResponse(ctx context.Context, caseID, letterID uuid.UUID, response, actor string) error {
	if _, err := s.Get(ctx, caseID); err != nil {
		return err
	}
	letter, err := s.store.GetWarningLetter(ctx, letterID)
	if err != nil {
		return err
	}
	if letter == nil || letter.CaseID != caseID {
		return models.ErrNotFound
	}
	if letter.Status != models.LetterStatusSent {
		return fmt.Errorf("letter %s has not been sent", letterID)
	}
	if err := s.store.RecordLetterResponse(ctx, letterID, response); err != nil {
		return err
	}
	s.appendEvent(ctx, caseID, models.EventResponseReceived,
		"seller responded to warning letter",
		models.JSONB{"letter_id": letterID.String()}, actor)
	return nil
}

func (s *Service) Letters(ctx context.Context, caseID uuid.UUID) ([]models.WarningLetter, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListWarningLetters(ctx, caseID)
}

// ReportRequest drafts an official report to the platform.
type ReportRequest struct {
	Type      models.ReportType `json:"report_type"`
	Variables map[string]string `json:"variables"`
}

// DraftReport renders an official infringement report from the built-in
// template for the requested type and stores it as a draft.
func (s *Service) DraftReport(ctx context.Context, caseID uuid.UUID, req ReportRequest) (*models.OfficialReport, error) {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("case %s is closed", c.CaseNumber)
	}

	tmpl, err := templates.ReportForType(req.Type)
	if err != nil {
		return nil, err
	}

	violations, _, err := s.store.ListViolations(ctx, store.ListViolationFilters{CaseID: &caseID})
	if err != nil {
		return nil, fmt.Errorf("loading case violations: %w", err)
	}

	vars := letterVariables(c, violations, req.Variables)
	report := &models.OfficialReport{
		CaseID:     caseID,
		Platform:   c.Platform,
		ReportType: req.Type,
		Content:    templates.Render(tmpl.Body, vars),
		Status:     models.ReportStatusDraft,
	}
	if err := s.store.CreateOfficialReport(ctx, report); err != nil {
		return nil, fmt.Errorf("storing report: %w", err)
	}
	return report, nil
}

// SubmitReport marks a drafted report as submitted to the platform and
// records the event on the timeline. The case status is left untouched.
func (s *Service) SubmitReport(ctx context.Context, caseID, reportID uuid.UUID, confirmation, actor string) (*models.OfficialReport, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	report, err := s.store.GetOfficialReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report == nil || report.CaseID != caseID {
		return nil, models.ErrNotFound
	}
	if report.Status != models.ReportStatusDraft {
		return nil, fmt.Errorf("report %s is not a draft", reportID)
	}

	if err := s.store.MarkReportSubmitted(ctx, reportID, confirmation); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, caseID, models.EventReportFiled,
		fmt.Sprintf("%s report filed with %s", report.ReportType, report.Platform),
		models.JSONB{"report_id": reportID.String(), "report_type": string(report.ReportType)}, actor)

	return s.store.GetOfficialReport(ctx, reportID)
}

// RecordReportOutcome stores the platform's decision on a submitted report.
func (s *Service) RecordReportOutcome(ctx context.Context, caseID, reportID uuid.UUID, status models.ReportStatus, platformResponse, actor string) error {
	if _, err := s.Get(ctx, caseID); err != nil {
		return err
	}
	report, err := s.store.GetOfficialReport(ctx, reportID)
	if err != nil {
		return err
	}
	if report == nil || report.CaseID != caseID {
		return models.ErrNotFound
	}
	switch status {
	case models.ReportStatusProcessing, models.ReportStatusResolved, models.ReportStatusRejected:
	default:
		verr := &models.ValidationError{}
		verr.Add("invalid report outcome %q", status)
		return verr.Err()
	}
	if err := s.store.UpdateReportOutcome(ctx, reportID, status, platformResponse); err != nil {
		return err
	}
	s.appendEvent(ctx, caseID, models.EventResponseReceived,
		fmt.Sprintf("platform marked report %s", status),
		models.JSONB{"report_id": reportID.String(), "status": string(status)}, actor)
	return nil
}

func (s *Service) Reports(ctx context.Context, caseID uuid.UUID) ([]models.OfficialReport, error) {
	if _, err := s.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.store.ListOfficialReports(ctx, caseID)
}

func toJSONB(vars map[string]string) models.JSONB {
	out := make(models.JSONB, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
