package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
)

// NextCaseNumber allocates a sequential case number of the form
// IG-YYYYMM-NNNN. A per-month counter row is incremented atomically, so
// concurrent allocations never mint the same number.
func (s *Store) NextCaseNumber(ctx context.Context, now time.Time) (string, error) {
	month := now.Format("200601")

	var seq int
	query := `
		INSERT INTO case_counters (month, seq) VALUES ($1, 1)
		ON CONFLICT (month) DO UPDATE SET seq = case_counters.seq + 1
		RETURNING seq
	`
	if err := s.db.GetContext(ctx, &seq, query, month); err != nil {
		return "", err
	}
	return fmt.Sprintf("IG-%s-%04d", month, seq), nil
}

func (s *Store) CreateCase(ctx context.Context, c *models.LegalCase) error {
	query := `
		INSERT INTO legal_cases (
			id, user_id, case_number, status, priority, platform,
			seller_id, seller_name, notes, assigned_to, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.CaseStatusDetected
	}
	if c.Priority == "" {
		c.Priority = models.PriorityMedium
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.CaseNumber, c.Status, c.Priority, c.Platform,
		c.SellerID, c.SellerName, c.Notes, c.AssignedTo, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *Store) GetCase(ctx context.Context, id uuid.UUID) (*models.LegalCase, error) {
	var c models.LegalCase
	query := `SELECT * FROM legal_cases WHERE id = $1`
	err := s.db.GetContext(ctx, &c, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

type ListCaseFilters struct {
	UserID   *uuid.UUID
	Status   *models.CaseStatus
	Priority *models.CasePriority
	Platform *models.Platform
	SellerID *string
	Limit    int
	Offset   int
}

func (s *Store) ListCases(ctx context.Context, filters ListCaseFilters) ([]models.LegalCase, int, error) {
	baseQuery := `FROM legal_cases WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.UserID != nil {
		baseQuery += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *filters.UserID)
		argIdx++
	}
	if filters.Status != nil {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filters.Status)
		argIdx++
	}
	if filters.Priority != nil {
		baseQuery += fmt.Sprintf(" AND priority = $%d", argIdx)
		args = append(args, *filters.Priority)
		argIdx++
	}
	if filters.Platform != nil {
		baseQuery += fmt.Sprintf(" AND platform = $%d", argIdx)
		args = append(args, *filters.Platform)
		argIdx++
	}
	if filters.SellerID != nil {
		baseQuery += fmt.Sprintf(" AND seller_id = $%d", argIdx)
		args = append(args, *filters.SellerID)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY updated_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var cases []models.LegalCase
	if err := s.db.SelectContext(ctx, &cases, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return cases, total, nil
}

func (s *Store) UpdateCaseStatus(ctx context.Context, id uuid.UUID, status models.CaseStatus) error {
	query := `UPDATE legal_cases SET status = $1, updated_at = $2`
	args := []interface{}{status, time.Now()}

	if status.Terminal() {
		query += ", resolved_at = $3 WHERE id = $4"
		args = append(args, time.Now(), id)
	} else {
		query += " WHERE id = $3"
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) UpdateCaseDetails(ctx context.Context, id uuid.UUID, priority models.CasePriority, notes, assignedTo string) error {
	query := `
		UPDATE legal_cases
		SET priority = $1, notes = $2, assigned_to = $3, updated_at = $4
		WHERE id = $5
	`
	_, err := s.db.ExecContext(ctx, query, priority, notes, assignedTo, time.Now(), id)
	return err
}

func (s *Store) AppendCaseEvent(ctx context.Context, event *models.CaseEvent) error {
	query := `
		INSERT INTO case_events (id, case_id, event_type, description, metadata, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	event.ID = uuid.New()
	event.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.CaseID, event.EventType, event.Description,
		event.Metadata, event.CreatedBy, event.CreatedAt,
	)
	return err
}

func (s *Store) ListCaseEvents(ctx context.Context, caseID uuid.UUID) ([]models.CaseEvent, error) {
	var events []models.CaseEvent
	query := `SELECT * FROM case_events WHERE case_id = $1 ORDER BY created_at ASC, id ASC`
	err := s.db.SelectContext(ctx, &events, query, caseID)
	return events, err
}

func (s *Store) CreateWarningLetter(ctx context.Context, letter *models.WarningLetter) error {
	query := `
		INSERT INTO warning_letters (
			id, case_id, level, template_id, subject, content, variables, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	letter.ID = uuid.New()
	letter.CreatedAt = time.Now()
	if letter.Status == "" {
		letter.Status = models.LetterStatusDraft
	}

	_, err := s.db.ExecContext(ctx, query,
		letter.ID, letter.CaseID, letter.Level, letter.TemplateID,
		letter.Subject, letter.Content, letter.Variables, letter.Status, letter.CreatedAt,
	)
	return err
}

func (s *Store) GetWarningLetter(ctx context.Context, id uuid.UUID) (*models.WarningLetter, error) {
	var letter models.WarningLetter
	query := `SELECT * FROM warning_letters WHERE id = $1`
	err := s.db.GetContext(ctx, &letter, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &letter, err
}

func (s *Store) ListWarningLetters(ctx context.Context, caseID uuid.UUID) ([]models.WarningLetter, error) {
	var letters []models.WarningLetter
	query := `SELECT * FROM warning_letters WHERE case_id = $1 ORDER BY created_at ASC`
	err := s.db.SelectContext(ctx, &letters, query, caseID)
	return letters, err
}

func (s *Store) MarkLetterSent(ctx context.Context, id uuid.UUID, via string) error {
	query := `
		UPDATE warning_letters SET status = $1, sent_via = $2, sent_at = $3
		WHERE id = $4 AND status = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		models.LetterStatusSent, via, time.Now(), id, models.LetterStatusDraft)
	return err
}

func (s *Store) RecordLetterResponse(ctx context.Context, id uuid.UUID, response string) error {
	query := `
		UPDATE warning_letters SET status = $1, response = $2, response_at = $3
		WHERE id = $4 AND status = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		models.LetterStatusResponded, response, time.Now(), id, models.LetterStatusSent)
	return err
}

func (s *Store) CreateOfficialReport(ctx context.Context, report *models.OfficialReport) error {
	query := `
		INSERT INTO official_reports (id, case_id, platform, report_type, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	report.ID = uuid.New()
	report.CreatedAt = time.Now()
	if report.Status == "" {
		report.Status = models.ReportStatusDraft
	}

	_, err := s.db.ExecContext(ctx, query,
		report.ID, report.CaseID, report.Platform, report.ReportType,
		report.Content, report.Status, report.CreatedAt,
	)
	return err
}

func (s *Store) GetOfficialReport(ctx context.Context, id uuid.UUID) (*models.OfficialReport, error) {
	var report models.OfficialReport
	query := `SELECT * FROM official_reports WHERE id = $1`
	err := s.db.GetContext(ctx, &report, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &report, err
}

func (s *Store) ListOfficialReports(ctx context.Context, caseID uuid.UUID) ([]models.OfficialReport, error) {
	var reports []models.OfficialReport
	query := `SELECT * FROM official_reports WHERE case_id = $1 ORDER BY created_at ASC`
	err := s.db.SelectContext(ctx, &reports, query, caseID)
	return reports, err
}

func (s *Store) MarkReportSubmitted(ctx context.Context, id uuid.UUID, confirmation string) error {
	query := `
		UPDATE official_reports SET status = $1, confirmation_number = $2, submitted_at = $3
		WHERE id = $4 AND status = $5
	`
	_, err := s.db.ExecContext(ctx, query,
		models.ReportStatusSubmitted, confirmation, time.Now(), id, models.ReportStatusDraft)
	return err
}

func (s *Store) UpdateReportOutcome(ctx context.Context, id uuid.UUID, status models.ReportStatus, platformResponse string) error {
	query := `UPDATE official_reports SET status = $1, platform_response = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, platformResponse, id)
	return err
}
