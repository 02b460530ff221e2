package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
)

func (s *Store) CreateScanTask(ctx context.Context, task *models.ScanTask) error {
	query := `
		INSERT INTO scan_tasks (
			id, user_id, mode, status, asset_ids, platforms, keywords,
			similarity_threshold, max_results, scan_depth, progress, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.Status = models.ScanStatusQueued
	task.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.UserID, task.Mode, task.Status,
		task.AssetIDs, task.Platforms, task.Keywords,
		task.Threshold, task.MaxResults, task.ScanDepth, task.Progress, task.CreatedAt,
	)
	return err
}

func (s *Store) GetScanTask(ctx context.Context, id uuid.UUID) (*models.ScanTask, error) {
	var task models.ScanTask
	query := `SELECT * FROM scan_tasks WHERE id = $1`
	err := s.db.GetContext(ctx, &task, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &task, err
}

type ListScanTaskFilters struct {
	UserID *uuid.UUID
	Status *models.ScanStatus
	Mode   *models.ScanMode
	Limit  int
	Offset int
}

func (s *Store) ListScanTasks(ctx context.Context, filters ListScanTaskFilters) ([]models.ScanTask, int, error) {
	baseQuery := `FROM scan_tasks WHERE 1=1`
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
	if filters.Mode != nil {
		baseQuery += fmt.Sprintf(" AND mode = $%d", argIdx)
		args = append(args, *filters.Mode)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var tasks []models.ScanTask
	if err := s.db.SelectContext(ctx, &tasks, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

// MarkScanTaskRunning transitions a queued task to running. Returns false
// when the task was not in queued state, making the start race-safe.
func (s *Store) MarkScanTaskRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE scan_tasks SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		models.ScanStatusRunning, time.Now(), id, models.ScanStatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateScanTaskProgress persists a progress snapshot. Progress only moves
// forward; stale writes from lagging workers are dropped.
func (s *Store) UpdateScanTaskProgress(ctx context.Context, id uuid.UUID, progress, scanned, violations int) error {
	query := `
		UPDATE scan_tasks
		SET progress = GREATEST(progress, $1), total_scanned = $2, violations_found = $3
		WHERE id = $4 AND status = $5
	`
	_, err := s.db.ExecContext(ctx, query, progress, scanned, violations, id, models.ScanStatusRunning)
	return err
}

// FinishScanTask moves a task to a terminal state with its final counters.
func (s *Store) FinishScanTask(ctx context.Context, id uuid.UUID, status models.ScanStatus, scanned, violations int, failures models.JSONB, errMsg string, elapsed time.Duration) error {
	progress := 100
	if status != models.ScanStatusCompleted {
		progress = -1 // keep current value via GREATEST
	}
	query := `
		UPDATE scan_tasks
		SET status = $1, progress = GREATEST(progress, $2), total_scanned = $3,
		    violations_found = $4, platform_failures = $5, error = $6,
		    execution_time_ms = $7, completed_at = $8
		WHERE id = $9 AND status NOT IN ($10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		status, progress, scanned, violations, failures, errMsg,
		elapsed.Milliseconds(), time.Now(), id,
		models.ScanStatusCompleted, models.ScanStatusFailed, models.ScanStatusCancelled,
	)
	return err
}

// CreateViolation inserts a violation unless the listing is already recorded
// for the asset. Persisted rows are immutable: a re-detection is a no-op and
// the return value reports whether a new row was written.
func (s *Store) CreateViolation(ctx context.Context, v *models.Violation) (bool, error) {
	query := `
		INSERT INTO violations (
			id, asset_id, task_id, platform, listing_id, title, url, thumbnail_url,
			price, currency, seller_id, seller_name, seller_url, sales_count,
			overall, phash_score, orb_score, color_score, level,
			whitelisted, evidence, detected_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23
		)
		ON CONFLICT (asset_id, platform, listing_id) DO NOTHING
	`

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now()
	if v.DetectedAt.IsZero() {
		v.DetectedAt = now
	}
	v.CreatedAt = now

	result, err := s.db.ExecContext(ctx, query,
		v.ID, v.AssetID, v.TaskID, v.Platform, v.ListingID, v.Title, v.URL, v.ThumbnailURL,
		v.Price, v.Currency, v.SellerID, v.SellerName, v.SellerURL, v.SalesCount,
		v.Overall, v.PHashScore, v.ORBScore, v.ColorScore, v.Level,
		v.Whitelisted, v.Evidence, v.DetectedAt, v.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) GetViolation(ctx context.Context, id uuid.UUID) (*models.Violation, error) {
	var v models.Violation
	query := `SELECT * FROM violations WHERE id = $1`
	err := s.db.GetContext(ctx, &v, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &v, err
}

type ListViolationFilters struct {
	AssetID     *uuid.UUID
	TaskID      *uuid.UUID
	Platform    *models.Platform
	SellerID    *string
	Level       *models.SimilarityLevel
	CaseID      *uuid.UUID
	Whitelisted *bool
	Unassigned  bool
	Limit       int
	Offset      int
}

func (s *Store) ListViolations(ctx context.Context, filters ListViolationFilters) ([]models.Violation, int, error) {
	baseQuery := `FROM violations WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.AssetID != nil {
		baseQuery += fmt.Sprintf(" AND asset_id = $%d", argIdx)
		args = append(args, *filters.AssetID)
		argIdx++
	}
	if filters.TaskID != nil {
		baseQuery += fmt.Sprintf(" AND task_id = $%d", argIdx)
		args = append(args, *filters.TaskID)
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
		argIdx++
	}
	if filters.Level != nil {
		baseQuery += fmt.Sprintf(" AND level = $%d", argIdx)
		args = append(args, *filters.Level)
		argIdx++
	}
	if filters.CaseID != nil {
		baseQuery += fmt.Sprintf(" AND case_id = $%d", argIdx)
		args = append(args, *filters.CaseID)
		argIdx++
	}
	if filters.Whitelisted != nil {
		baseQuery += fmt.Sprintf(" AND whitelisted = $%d", argIdx)
		args = append(args, *filters.Whitelisted)
		_ = argIdx
	}
	if filters.Unassigned {
		baseQuery += " AND case_id IS NULL"
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY overall DESC, detected_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var violations []models.Violation
	if err := s.db.SelectContext(ctx, &violations, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return violations, total, nil
}

// GetViolationsByIDs loads the given violations preserving no particular order.
func (s *Store) GetViolationsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Violation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	var violations []models.Violation
	query := `SELECT * FROM violations WHERE id = ANY($1)`
	err := s.db.SelectContext(ctx, &violations, query, models.StringArray(idStrs))
	return violations, err
}

// AssignViolationsToCase links violations to a case in one statement.
func (s *Store) AssignViolationsToCase(ctx context.Context, ids []uuid.UUID, caseID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}
	query := `UPDATE violations SET case_id = $1 WHERE id = ANY($2)`
	_, err := s.db.ExecContext(ctx, query, caseID, models.StringArray(idStrs))
	return err
}

// SetViolationWhitelisted flips the whitelist flag on one violation, used
// when an analyst marks a detection as an authorized reseller after the fact.
func (s *Store) SetViolationWhitelisted(ctx context.Context, id uuid.UUID, whitelisted bool) error {
	query := `UPDATE violations SET whitelisted = $1 WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, whitelisted, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListViolationsBySeller returns all non-whitelisted violations for one
// seller on one platform, the input to infringer profile recomputation.
// CountViolationsByAsset reports how many violations reference an asset,
// whitelisted rows included.
func (s *Store) CountViolationsByAsset(ctx context.Context, assetID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM violations WHERE asset_id = $1`
	err := s.db.GetContext(ctx, &count, query, assetID)
	return count, err
}

func (s *Store) ListViolationsBySeller(ctx context.Context, platform models.Platform, sellerID string) ([]models.Violation, error) {
	var violations []models.Violation
	query := `
		SELECT * FROM violations
		WHERE platform = $1 AND seller_id = $2 AND NOT whitelisted
		ORDER BY detected_at ASC
	`
	err := s.db.SelectContext(ctx, &violations, query, platform, sellerID)
	return violations, err
}
