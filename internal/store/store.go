package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/imageguard/guardian/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) CreateAsset(ctx context.Context, asset *models.Asset) error {
	query := `
		INSERT INTO assets (
			id, user_id, file_name, original_url, thumbnail_url, file_size, width, height,
			phash, orb_descriptors, color_histogram, feature_count,
			tags, product_sku, brand_name, description, status,
			total_scans, violations_found, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
	`
	asset.ID = uuid.New()
	now := time.Now()
	asset.CreatedAt = now
	asset.UpdatedAt = now
	if asset.Status == "" {
		asset.Status = models.AssetStatusUploaded
	}

	_, err := s.db.ExecContext(ctx, query,
		asset.ID, asset.UserID, asset.FileName, asset.OriginalURL, asset.ThumbnailURL,
		asset.FileSize, asset.Width, asset.Height,
		asset.PHash, asset.ORBDescriptors, asset.ColorHistogram, asset.FeatureCount,
		asset.Tags, asset.ProductSKU, asset.BrandName, asset.Description, asset.Status,
		asset.TotalScans, asset.ViolationsFound, asset.CreatedAt, asset.UpdatedAt,
	)
	return err
}

func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	query := `SELECT * FROM assets WHERE id = $1`
	err := s.db.GetContext(ctx, &asset, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &asset, err
}

type ListAssetFilters struct {
	UserID    *uuid.UUID
	Status    *models.AssetStatus
	BrandName *string
	Tag       *string
	Limit     int
	Offset    int
}

func (s *Store) ListAssets(ctx context.Context, filters ListAssetFilters) ([]models.Asset, int, error) {
	baseQuery := `FROM assets WHERE 1=1`
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
	if filters.BrandName != nil {
		baseQuery += fmt.Sprintf(" AND brand_name = $%d", argIdx)
		args = append(args, *filters.BrandName)
		argIdx++
	}
	if filters.Tag != nil {
		baseQuery += fmt.Sprintf(" AND $%d = ANY(tags)", argIdx)
		args = append(args, *filters.Tag)
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

	var assets []models.Asset
	if err := s.db.SelectContext(ctx, &assets, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return assets, total, nil
}

// ListIndexedAssets returns assets with a computed fingerprint, eligible as
// scan references.
func (s *Store) ListIndexedAssets(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.Asset, error) {
	query := `
		SELECT * FROM assets
		WHERE user_id = $1 AND phash <> '' AND status NOT IN ($2, $3)
	`
	args := []interface{}{userID, models.AssetStatusArchived, models.AssetStatusProcessing}

	if len(ids) > 0 {
		idStrs := make([]string, len(ids))
		for i, id := range ids {
			idStrs[i] = id.String()
		}
		query += " AND id = ANY($4)"
		args = append(args, models.StringArray(idStrs))
	}

	var assets []models.Asset
	err := s.db.SelectContext(ctx, &assets, query, args...)
	return assets, err
}

func (s *Store) UpdateAssetMetadata(ctx context.Context, id uuid.UUID, tags []string, sku, brand, description string) error {
	query := `
		UPDATE assets
		SET tags = $1, product_sku = $2, brand_name = $3, description = $4, updated_at = $5
		WHERE id = $6
	`
	_, err := s.db.ExecContext(ctx, query, models.StringArray(tags), sku, brand, description, time.Now(), id)
	return err
}

func (s *Store) UpdateAssetStatus(ctx context.Context, id uuid.UUID, status models.AssetStatus) error {
	query := `UPDATE assets SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

func (s *Store) UpdateAssetFingerprint(ctx context.Context, id uuid.UUID, fp models.Fingerprint, width, height int) error {
	query := `
		UPDATE assets
		SET phash = $1, orb_descriptors = $2, color_histogram = $3, feature_count = $4,
		    width = $5, height = $6, status = $7, updated_at = $8
		WHERE id = $9
	`
	_, err := s.db.ExecContext(ctx, query,
		fp.PHash, fp.ORBDescriptors, fp.ColorHistogram, fp.FeatureCount,
		width, height, models.AssetStatusIndexed, time.Now(), id,
	)
	return err
}

// BumpAssetScanStats increments the scan counters after a completed scan.
func (s *Store) BumpAssetScanStats(ctx context.Context, id uuid.UUID, newViolations int) error {
	query := `
		UPDATE assets
		SET total_scans = total_scans + 1,
		    violations_found = violations_found + $1,
		    last_scan_at = $2, updated_at = $2
		WHERE id = $3
	`
	_, err := s.db.ExecContext(ctx, query, newViolations, time.Now(), id)
	return err
}

func (s *Store) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM assets WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *Store) CreateWhitelistEntry(ctx context.Context, entry *models.WhitelistEntry) error {
	query := `
		INSERT INTO whitelist_entries (
			id, user_id, asset_id, platform, seller_id, seller_name, store_url, notes, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.AssetID, entry.Platform, entry.SellerID,
		entry.SellerName, entry.StoreURL, entry.Notes, entry.ExpiresAt, entry.CreatedAt,
	)
	return err
}

func (s *Store) ListWhitelistEntries(ctx context.Context, userID uuid.UUID) ([]models.WhitelistEntry, error) {
	var entries []models.WhitelistEntry
	query := `SELECT * FROM whitelist_entries WHERE user_id = $1 ORDER BY created_at DESC`
	err := s.db.SelectContext(ctx, &entries, query, userID)
	return entries, err
}

// ActiveWhitelist returns unexpired entries for one user, optionally scoped
// to the given platforms.
func (s *Store) ActiveWhitelist(ctx context.Context, userID uuid.UUID, platforms []models.Platform) ([]models.WhitelistEntry, error) {
	query := `
		SELECT * FROM whitelist_entries
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`
	args := []interface{}{userID, time.Now()}

	if len(platforms) > 0 {
		names := make([]string, len(platforms))
		for i, p := range platforms {
			names[i] = string(p)
		}
		query += " AND platform = ANY($3)"
		args = append(args, models.StringArray(names))
	}

	var entries []models.WhitelistEntry
	err := s.db.SelectContext(ctx, &entries, query, args...)
	return entries, err
}

func (s *Store) DeleteWhitelistEntry(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM whitelist_entries WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

type DashboardCounts struct {
	TotalAssets        int `db:"total_assets"`
	MonitoredAssets    int `db:"monitored_assets"`
	TotalScans         int `db:"total_scans"`
	RunningScans       int `db:"running_scans"`
	TotalViolations    int `db:"total_violations"`
	ExactViolations    int `db:"exact_violations"`
	OpenCases          int `db:"open_cases"`
	ResolvedCases      int `db:"resolved_cases"`
	CriticalInfringers int `db:"critical_infringers"`
}

func (s *Store) GetDashboardCounts(ctx context.Context, userID uuid.UUID) (*DashboardCounts, error) {
	counts := &DashboardCounts{}

	query := `
		SELECT
			(SELECT COUNT(*) FROM assets WHERE user_id = $1) AS total_assets,
			(SELECT COUNT(*) FROM assets WHERE user_id = $1 AND status = 'monitoring') AS monitored_assets,
			(SELECT COUNT(*) FROM scan_tasks WHERE user_id = $1) AS total_scans,
			(SELECT COUNT(*) FROM scan_tasks WHERE user_id = $1 AND status = 'running') AS running_scans,
			(SELECT COUNT(*) FROM violations v JOIN assets a ON v.asset_id = a.id WHERE a.user_id = $1 AND NOT v.whitelisted) AS total_violations,
			(SELECT COUNT(*) FROM violations v JOIN assets a ON v.asset_id = a.id WHERE a.user_id = $1 AND v.level = 'exact' AND NOT v.whitelisted) AS exact_violations,
			(SELECT COUNT(*) FROM legal_cases WHERE user_id = $1 AND status NOT IN ('resolved', 'dismissed')) AS open_cases,
			(SELECT COUNT(*) FROM legal_cases WHERE user_id = $1 AND status = 'resolved') AS resolved_cases,
			(SELECT COUNT(*) FROM infringer_profiles WHERE risk_level = 'critical') AS critical_infringers
	`

	err := s.db.GetContext(ctx, counts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("getting dashboard counts: %w", err)
	}

	return counts, nil
}
