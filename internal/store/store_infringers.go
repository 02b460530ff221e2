package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/imageguard/guardian/internal/models"
)

// UpsertInfringerProfile replaces the derived aggregate for one seller.
// Profiles are keyed by (platform, seller_id); recomputation overwrites.
func (s *Store) UpsertInfringerProfile(ctx context.Context, p *models.InfringerProfile) error {
	query := `
		INSERT INTO infringer_profiles (
			platform, seller_id, seller_name, profile_url,
			violation_count, estimated_revenue, average_price, total_sales,
			risk_score, risk_level, first_detected_at, last_detected_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (platform, seller_id) DO UPDATE SET
			seller_name = EXCLUDED.seller_name,
			profile_url = EXCLUDED.profile_url,
			violation_count = EXCLUDED.violation_count,
			estimated_revenue = EXCLUDED.estimated_revenue,
			average_price = EXCLUDED.average_price,
			total_sales = EXCLUDED.total_sales,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			first_detected_at = EXCLUDED.first_detected_at,
			last_detected_at = EXCLUDED.last_detected_at,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	p.UpdatedAt = &now

	_, err := s.db.ExecContext(ctx, query,
		p.Platform, p.SellerID, p.SellerName, p.ProfileURL,
		p.ViolationCount, p.EstimatedRevenue, p.AveragePrice, p.TotalSales,
		p.RiskScore, p.RiskLevel, p.FirstDetectedAt, p.LastDetectedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) GetInfringerProfile(ctx context.Context, platform models.Platform, sellerID string) (*models.InfringerProfile, error) {
	var p models.InfringerProfile
	query := `SELECT * FROM infringer_profiles WHERE platform = $1 AND seller_id = $2`
	err := s.db.GetContext(ctx, &p, query, platform, sellerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &p, err
}

type ListInfringerFilters struct {
	Platform  *models.Platform
	RiskLevel *models.RiskLevel
	Limit     int
	Offset    int
}

func (s *Store) ListInfringerProfiles(ctx context.Context, filters ListInfringerFilters) ([]models.InfringerProfile, int, error) {
	baseQuery := `FROM infringer_profiles WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.Platform != nil {
		baseQuery += fmt.Sprintf(" AND platform = $%d", argIdx)
		args = append(args, *filters.Platform)
		argIdx++
	}
	if filters.RiskLevel != nil {
		baseQuery += fmt.Sprintf(" AND risk_level = $%d", argIdx)
		args = append(args, *filters.RiskLevel)
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY risk_score DESC, last_detected_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var profiles []models.InfringerProfile
	if err := s.db.SelectContext(ctx, &profiles, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return profiles, total, nil
}
