// Package infringer derives seller-level intelligence from the violation
// record: risk-scored profiles and a relationship graph linking sellers to
// the assets they infringe.
package infringer

import (
	"context"
	"fmt"

	"github.com/imageguard/guardian/internal/models"
)

// Risk score coefficients. Score = violations*15 + revenue/5000, capped at 100.
const (
	violationWeight  = 15.0
	revenueDivisor   = 5000.0
	criticalRiskMin  = 80.0
	highRiskMin      = 60.0
	mediumRiskMin    = 40.0
)

// Store is the subset of violation persistence the service needs.
type Store interface {
	ListViolationsBySeller(ctx context.Context, platform models.Platform, sellerID string) ([]models.Violation, error)
	UpsertInfringerProfile(ctx context.Context, p *models.InfringerProfile) error
	GetInfringerProfile(ctx context.Context, platform models.Platform, sellerID string) (*models.InfringerProfile, error)
}

type Service struct {
	store Store
	graph *Graph // optional
}

func NewService(store Store, graph *Graph) *Service {
	return &Service{store: store, graph: graph}
}

// Recompute rebuilds the profile for one seller from its current violation
// set and persists it. Sellers whose violations were all whitelisted end up
// with no profile update.
func (s *Service) Recompute(ctx context.Context, platform models.Platform, sellerID string) (*models.InfringerProfile, error) {
	violations, err := s.store.ListViolationsBySeller(ctx, platform, sellerID)
	if err != nil {
		return nil, fmt.Errorf("loading violations for %s/%s: %w", platform, sellerID, err)
	}
	if len(violations) == 0 {
		return nil, nil
	}

	profile := Compute(violations)
	if err := s.store.UpsertInfringerProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("upserting profile for %s/%s: %w", platform, sellerID, err)
	}

	if s.graph != nil {
		if err := s.graph.UpsertSeller(ctx, profile); err != nil {
			return nil, fmt.Errorf("syncing seller graph: %w", err)
		}
		for i := range violations {
			if err := s.graph.RecordInfringement(ctx, &violations[i]); err != nil {
				return nil, fmt.Errorf("recording infringement edge: %w", err)
			}
		}
	}

	return profile, nil
}

// Compute builds a profile from a violation set. All violations must belong
// to the same (platform, seller); the caller guarantees this.
func Compute(violations []models.Violation) *models.InfringerProfile {
	first := violations[0]
	profile := &models.InfringerProfile{
		Platform:        first.Platform,
		SellerID:        first.SellerID,
		SellerName:      first.SellerName,
		ProfileURL:      first.SellerURL,
		ViolationCount:  len(violations),
		FirstDetectedAt: first.DetectedAt,
		LastDetectedAt:  first.DetectedAt,
	}

	var priceSum float64
	for _, v := range violations {
		profile.EstimatedRevenue += v.Price * float64(v.SalesCount)
		profile.TotalSales += v.SalesCount
		priceSum += v.Price

		if v.DetectedAt.Before(profile.FirstDetectedAt) {
			profile.FirstDetectedAt = v.DetectedAt
		}
		if v.DetectedAt.After(profile.LastDetectedAt) {
			profile.LastDetectedAt = v.DetectedAt
			profile.SellerName = v.SellerName
			profile.ProfileURL = v.SellerURL
		}
	}
	profile.AveragePrice = priceSum / float64(len(violations))

	profile.RiskScore = RiskScore(profile.ViolationCount, profile.EstimatedRevenue)
	profile.RiskLevel = RiskLevelForScore(profile.RiskScore)
	return profile
}

// RiskScore maps violation volume and estimated revenue to a 0-100 score.
func RiskScore(violationCount int, estimatedRevenue float64) float64 {
	score := float64(violationCount)*violationWeight + estimatedRevenue/revenueDivisor
	if score > 100 {
		score = 100
	}
	return score
}

// RiskLevelForScore maps a risk score to its level.
func RiskLevelForScore(score float64) models.RiskLevel {
	switch {
	case score >= criticalRiskMin:
		return models.RiskCritical
	case score >= highRiskMin:
		return models.RiskHigh
	case score >= mediumRiskMin:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
