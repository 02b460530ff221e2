package infringer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/imageguard/guardian/internal/models"
)

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name       string
		violations int
		revenue    float64
		want       float64
	}{
		{"no activity", 0, 0, 0},
		{"one violation", 1, 0, 15},
		{"revenue only", 0, 50000, 10},
		{"combined", 3, 100000, 65},
		{"capped at 100", 10, 500000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskScore(tt.violations, tt.revenue); got != tt.want {
				t.Errorf("RiskScore(%d, %.0f) = %.2f, want %.2f", tt.violations, tt.revenue, got, tt.want)
			}
		})
	}
}

func TestRiskLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  models.RiskLevel
	}{
		{100, models.RiskCritical},
		{80, models.RiskCritical},
		{79.9, models.RiskHigh},
		{60, models.RiskHigh},
		{59.9, models.RiskMedium},
		{40, models.RiskMedium},
		{39.9, models.RiskLow},
		{0, models.RiskLow},
	}

	for _, tt := range tests {
		if got := RiskLevelForScore(tt.score); got != tt.want {
			t.Errorf("RiskLevelForScore(%.1f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCompute(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	violations := []models.Violation{
		{
			Platform: models.PlatformShopee, SellerID: "s-1", SellerName: "old name",
			SellerURL: "https://shopee.example/s-1",
			Price:     100, SalesCount: 50, DetectedAt: base,
		},
		{
			Platform: models.PlatformShopee, SellerID: "s-1", SellerName: "new name",
			SellerURL: "https://shopee.example/shop/s-1",
			Price:     200, SalesCount: 10, DetectedAt: base.Add(72 * time.Hour),
		},
		{
			Platform: models.PlatformShopee, SellerID: "s-1", SellerName: "mid name",
			Price: 60, SalesCount: 0, DetectedAt: base.Add(24 * time.Hour),
		},
	}

	p := Compute(violations)

	if p.Platform != models.PlatformShopee || p.SellerID != "s-1" {
		t.Errorf("wrong identity: %s/%s", p.Platform, p.SellerID)
	}
	if p.ViolationCount != 3 {
		t.Errorf("violation count = %d, want 3", p.ViolationCount)
	}
	// 100*50 + 200*10 + 60*0
	if p.EstimatedRevenue != 7000 {
		t.Errorf("estimated revenue = %.0f, want 7000", p.EstimatedRevenue)
	}
	if p.TotalSales != 60 {
		t.Errorf("total sales = %d, want 60", p.TotalSales)
	}
	if math.Abs(p.AveragePrice-120) > 0.001 {
		t.Errorf("average price = %.2f, want 120", p.AveragePrice)
	}
	if !p.FirstDetectedAt.Equal(base) {
		t.Errorf("first detected = %v, want %v", p.FirstDetectedAt, base)
	}
	if !p.LastDetectedAt.Equal(base.Add(72 * time.Hour)) {
		t.Errorf("last detected = %v", p.LastDetectedAt)
	}
	// name follows the most recent sighting
	if p.SellerName != "new name" {
		t.Errorf("seller name = %q, want latest", p.SellerName)
	}

	// 3*15 + 7000/5000 = 46.4
	if math.Abs(p.RiskScore-46.4) > 0.001 {
		t.Errorf("risk score = %.2f, want 46.4", p.RiskScore)
	}
	if p.RiskLevel != models.RiskMedium {
		t.Errorf("risk level = %s, want medium", p.RiskLevel)
	}
}

type fakeStore struct {
	violations []models.Violation
	upserted   *models.InfringerProfile
}

func (f *fakeStore) ListViolationsBySeller(_ context.Context, _ models.Platform, _ string) ([]models.Violation, error) {
	return f.violations, nil
}

func (f *fakeStore) UpsertInfringerProfile(_ context.Context, p *models.InfringerProfile) error {
	f.upserted = p
	return nil
}

func (f *fakeStore) GetInfringerProfile(_ context.Context, _ models.Platform, _ string) (*models.InfringerProfile, error) {
	return f.upserted, nil
}

func TestService_Recompute(t *testing.T) {
	store := &fakeStore{
		violations: []models.Violation{
			{Platform: models.PlatformRuten, SellerID: "r-9", Price: 500, SalesCount: 100, DetectedAt: time.Now()},
		},
	}
	svc := NewService(store, nil)

	p, err := svc.Recompute(context.Background(), models.PlatformRuten, "r-9")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if p == nil || store.upserted == nil {
		t.Fatal("expected profile to be computed and persisted")
	}
	// 1*15 + 50000/5000 = 25
	if p.RiskScore != 25 {
		t.Errorf("risk score = %.2f, want 25", p.RiskScore)
	}
}

func TestService_RecomputeNoViolations(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil)

	p, err := svc.Recompute(context.Background(), models.PlatformRuten, "r-9")
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if p != nil || store.upserted != nil {
		t.Error("expected no profile for a seller with no violations")
	}
}
