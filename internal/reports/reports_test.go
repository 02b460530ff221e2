package reports

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
)

type fakeProvider struct {
	violations []*models.Violation
	infringers []*models.InfringerProfile
	bundle     *CaseBundle
	stats      *Stats
}

func (f *fakeProvider) GetViolations(ctx context.Context, filter ViolationsFilter) ([]*models.Violation, error) {
	return f.violations, nil
}

func (f *fakeProvider) GetInfringers(ctx context.Context, filter InfringersFilter) ([]*models.InfringerProfile, error) {
	return f.infringers, nil
}

func (f *fakeProvider) GetCaseBundle(ctx context.Context, caseID uuid.UUID) (*CaseBundle, error) {
	return f.bundle, nil
}

func (f *fakeProvider) GetStats(ctx context.Context) (*Stats, error) {
	return f.stats, nil
}

func sampleViolation(title string, score float64) *models.Violation {
	return &models.Violation{
		ID:         uuid.New(),
		Platform:   models.PlatformShopee,
		ListingID:  "L-1",
		Title:      title,
		URL:        "https://shopee.example/listing/1",
		Price:      390,
		Currency:   "TWD",
		SellerID:   "seller-9",
		SellerName: "Sunrise Shop",
		Overall:    score,
		Level:      models.SimilarityHigh,
		DetectedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestGenerateViolationsCSV(t *testing.T) {
	provider := &fakeProvider{
		violations: []*models.Violation{sampleViolation("Lumina Tote Bag", 87.5)},
	}
	gen := NewGenerator(provider)

	export, err := gen.Generate(context.Background(), &ExportRequest{
		Type:   ExportViolations,
		Format: FormatCSV,
		Title:  "Violations",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if export.MimeType != "text/csv" {
		t.Errorf("mime type = %q, want text/csv", export.MimeType)
	}
	if !strings.HasSuffix(export.Filename, ".csv") {
		t.Errorf("filename = %q, want .csv suffix", export.Filename)
	}

	body := string(export.Data)
	for _, want := range []string{"Lumina Tote Bag", "shopee", "87.5", "Sunrise Shop"} {
		if !strings.Contains(body, want) {
			t.Errorf("csv missing %q:\n%s", want, body)
		}
	}
}

func TestGenerateViolationsPDF(t *testing.T) {
	provider := &fakeProvider{
		violations: []*models.Violation{sampleViolation("Lumina Tote Bag", 87.5)},
	}
	gen := NewGenerator(provider)

	export, err := gen.Generate(context.Background(), &ExportRequest{
		Type:   ExportViolations,
		Format: FormatPDF,
		Title:  "Violations",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !bytes.HasPrefix(export.Data, []byte("%PDF")) {
		t.Error("output is not a PDF document")
	}
	if export.MimeType != "application/pdf" {
		t.Errorf("mime type = %q, want application/pdf", export.MimeType)
	}
}

func TestGenerateCaseEvidence(t *testing.T) {
	caseID := uuid.New()
	sentAt := time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)
	provider := &fakeProvider{
		bundle: &CaseBundle{
			Case: &models.LegalCase{
				ID:         caseID,
				CaseNumber: "IG-202603-0007",
				Status:     models.CaseStatusWarningSent,
				Priority:   models.PriorityHigh,
				Platform:   models.PlatformShopee,
				SellerID:   "seller-9",
				SellerName: "Sunrise Shop",
				CreatedAt:  time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			},
			Violations: []*models.Violation{sampleViolation("Lumina Tote Bag", 92.0)},
			Letters: []*models.WarningLetter{
				{
					ID:      uuid.New(),
					CaseID:  caseID,
					Level:   models.WarningFormal,
					Subject: "Formal notice of infringement",
					Content: "Cease and desist.",
					Status:  models.LetterStatusSent,
					SentAt:  &sentAt,
				},
			},
			Timeline: []*models.CaseEvent{
				{CaseID: caseID, EventType: models.EventCaseCreated, Description: "Case opened", CreatedAt: time.Now()},
			},
		},
	}
	gen := NewGenerator(provider)

	export, err := gen.Generate(context.Background(), &ExportRequest{
		Type:   ExportCaseEvidence,
		Format: FormatPDF,
		CaseID: &caseID,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !bytes.HasPrefix(export.Data, []byte("%PDF")) {
		t.Error("output is not a PDF document")
	}
	if export.Filename != "IG-202603-0007_evidence.pdf" {
		t.Errorf("filename = %q", export.Filename)
	}
}

func TestGenerateCaseEvidence_RequiresCaseID(t *testing.T) {
	gen := NewGenerator(&fakeProvider{})

	_, err := gen.Generate(context.Background(), &ExportRequest{
		Type:   ExportCaseEvidence,
		Format: FormatPDF,
	})
	if err == nil {
		t.Fatal("expected error without case id")
	}
}

func TestStreamCSV_Infringers(t *testing.T) {
	provider := &fakeProvider{
		infringers: []*models.InfringerProfile{
			{
				Platform:         models.PlatformRuten,
				SellerID:         "seller-3",
				SellerName:       "Night Market",
				ViolationCount:   6,
				EstimatedRevenue: 42000,
				RiskScore:        98,
				RiskLevel:        models.RiskCritical,
			},
		},
	}
	gen := NewGenerator(provider)

	var buf bytes.Buffer
	err := gen.StreamCSV(context.Background(), &buf, &ExportRequest{Type: ExportInfringers})
	if err != nil {
		t.Fatalf("StreamCSV: %v", err)
	}

	body := buf.String()
	for _, want := range []string{"Night Market", "ruten", "critical", "98.0"} {
		if !strings.Contains(body, want) {
			t.Errorf("csv missing %q:\n%s", want, body)
		}
	}
}
