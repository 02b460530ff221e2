// Package reports renders violation, infringer, case evidence, and
// executive summary exports as CSV or PDF.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/imageguard/guardian/internal/models"
)

type ExportType string

const (
	ExportViolations   ExportType = "violations"
	ExportInfringers   ExportType = "infringers"
	ExportCaseEvidence ExportType = "case_evidence"
	ExportExecutive    ExportType = "executive"
)

type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

type ExportRequest struct {
	Type      ExportType
	Format    ExportFormat
	Title     string
	CaseID    *uuid.UUID
	Platforms []models.Platform
	Levels    []models.SimilarityLevel
	DateFrom  *time.Time
	DateTo    *time.Time
}

type Export struct {
	Type        ExportType
	Format      ExportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

type ViolationsFilter struct {
	Platforms []models.Platform
	Levels    []models.SimilarityLevel
	DateFrom  *time.Time
	DateTo    *time.Time
}

type InfringersFilter struct {
	Platforms []models.Platform
	MinRisk   *float64
}

// CaseBundle is everything attached to one legal case, assembled for the
// evidence export.
type CaseBundle struct {
	Case       *models.LegalCase
	Violations []*models.Violation
	Letters    []*models.WarningLetter
	Reports    []*models.OfficialReport
	Timeline   []*models.CaseEvent
}

type Stats struct {
	ProtectedAssets      int
	TotalViolations      int
	ExactMatches         int
	HighMatches          int
	MediumMatches        int
	LowMatches           int
	OpenCases            int
	ResolvedCases        int
	CriticalInfringers   int
	ViolationsByPlatform map[string]int
	CasesByStatus        map[string]int
}

// DataProvider supplies the persisted records an export draws from.
type DataProvider interface {
	GetViolations(ctx context.Context, filter ViolationsFilter) ([]*models.Violation, error)
	GetInfringers(ctx context.Context, filter InfringersFilter) ([]*models.InfringerProfile, error)
	GetCaseBundle(ctx context.Context, caseID uuid.UUID) (*CaseBundle, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ExportRequest) (*Export, error) {
	switch req.Type {
	case ExportViolations:
		return g.generateViolationsExport(ctx, req)
	case ExportInfringers:
		return g.generateInfringersExport(ctx, req)
	case ExportCaseEvidence:
		return g.generateCaseEvidence(ctx, req)
	case ExportExecutive:
		return g.generateExecutiveExport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported export type: %s", req.Type)
	}
}

func (g *Generator) generateViolationsExport(ctx context.Context, req *ExportRequest) (*Export, error) {
	violations, err := g.provider.GetViolations(ctx, ViolationsFilter{
		Platforms: req.Platforms,
		Levels:    req.Levels,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch violations: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.violationsToCSV(violations)
		filename = fmt.Sprintf("violations_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.violationsToPDF(violations, req.Title)
		filename = fmt.Sprintf("violations_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Export{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) violationsToCSV(violations []*models.Violation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"ID", "Platform", "Listing", "URL", "Price", "Currency",
		"Seller", "Similarity", "Level", "Whitelisted", "Detected At",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, v := range violations {
		row := []string{
			v.ID.String(),
			string(v.Platform),
			v.Title,
			v.URL,
			fmt.Sprintf("%.2f", v.Price),
			v.Currency,
			v.SellerName,
			fmt.Sprintf("%.1f", v.Overall),
			string(v.Level),
			fmt.Sprintf("%t", v.Whitelisted),
			v.DetectedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) violationsToPDF(violations []*models.Violation, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Summary")
	summary := map[string]int{
		"Exact": 0, "High": 0, "Medium": 0, "Low": 0,
	}
	for _, v := range violations {
		switch v.Level {
		case models.SimilarityExact:
			summary["Exact"]++
		case models.SimilarityHigh:
			summary["High"]++
		case models.SimilarityMedium:
			summary["Medium"]++
		default:
			summary["Low"]++
		}
	}
	pdf.AddSummaryTable(summary)

	pdf.AddSection("Detected Listings")
	headers := []string{"Platform", "Listing", "Seller", "Price", "Score"}
	rows := make([][]string, len(violations))
	for i, v := range violations {
		rows[i] = []string{
			string(v.Platform),
			truncate(v.Title, 40),
			truncate(v.SellerName, 20),
			fmt.Sprintf("%.0f %s", v.Price, v.Currency),
			fmt.Sprintf("%.1f (%s)", v.Overall, v.Level),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateInfringersExport(ctx context.Context, req *ExportRequest) (*Export, error) {
	infringers, err := g.provider.GetInfringers(ctx, InfringersFilter{
		Platforms: req.Platforms,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch infringer profiles: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.infringersToCSV(infringers)
		filename = fmt.Sprintf("infringers_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.infringersToPDF(infringers, req.Title)
		filename = fmt.Sprintf("infringers_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Export{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) infringersToCSV(infringers []*models.InfringerProfile) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Platform", "Seller ID", "Seller Name", "Violations",
		"Est. Revenue", "Avg Price", "Risk Score", "Risk Level",
		"First Detected", "Last Detected",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, p := range infringers {
		row := []string{
			string(p.Platform),
			p.SellerID,
			p.SellerName,
			fmt.Sprintf("%d", p.ViolationCount),
			fmt.Sprintf("%.2f", p.EstimatedRevenue),
			fmt.Sprintf("%.2f", p.AveragePrice),
			fmt.Sprintf("%.1f", p.RiskScore),
			string(p.RiskLevel),
			p.FirstDetectedAt.Format(time.RFC3339),
			p.LastDetectedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) infringersToPDF(infringers []*models.InfringerProfile, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Risk Distribution")
	byLevel := map[string]int{}
	for _, p := range infringers {
		byLevel[string(p.RiskLevel)]++
	}
	pdf.AddChart("", byLevel)

	pdf.AddSection("Seller Profiles")
	headers := []string{"Platform", "Seller", "Violations", "Revenue", "Risk"}
	rows := make([][]string, len(infringers))
	for i, p := range infringers {
		rows[i] = []string{
			string(p.Platform),
			truncate(p.SellerName, 20),
			fmt.Sprintf("%d", p.ViolationCount),
			fmt.Sprintf("%.0f", p.EstimatedRevenue),
			fmt.Sprintf("%.0f (%s)", p.RiskScore, p.RiskLevel),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateCaseEvidence(ctx context.Context, req *ExportRequest) (*Export, error) {
	if req.CaseID == nil {
		return nil, fmt.Errorf("case evidence export requires a case id")
	}
	if req.Format != FormatPDF {
		return nil, fmt.Errorf("case evidence export supports PDF only")
	}

	bundle, err := g.provider.GetCaseBundle(ctx, *req.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble case bundle: %w", err)
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Evidence Pack %s", bundle.Case.CaseNumber)
	}

	data, err := g.caseEvidenceToPDF(bundle, title)
	if err != nil {
		return nil, err
	}

	return &Export{
		Type:        req.Type,
		Format:      req.Format,
		Title:       title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    fmt.Sprintf("%s_evidence.pdf", bundle.Case.CaseNumber),
		MimeType:    "application/pdf",
	}, nil
}

func (g *Generator) caseEvidenceToPDF(bundle *CaseBundle, title string) ([]byte, error) {
	pdf := NewPDFReport(title)
	c := bundle.Case

	pdf.AddSection("Case Summary")
	pdf.AddParagraph(fmt.Sprintf("Case %s targets seller %s (%s) on %s. Status: %s, priority: %s. Opened %s.",
		c.CaseNumber, c.SellerName, c.SellerID, c.Platform, c.Status, c.Priority,
		c.CreatedAt.Format("January 2, 2006")))
	if c.Notes != "" {
		pdf.AddParagraph(c.Notes)
	}

	pdf.AddSection(fmt.Sprintf("Violations (%d)", len(bundle.Violations)))
	headers := []string{"Listing", "URL", "Price", "Score", "Detected"}
	rows := make([][]string, len(bundle.Violations))
	for i, v := range bundle.Violations {
		rows[i] = []string{
			truncate(v.Title, 40),
			truncate(v.URL, 40),
			fmt.Sprintf("%.0f %s", v.Price, v.Currency),
			fmt.Sprintf("%.1f", v.Overall),
			v.DetectedAt.Format("2006-01-02"),
		}
	}
	pdf.AddTable(headers, rows)

	if len(bundle.Letters) > 0 {
		pdf.AddSection("Warning Letters")
		for _, l := range bundle.Letters {
			sent := "draft"
			if l.SentAt != nil {
				sent = "sent " + l.SentAt.Format("2006-01-02")
			}
			pdf.AddParagraph(fmt.Sprintf("[%s, %s] %s", l.Level, sent, l.Subject))
			pdf.AddParagraph(l.Content)
			pdf.AddPageBreak()
		}
	}

	if len(bundle.Reports) > 0 {
		pdf.AddSection("Platform Reports")
		repHeaders := []string{"Type", "Status", "Confirmation", "Submitted"}
		repRows := make([][]string, len(bundle.Reports))
		for i, rep := range bundle.Reports {
			submitted := ""
			if rep.SubmittedAt != nil {
				submitted = rep.SubmittedAt.Format("2006-01-02")
			}
			repRows[i] = []string{
				string(rep.ReportType),
				string(rep.Status),
				rep.ConfirmationNumber,
				submitted,
			}
		}
		pdf.AddTable(repHeaders, repRows)
	}

	pdf.AddSection("Timeline")
	tlHeaders := []string{"Date", "Event", "Description"}
	tlRows := make([][]string, len(bundle.Timeline))
	for i, e := range bundle.Timeline {
		tlRows[i] = []string{
			e.CreatedAt.Format("2006-01-02 15:04"),
			string(e.EventType),
			truncate(e.Description, 50),
		}
	}
	pdf.AddTable(tlHeaders, tlRows)

	return pdf.Output()
}

func (g *Generator) generateExecutiveExport(ctx context.Context, req *ExportRequest) (*Export, error) {
	stats, err := g.provider.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(stats)
		filename = fmt.Sprintf("executive_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.executiveToPDF(stats, req.Title)
		filename = fmt.Sprintf("executive_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Export{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) executiveToCSV(stats *Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Brand Protection Summary"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	_ = w.Write([]string{"Metric", "Value"})
	_ = w.Write([]string{"Protected Assets", fmt.Sprintf("%d", stats.ProtectedAssets)})
	_ = w.Write([]string{"Total Violations", fmt.Sprintf("%d", stats.TotalViolations)})
	_ = w.Write([]string{"Exact Matches", fmt.Sprintf("%d", stats.ExactMatches)})
	_ = w.Write([]string{"High Matches", fmt.Sprintf("%d", stats.HighMatches)})
	_ = w.Write([]string{"Open Cases", fmt.Sprintf("%d", stats.OpenCases)})
	_ = w.Write([]string{"Resolved Cases", fmt.Sprintf("%d", stats.ResolvedCases)})
	_ = w.Write([]string{"Critical Infringers", fmt.Sprintf("%d", stats.CriticalInfringers)})

	_ = w.Write([]string{""})
	_ = w.Write([]string{"Platform", "Violations"})
	for platform, count := range stats.ViolationsByPlatform {
		_ = w.Write([]string{platform, fmt.Sprintf("%d", count)})
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) executiveToPDF(stats *Stats, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Protection Posture")

	metrics := []struct {
		label string
		value int
		color []int
	}{
		{"Protected Assets", stats.ProtectedAssets, []int{66, 133, 244}},
		{"Violations", stats.TotalViolations, []int{108, 117, 125}},
		{"Exact Matches", stats.ExactMatches, []int{220, 53, 69}},
		{"Open Cases", stats.OpenCases, []int{253, 126, 20}},
	}

	boxWidth := 42.0
	for i, m := range metrics {
		x := 15 + float64(i)*boxWidth + float64(i)*5
		pdf.pdf.SetFillColor(m.color[0], m.color[1], m.color[2])
		pdf.pdf.Rect(x, pdf.pdf.GetY(), boxWidth, 25, "F")

		pdf.pdf.SetXY(x, pdf.pdf.GetY()+3)
		pdf.pdf.SetFont("Arial", "B", 18)
		pdf.pdf.SetTextColor(255, 255, 255)
		pdf.pdf.CellFormat(boxWidth, 10, fmt.Sprintf("%d", m.value), "", 0, "C", false, 0, "")

		pdf.pdf.SetXY(x, pdf.pdf.GetY()+12)
		pdf.pdf.SetFont("Arial", "", 9)
		pdf.pdf.CellFormat(boxWidth, 8, m.label, "", 0, "C", false, 0, "")
	}

	pdf.pdf.Ln(35)

	pdf.AddSection("Violations by Match Level")
	pdf.AddChart("", map[string]int{
		"Exact":  stats.ExactMatches,
		"High":   stats.HighMatches,
		"Medium": stats.MediumMatches,
		"Low":    stats.LowMatches,
	})

	pdf.AddSection("Violations by Platform")
	pdf.AddChart("", stats.ViolationsByPlatform)

	pdf.AddSection("Cases by Status")
	pdf.AddSummaryTable(stats.CasesByStatus)

	return pdf.Output()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// StreamCSV writes a CSV export directly to w, for download handlers that
// do not want the document buffered.
func (g *Generator) StreamCSV(ctx context.Context, w io.Writer, req *ExportRequest) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	switch req.Type {
	case ExportViolations:
		violations, err := g.provider.GetViolations(ctx, ViolationsFilter{
			Platforms: req.Platforms,
			Levels:    req.Levels,
			DateFrom:  req.DateFrom,
			DateTo:    req.DateTo,
		})
		if err != nil {
			return err
		}

		header := []string{"ID", "Platform", "Listing", "Seller", "Score", "Level", "Detected At"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, v := range violations {
			row := []string{
				v.ID.String(), string(v.Platform), v.Title, v.SellerName,
				fmt.Sprintf("%.1f", v.Overall), string(v.Level),
				v.DetectedAt.Format(time.RFC3339),
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	case ExportInfringers:
		infringers, err := g.provider.GetInfringers(ctx, InfringersFilter{Platforms: req.Platforms})
		if err != nil {
			return err
		}

		header := []string{"Platform", "Seller", "Violations", "Revenue", "Risk Score", "Risk Level"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, p := range infringers {
			row := []string{
				string(p.Platform), p.SellerName,
				fmt.Sprintf("%d", p.ViolationCount),
				fmt.Sprintf("%.2f", p.EstimatedRevenue),
				fmt.Sprintf("%.1f", p.RiskScore),
				string(p.RiskLevel),
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("export type %s cannot be streamed as CSV", req.Type)
	}

	return nil
}
