package templates

import (
	"strings"
	"testing"

	"github.com/imageguard/guardian/internal/models"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			"simple substitution",
			"Hello {{name}}",
			map[string]string{"name": "World"},
			"Hello World",
		},
		{
			"repeated variable",
			"{{x}} and {{x}}",
			map[string]string{"x": "a"},
			"a and a",
		},
		{
			"whitespace inside braces",
			"Hello {{ name }}",
			map[string]string{"name": "World"},
			"Hello World",
		},
		{
			"missing variable marked",
			"Hello {{name}}",
			nil,
			"Hello [missing name]",
		},
		{
			"no placeholders",
			"plain text",
			map[string]string{"name": "x"},
			"plain text",
		},
		{
			"empty value is substituted",
			"a{{x}}b",
			map[string]string{"x": ""},
			"ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.tmpl, tt.vars); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVariables(t *testing.T) {
	vars := Variables("{{a}} {{b}} {{a}} {{c}}")
	want := []string{"a", "b", "c"}
	if len(vars) != len(want) {
		t.Fatalf("got %v, want %v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %q, want %q", i, vars[i], want[i])
		}
	}
}

func TestLetterForLevel(t *testing.T) {
	for _, level := range []models.WarningLevel{
		models.WarningFriendly,
		models.WarningFormal,
		models.WarningLegal,
	} {
		tmpl, err := LetterForLevel(level)
		if err != nil {
			t.Errorf("no template for level %s: %v", level, err)
			continue
		}
		if tmpl.Subject == "" || tmpl.Body == "" {
			t.Errorf("template for %s has empty subject or body", level)
		}
	}

	if _, err := LetterForLevel("nonexistent"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestReportForType(t *testing.T) {
	for _, rt := range []models.ReportType{
		models.ReportCopyright,
		models.ReportTrademark,
		models.ReportCounterfeit,
	} {
		tmpl, err := ReportForType(rt)
		if err != nil {
			t.Errorf("no template for type %s: %v", rt, err)
			continue
		}
		if tmpl.Body == "" {
			t.Errorf("template for %s has empty body", rt)
		}
	}

	if _, err := ReportForType("dmca"); err == nil {
		t.Error("expected error for unknown report type")
	}
}

func TestLetterTemplatesRenderFully(t *testing.T) {
	vars := map[string]string{
		"seller_name": "Test Seller", "listing_title": "Fake Product",
		"platform": "shopee", "brand_name": "Acme", "deadline_days": "7",
		"listing_url": "https://example.com/item/1", "sender_name": "Legal Dept",
		"case_number": "IG-202608-0001", "detected_date": "2026-08-01",
		"similarity_score": "97.5", "notice_count": "2", "law_firm": "Acme Legal",
	}

	for _, tmpl := range Letters() {
		rendered := Render(tmpl.Body, vars)
		if strings.Contains(rendered, "[missing") {
			t.Errorf("template %s has unresolved variables:\n%s", tmpl.ID, rendered)
		}
	}
}

func TestReportTemplatesRenderFully(t *testing.T) {
	vars := map[string]string{
		"reporter_name": "Acme Inc", "brand_name": "Acme",
		"case_number": "IG-202608-0001", "listing_title": "Fake Product",
		"listing_url": "https://example.com/item/1", "seller_name": "Test Seller",
		"seller_id": "s-123", "similarity_score": "97.5",
		"trademark_number": "TM-99887", "listing_price": "19.99", "retail_price": "89.99",
	}

	for _, tmpl := range Reports() {
		rendered := Render(tmpl.Body, vars)
		if strings.Contains(rendered, "[missing") {
			t.Errorf("template %s has unresolved variables:\n%s", tmpl.ID, rendered)
		}
	}
}
