package export

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuildSections(t *testing.T) {
	raw := json.RawMessage(`{
		"performance_score": 72.5,
		"tasks_completed": 4,
		"username": "ada",
		"period": {"days": 30, "start": "2026-09-01"},
		"domains": [
			{"domain": "ops", "completion_rate": 50, "total_members": 3},
			{"domain": "hr", "completion_rate": 100}
		]
	}`)

	sections, err := BuildSections(raw)
	if err != nil {
		t.Fatalf("BuildSections() error = %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d: %+v", len(sections), sections)
	}

	summary := sections[0]
	if summary.Heading != "Summary" || len(summary.Pairs) != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Pairs[0].Label != "Performance Score" || summary.Pairs[0].Value != "72.50" {
		t.Fatalf("unexpected first pair: %+v", summary.Pairs[0])
	}
	if summary.Pairs[1].Value != "4" {
		t.Fatalf("integers should render without decimals, got %q", summary.Pairs[1].Value)
	}

	table := sections[1]
	if table.Heading != "Domains" {
		t.Fatalf("expected domains table, got %q", table.Heading)
	}
	if strings.Join(table.Columns, ",") != "Completion Rate,Domain,Total Members" {
		t.Fatalf("unexpected columns: %v", table.Columns)
	}
	if table.Rows[1][2] != "-" {
		t.Fatalf("missing cell should render as dash, got %q", table.Rows[1][2])
	}

	if sections[2].Heading != "Period" || len(sections[2].Pairs) != 2 {
		t.Fatalf("unexpected nested section: %+v", sections[2])
	}
}

func TestBuildSectionsRejectsNonObject(t *testing.T) {
	if _, err := BuildSections(json.RawMessage(`[1,2]`)); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Team Report v1.2", "Team-Report-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "report"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestHTMLDataURL(t *testing.T) {
	html := "<p>café & co</p>"
	url := htmlDataURL(html)
	prefix := "data:text/html;charset=utf-8;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("unexpected data url %q", url)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != html {
		t.Fatalf("round trip = %q, want %q", decoded, html)
	}
}

func TestFindChromeReportsMissingDependency(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := findChrome(); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func sampleReport() Report {
	return Report{
		ID:          "rpt_1",
		Title:       "Ops <Team> Review",
		Type:        "team_performance",
		GeneratedBy: "Avery Stone",
		GeneratedAt: time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC),
		PeriodStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		Data:        json.RawMessage(`{"total_members": 3, "domains": [{"domain": "ops"}]}`),
	}
}

func TestServiceHTML(t *testing.T) {
	html, err := NewService(true).HTML(sampleReport())
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}

	for _, want := range []string{
		"Ops &lt;Team&gt; Review",
		"Team Performance",
		"Sep 1, 2026",
		"Generated by Avery Stone",
		"<th>Domain</th>",
		"<dt>Total Members</dt><dd>3</dd>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestServicePDFUsesRenderer(t *testing.T) {
	var rendered string
	svc := NewServiceWithRenderer(func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF-1.4"), nil
	})

	result, err := svc.PDF(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("PDF() error = %v", err)
	}
	if result.Filename != "Ops-Team-Review.pdf" || result.MimeType != "application/pdf" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if string(result.Data) != "%PDF-1.4" || !strings.Contains(rendered, "<html>") {
		t.Fatal("renderer was not given the report HTML")
	}
}

func TestDisabledServiceReportsMissingDependency(t *testing.T) {
	_, err := NewService(true).PDF(context.Background(), sampleReport())
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}
