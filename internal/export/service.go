package export

import (
	"context"
	"fmt"
)

// Renderer turns HTML into a PDF.
type Renderer func(ctx context.Context, html string) ([]byte, error)

// Service provides report export functionality
type Service struct {
	render Renderer
}

// NewService creates an export service backed by headless Chrome. When
// disabled every export fails with ErrPDFDependencyMissing.
func NewService(disabled bool) *Service {
	if disabled {
		return &Service{render: func(context.Context, string) ([]byte, error) {
			return nil, fmt.Errorf("%w: chrome disabled", ErrPDFDependencyMissing)
		}}
	}
	return &Service{render: chromePDF}
}

// NewServiceWithRenderer swaps the PDF backend.
func NewServiceWithRenderer(render Renderer) *Service {
	return &Service{render: render}
}

// HTML renders the report as a standalone HTML page.
func (s *Service) HTML(report Report) (string, error) {
	sections, err := BuildSections(report.Data)
	if err != nil {
		return "", err
	}
	html, err := RenderReportHTML(TemplateData{
		Title:       report.Title,
		Type:        report.Type,
		GeneratedBy: report.GeneratedBy,
		GeneratedAt: report.GeneratedAt,
		PeriodStart: report.PeriodStart,
		PeriodEnd:   report.PeriodEnd,
		Sections:    sections,
	})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

// PDF renders the report and prints it to PDF.
func (s *Service) PDF(ctx context.Context, report Report) (*Result, error) {
	html, err := s.HTML(report)
	if err != nil {
		return nil, err
	}
	data, err := s.render(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(report.Title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
