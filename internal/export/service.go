package export

import (
	"context"
	"fmt"
	"time"

	"safevoice/api/internal/domain"
)

// Renderer turns certificate HTML into a PDF.
type Renderer func(ctx context.Context, html, title string) (*Result, error)

// Service produces resolution certificates.
type Service struct {
	render Renderer
	now    func() time.Time
}

// NewService creates an export service backed by headless Chrome.
func NewService() *Service {
	return &Service{render: exportPDF, now: time.Now}
}

// NewServiceWithRenderer creates an export service with a custom PDF renderer.
func NewServiceWithRenderer(render Renderer) *Service {
	return &Service{render: render, now: time.Now}
}

// Certificate renders the resolution certificate for a resolved report.
func (s *Service) Certificate(ctx context.Context, report domain.Report) (*Result, error) {
	if report.Status != domain.StatusResolved {
		return nil, ErrNotResolved
	}

	cert := Certificate{
		ReportID:     report.ID,
		Title:        report.Title,
		Category:     string(report.Category),
		Status:       string(report.Status),
		PriorityFlag: report.PriorityFlag,
		IsAnonymous:  report.IsAnonymous,
		Submitter:    "Anonymous",
		SubmittedAt:  report.SubmittedAt,
		ResolvedAt:   report.UpdatedAt,
		Token:        report.Token,
		Attachment:   report.Attachment,
	}
	if !report.IsAnonymous && report.SubmittedBy != nil && report.SubmittedBy.DisplayName != "" {
		cert.Submitter = report.SubmittedBy.DisplayName
	}

	html, err := RenderCertificateHTML(TemplateData{Certificate: cert, GeneratedAt: s.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result, err := s.render(ctx, html, "certificate-"+report.ID)
	if err != nil {
		return nil, err
	}
	return result, nil
}
