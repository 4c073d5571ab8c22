package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts Searcher) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: scopeResults(results, q.OwnerID), Total: total, Query: q.Text}
		}
		slog.Warn("search: meilisearch error, falling back to pgfts", "error", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		slog.Error("search: pgfts error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: scopeResults(results, q.OwnerID), Total: total, Query: q.Text}
}

// IndexReport indexes a report (fire-and-forget to Meilisearch).
func (s *Service) IndexReport(report ReportRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReports([]ReportRecord{report}); err != nil {
			slog.Warn("search: index report", "report_id", report.ID, "error", err)
		}
	}()
}

// DeleteReport removes a report from the search index (fire-and-forget).
func (s *Service) DeleteReport(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReport(id); err != nil {
			slog.Warn("search: delete report", "report_id", id, "error", err)
		}
	}()
}

// Reindex pushes every report from PostgreSQL into Meilisearch.
func (s *Service) Reindex(ctx context.Context, loader func(context.Context) ([]ReportRecord, error)) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records, err := loader(ctx)
	if err != nil {
		slog.Warn("search: reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexReports(records); err != nil {
		slog.Warn("search: reindex reports", "error", err)
	}
}

// scopeResults drops hits outside the owner scope even if an index filter
// was missed.
func scopeResults(results []Result, ownerID string) []Result {
	if results == nil {
		return []Result{}
	}
	if ownerID == "" {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.SubmittedBy == ownerID {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
