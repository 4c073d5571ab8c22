package client

import (
	"context"
	"net/http"
	"sync"

	"safevoice/api/internal/domain"
)

// Summarize folds a report collection into the analytics shape.
func Summarize(reports []domain.Report) domain.Summary {
	summary := domain.Summary{
		ByStatus:   map[domain.Status]int{},
		ByCategory: map[domain.Category]int{},
	}
	for _, report := range reports {
		summary.Total++
		summary.ByStatus[report.Status]++
		summary.ByCategory[report.Category]++
		if report.PriorityFlag {
			summary.PriorityCount++
		}
		if report.IsAnonymous {
			summary.AnonymousCount++
		}
	}
	return summary
}

// Analytics serves the local fold until the server summary arrives, then
// the server's numbers.
type Analytics struct {
	transport *Transport
	reports   *ReportStore

	mu     sync.Mutex
	server *domain.Summary
	epoch  uint64
}

func newAnalytics(transport *Transport, session *SessionManager, reports *ReportStore) *Analytics {
	a := &Analytics{transport: transport, reports: reports}
	session.OnLogout(func() {
		a.mu.Lock()
		a.server = nil
		a.epoch++
		a.mu.Unlock()
	})
	return a
}

// Summary returns the best summary available and whether it came from the
// server.
func (a *Analytics) Summary() (domain.Summary, bool) {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()
	if server != nil {
		return *server, true
	}
	return Summarize(a.reports.Reports()), false
}

// FetchServerSummary loads the authoritative summary. Reviewers only.
// A response that arrives after the session changed is dropped.
func (a *Analytics) FetchServerSummary(ctx context.Context) (domain.Summary, error) {
	a.mu.Lock()
	epoch := a.epoch
	a.mu.Unlock()

	var summary domain.Summary
	if err := a.transport.Do(ctx, http.MethodGet, "/api/analytics", nil, &summary); err != nil {
		return domain.Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Summary{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		return domain.Summary{}, &AuthError{Reason: "session changed"}
	}
	a.server = &summary
	return summary, nil
}
