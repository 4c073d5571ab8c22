package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	SubmittedBy string `json:"-"`
}

// Query describes a search request. OwnerID restricts hits to one
// submitter's reports; empty means every report.
type Query struct {
	Text     string
	Status   string
	Category string
	OwnerID  string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ReportRecord is the data we index for a report.
type ReportRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Status       string `json:"status"`
	SubmittedBy  string `json:"submittedBy"`
	PriorityFlag bool   `json:"priorityFlag"`
	SubmittedAt  int64  `json:"submittedAt"`
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
