package search

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeSearcher struct {
	results []Result
	total   int
	err     error
	last    Query
}

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.last = q
	return f.results, f.total, f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackToPgFTSWithoutMeili(t *testing.T) {
	pg := &fakeSearcher{
		results: []Result{{ID: "rep_1", Title: "Ledger", SubmittedBy: "usr_1"}},
		total:   1,
	}
	svc := NewService(nil, pg)

	resp := svc.Search(context.Background(), Query{Text: "ledger", Status: "pending"})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].ID != "rep_1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Query != "ledger" {
		t.Fatalf("expected query echoed, got %q", resp.Query)
	}
	if pg.last.Status != "pending" {
		t.Fatalf("expected status filter to reach the searcher, got %+v", pg.last)
	}
}

func TestServiceReturnsEmptyOnError(t *testing.T) {
	svc := NewService(nil, &fakeSearcher{err: errors.New("boom")})
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestScopeResultsDropsOtherOwners(t *testing.T) {
	results := []Result{
		{ID: "a", SubmittedBy: "usr_1"},
		{ID: "b", SubmittedBy: "usr_2"},
		{ID: "c", SubmittedBy: "usr_1"},
	}
	got := scopeResults(results, "usr_1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected scoped results: %+v", got)
	}
	if all := scopeResults(results, ""); len(all) != 3 {
		t.Fatalf("expected unscoped results untouched, got %d", len(all))
	}
	if empty := scopeResults(nil, "usr_1"); empty == nil {
		t.Fatal("expected non-nil slice")
	}
}

func TestBuildFilters(t *testing.T) {
	got := buildFilters(Query{OwnerID: "usr_1", Status: "resolved", Category: "abuse"})
	want := []string{`submittedBy = "usr_1"`, `status = "resolved"`, `category = "abuse"`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filters = %v, want %v", got, want)
	}
	if got := buildFilters(Query{}); len(got) != 0 {
		t.Fatalf("expected no filters, got %v", got)
	}
}

func TestPgWhereNumbersPlaceholders(t *testing.T) {
	where, args := pgWhere(Query{Text: "bribe", OwnerID: "usr_1", Category: "corruption"})
	wantWhere := "r.fts @@ plainto_tsquery('english', $1) AND r.submitted_by = $2 AND r.category = $3"
	if where != wantWhere {
		t.Fatalf("where = %q", where)
	}
	if !reflect.DeepEqual(args, []any{"bribe", "usr_1", "corruption"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestHitToResultPrefersFormattedFields(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":          raw("rep_9"),
		"title":       raw("Missing funds"),
		"description": raw("Funds went missing"),
		"category":    raw("corruption"),
		"status":      raw("under_review"),
		"submittedBy": raw("usr_3"),
		"_formatted":  raw(map[string]string{"description": "<mark>Funds</mark> went missing"}),
	}
	got := hitToResult(hit)
	if got.ID != "rep_9" || got.Title != "Missing funds" || got.Snippet != "<mark>Funds</mark> went missing" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.SubmittedBy != "usr_3" || got.Status != "under_review" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestQueryLimitDefaults(t *testing.T) {
	if (Query{}).limit() != 20 || (Query{Limit: 500}).limit() != 20 || (Query{Limit: 5}).limit() != 5 {
		t.Fatal("unexpected limit normalization")
	}
	if (Query{Offset: -3}).offset() != 0 {
		t.Fatal("expected negative offset clamped")
	}
}
