package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks reports by ts_rank over the generated fts column.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where, args := pgWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM reports r WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT r.id, r.title,
			ts_headline('english', r.description, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			r.category, r.status, r.submitted_by
		FROM reports r
		WHERE %s
		ORDER BY ts_rank(r.fts, plainto_tsquery('english', $1)) DESC, r.submitted_at DESC
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Category, &r.Status, &r.SubmittedBy); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func pgWhere(q Query) (string, []any) {
	clauses := []string{"r.fts @@ plainto_tsquery('english', $1)"}
	args := []any{q.Text}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("r.submitted_by", q.OwnerID)
	add("r.status", q.Status)
	add("r.category", q.Category)
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every report for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ReportRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, category, status, submitted_by, priority_flag, submitted_at
		FROM reports
	`)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	defer rows.Close()

	records := make([]ReportRecord, 0)
	for rows.Next() {
		var r ReportRecord
		var submittedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Category, &r.Status, &r.SubmittedBy, &r.PriorityFlag, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if submittedAt.Valid {
			r.SubmittedAt = submittedAt.Time.Unix()
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
