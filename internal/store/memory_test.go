package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func seedReport(t *testing.T, m *MemoryStore, id, owner string) Report {
	t.Helper()
	report, err := m.InsertReport(context.Background(), Report{ID: id, Title: id, Category: "abuse", SubmittedBy: owner})
	if err != nil {
		t.Fatalf("insert report: %v", err)
	}
	return report
}

func TestMemoryUpdateReportStatusIsCompareAndSwap(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedReport(t, m, "rpt_1", "usr_1")

	ok, err := m.UpdateReportStatus(ctx, "rpt_1", "pending", "under_review", "usr_admin")
	if err != nil || !ok {
		t.Fatalf("first swap = %v, %v; want true", ok, err)
	}
	ok, err = m.UpdateReportStatus(ctx, "rpt_1", "pending", "rejected", "usr_other")
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if ok {
		t.Fatal("swap from a stale status must not apply")
	}

	report, _ := m.GetReport(ctx, "rpt_1")
	if report.Status != "under_review" {
		t.Fatalf("status = %q, want under_review", report.Status)
	}
	history, _ := m.ListStatusHistory(ctx, "rpt_1")
	if len(history) != 1 || history[0].ChangedBy != "usr_admin" {
		t.Fatalf("history = %+v", history)
	}
}

func TestMemoryDeleteKeepsResolvedReports(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedReport(t, m, "rpt_1", "usr_1")
	seedReport(t, m, "rpt_2", "usr_1")
	for _, step := range [][2]string{{"pending", "under_review"}, {"under_review", "resolved"}} {
		if ok, err := m.UpdateReportStatus(ctx, "rpt_2", step[0], step[1], "usr_admin"); err != nil || !ok {
			t.Fatalf("advance %v: %v %v", step, ok, err)
		}
	}

	if err := m.DeleteReport(ctx, "rpt_2"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("delete resolved = %v, want sql.ErrNoRows", err)
	}
	if _, err := m.InsertComment(ctx, Comment{ID: "cmt_1", ReportID: "rpt_1", SenderRole: "user", Message: "hi"}); err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	if err := m.DeleteReport(ctx, "rpt_1"); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, err := m.GetReport(ctx, "rpt_1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("get deleted = %v", err)
	}
	comments, _ := m.ListComments(ctx, "rpt_1", true)
	if len(comments) != 0 {
		t.Fatalf("comments survived delete: %+v", comments)
	}
}

func TestMemoryListOrdersNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	seedReport(t, m, "rpt_a", "usr_1")
	seedReport(t, m, "rpt_b", "usr_2")
	seedReport(t, m, "rpt_c", "usr_1")

	all, _ := m.ListReports(context.Background(), "", "")
	if len(all) != 3 || all[0].ID != "rpt_c" || all[2].ID != "rpt_a" {
		t.Fatalf("order = %v", ids(all))
	}
	own, _ := m.ListReports(context.Background(), "usr_1", "")
	if len(own) != 2 {
		t.Fatalf("owner scope = %v", ids(own))
	}
}

func TestMemoryInternalCommentsFilteredAndAdminOnly(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedReport(t, m, "rpt_1", "usr_1")

	if _, err := m.InsertComment(ctx, Comment{ID: "c1", ReportID: "rpt_1", SenderRole: "user", IsInternal: true}); err == nil {
		t.Fatal("user-sent internal comment accepted")
	}
	for _, c := range []Comment{
		{ID: "c2", ReportID: "rpt_1", SenderRole: "user", Message: "public"},
		{ID: "c3", ReportID: "rpt_1", SenderRole: "admin", IsInternal: true, Message: "note"},
	} {
		if _, err := m.InsertComment(ctx, c); err != nil {
			t.Fatalf("insert %s: %v", c.ID, err)
		}
	}

	external, _ := m.ListComments(ctx, "rpt_1", false)
	if len(external) != 1 || external[0].ID != "c2" {
		t.Fatalf("external view = %+v", external)
	}
	all, _ := m.ListComments(ctx, "rpt_1", true)
	if len(all) != 2 {
		t.Fatalf("admin view = %+v", all)
	}
}

func ids(reports []Report) []string {
	out := make([]string, len(reports))
	for i, report := range reports {
		out[i] = report.ID
	}
	return out
}
