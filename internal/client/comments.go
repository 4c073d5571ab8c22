package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"safevoice/api/internal/domain"
	"safevoice/api/internal/policy"
)

const maxCommentLength = 5000

// CommentThread holds the messages of one report, oldest first.
type CommentThread struct {
	reportID  string
	transport *Transport
	session   *SessionManager
	reports   *ReportStore
	log       *slog.Logger

	mu          sync.Mutex
	comments    []domain.Comment
	epoch       uint64
	unsubscribe func()
}

func newCommentThread(reportID string, transport *Transport, session *SessionManager, reports *ReportStore, log *slog.Logger) *CommentThread {
	t := &CommentThread{reportID: reportID, transport: transport, session: session, reports: reports, log: log}
	t.unsubscribe = session.OnLogout(t.invalidate)
	return t
}

func (t *CommentThread) ReportID() string { return t.reportID }

func (t *CommentThread) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.comments = nil
	t.epoch++
}

// Close detaches the thread from the session.
func (t *CommentThread) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.invalidate()
}

// Comments returns a copy of the cached thread.
func (t *CommentThread) Comments() []domain.Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Comment, len(t.comments))
	copy(out, t.comments)
	return out
}

func (t *CommentThread) path() string {
	return "/api/reports/" + url.PathEscape(t.reportID) + "/comments"
}

// visible drops internal notes for anyone but an admin. The server already
// does this; the thread does it again.
func (t *CommentThread) visible(comments []domain.Comment) []domain.Comment {
	if t.session.IsAdmin() {
		return comments
	}
	out := comments[:0]
	for _, comment := range comments {
		if comment.IsInternal {
			t.log.Warn("dropping internal comment delivered to non-admin", "report_id", t.reportID, "comment_id", comment.ID)
			continue
		}
		out = append(out, comment)
	}
	return out
}

func sortComments(comments []domain.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].SentAt.Before(comments[j].SentAt)
	})
}

// Fetch replaces the cached thread with the server's.
func (t *CommentThread) Fetch(ctx context.Context) ([]domain.Comment, error) {
	t.mu.Lock()
	epoch := t.epoch
	t.mu.Unlock()

	var resp struct {
		Comments []domain.Comment `json:"comments"`
	}
	if err := t.transport.Do(ctx, http.MethodGet, t.path(), nil, &resp); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	comments := t.visible(resp.Comments)
	sortComments(comments)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch {
		return nil, &AuthError{Reason: "session changed"}
	}
	t.comments = comments
	out := make([]domain.Comment, len(comments))
	copy(out, comments)
	return out, nil
}

// allowed checks the cached report, if any, against the action table. An
// uncached report is left to the server.
func (t *CommentThread) allowed() error {
	report, ok := t.reports.Get(t.reportID)
	if !ok {
		return nil
	}
	actor, ok := t.reports.actor(report)
	if !ok {
		return &AuthError{Reason: "not signed in"}
	}
	if !policy.Allowed(report.Status, actor, policy.ActionComment) {
		message := "you cannot comment on this report"
		if !policy.CanComment(report.Status) {
			message = fmt.Sprintf("comments are closed on %s reports", report.Status)
		}
		return &PermissionError{Action: "comment", Status: report.Status, Message: message}
	}
	return nil
}

// Post sends a message. internal is honoured only for admins. The new
// comment is appended to the cache rather than re-fetching the thread.
func (t *CommentThread) Post(ctx context.Context, message string, internal bool) (domain.Comment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.Comment{}, &ValidationError{Field: "message", Message: "message is required"}
	}
	if utf8.RuneCountInString(message) > maxCommentLength {
		return domain.Comment{}, &ValidationError{Field: "message", Message: "message is too long"}
	}
	if internal && !t.session.IsAdmin() {
		internal = false
	}
	if err := t.allowed(); err != nil {
		return domain.Comment{}, err
	}

	t.mu.Lock()
	epoch := t.epoch
	t.mu.Unlock()

	body := map[string]any{"message": message, "is_internal": internal}
	var comment domain.Comment
	if err := t.transport.Do(ctx, http.MethodPost, t.path(), body, &comment); err != nil {
		return domain.Comment{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch {
		return comment, nil
	}
	if len(t.visible([]domain.Comment{comment})) == 0 {
		return comment, nil
	}
	for _, existing := range t.comments {
		if existing.ID == comment.ID {
			return comment, nil
		}
	}
	t.comments = append(t.comments, comment)
	sortComments(t.comments)
	return comment, nil
}
