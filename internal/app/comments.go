package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"safevoice/api/internal/domain"
	"safevoice/api/internal/policy"
	"safevoice/api/internal/store"
	"safevoice/api/internal/util"
)

const maxCommentLength = 5000

// ListComments returns the thread oldest first. Internal notes are dropped
// for non-admin viewers in the query and again here.
func (s *Service) ListComments(ctx context.Context, session Session, reportID string) ([]domain.Comment, error) {
	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return nil, err
	}
	includeInternal := session.IsAdmin()
	rows, err := s.store.ListComments(ctx, row.ID, includeInternal)
	if err != nil {
		return nil, err
	}
	comments := make([]domain.Comment, 0, len(rows))
	for _, comment := range rows {
		if comment.IsInternal && !includeInternal {
			continue
		}
		comments = append(comments, comment.Domain())
	}
	return comments, nil
}

// PostComment adds a message to a report thread. The internal flag is
// ignored unless the sender is an admin.
func (s *Service) PostComment(ctx context.Context, session Session, reportID, message string, internal bool) (domain.Comment, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.Comment{}, validationError("message", "message is required")
	}
	if utf8.RuneCountInString(message) > maxCommentLength {
		return domain.Comment{}, validationError("message", fmt.Sprintf("message must be at most %d characters", maxCommentLength))
	}

	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return domain.Comment{}, err
	}
	actor := session.actor(row)
	status := domain.Status(row.Status)
	if !policy.Allowed(status, actor, policy.ActionComment) {
		return domain.Comment{}, forbidden(fmt.Sprintf("Comments are closed on %s reports", status))
	}
	if internal && !policy.Allowed(status, actor, policy.ActionMarkInternal) {
		internal = false
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:                util.NewID("cmt"),
		ReportID:          row.ID,
		SenderID:          session.UserID,
		SenderRole:        string(session.Role),
		IsInternal:        internal,
		DisplaySenderName: displaySenderName(session, row),
		Message:           message,
	})
	if err != nil {
		return domain.Comment{}, err
	}

	switch {
	case internal:
	case session.IsAdmin() && !actor.IsOwner:
		s.notify(ctx, row.SubmittedBy, row.ID, fmt.Sprintf("A reviewer replied on %q", row.Title))
	default:
		s.notifyAdmins(ctx, row, fmt.Sprintf("New message on %q", row.Title))
	}
	return comment.Domain(), nil
}

func displaySenderName(session Session, row store.Report) string {
	if session.IsAdmin() && row.SubmittedBy != session.UserID {
		return "Reviewer"
	}
	if row.IsAnonymous {
		return "Anonymous"
	}
	if session.UserName == "" {
		return "Submitter"
	}
	return session.UserName
}

func (s *Service) Notifications(ctx context.Context, session Session, limit int) (domain.NotificationFeed, error) {
	rows, unread, err := s.store.ListNotifications(ctx, session.UserID, limit)
	if err != nil {
		return domain.NotificationFeed{}, err
	}
	feed := domain.NotificationFeed{Unread: unread, Items: make([]domain.Notification, 0, len(rows))}
	for _, row := range rows {
		feed.Items = append(feed.Items, row.Domain())
	}
	return feed, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	ok, err := s.store.MarkNotificationRead(ctx, session.UserID, notificationID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound()
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// notify records a notification. Failures are logged, never surfaced: the
// action that triggered it already succeeded.
func (s *Service) notify(ctx context.Context, userID, reportID, message string) {
	if userID == "" {
		return
	}
	if err := s.store.InsertNotification(ctx, store.Notification{
		ID:       util.NewID("ntf"),
		UserID:   userID,
		ReportID: reportID,
		Message:  message,
	}); err != nil {
		slog.Warn("insert notification", "user_id", userID, "report_id", reportID, "error", err)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, row store.Report, message string) {
	adminIDs, err := s.store.ListAdminIDs(ctx)
	if err != nil {
		slog.Warn("list admins for notification", "report_id", row.ID, "error", err)
		return
	}
	for _, adminID := range adminIDs {
		if adminID == row.SubmittedBy {
			continue
		}
		s.notify(ctx, adminID, row.ID, message)
	}
}
