package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"safevoice/api/internal/authpw"
	"safevoice/api/internal/blob"
	"safevoice/api/internal/domain"
	"safevoice/api/internal/email"
	"safevoice/api/internal/export"
	"safevoice/api/internal/policy"
	"safevoice/api/internal/search"
	"safevoice/api/internal/store"
	"safevoice/api/internal/util"
)

type CreateReportInput struct {
	Title        string       `json:"title" validate:"required,max=200"`
	Category     string       `json:"category" validate:"required,oneof=abuse corruption harassment other"`
	Description  string       `json:"description" validate:"required,max=10000"`
	PriorityFlag bool         `json:"priority_flag"`
	IsAnonymous  bool         `json:"is_anonymous"`
	Attachment   *blob.Upload `json:"-"`
}

type StatusChangeView struct {
	From      domain.Status `json:"from"`
	To        domain.Status `json:"to"`
	ChangedBy string        `json:"changed_by"`
	ChangedAt time.Time     `json:"changed_at"`
}

// present converts a row for one viewer: anonymous submitters are hidden
// from everyone but the owner, attachments become short-lived URLs.
func (s *Service) present(ctx context.Context, session Session, row store.Report) domain.Report {
	report := row.Domain()
	if row.IsAnonymous && row.SubmittedBy != session.UserID {
		report.SubmittedBy = nil
	}
	if row.Attachment != "" && s.blobs != nil {
		if url, err := s.blobs.PresignedURL(ctx, row.Attachment); err == nil {
			report.Attachment = url
		} else {
			slog.Warn("presign attachment", "report_id", row.ID, "error", err)
		}
	}
	return report
}

// loadVisible fetches a report and hides it from viewers who are neither
// its owner nor an admin.
func (s *Service) loadVisible(ctx context.Context, session Session, reportID string) (store.Report, error) {
	row, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Report{}, notFound()
		}
		return store.Report{}, err
	}
	if !policy.Allowed(domain.Status(row.Status), session.actor(row), policy.ActionView) {
		return store.Report{}, notFound()
	}
	return row, nil
}

// ListReports scopes users to their own submissions; admins see everything.
func (s *Service) ListReports(ctx context.Context, session Session, status string) ([]domain.Report, error) {
	status = strings.TrimSpace(status)
	if status != "" && !domain.Status(status).Valid() {
		return nil, validationError("status", "status is invalid")
	}
	ownerID := session.UserID
	if session.IsAdmin() {
		ownerID = ""
	}
	rows, err := s.store.ListReports(ctx, ownerID, status)
	if err != nil {
		return nil, err
	}
	reports := make([]domain.Report, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, s.present(ctx, session, row))
	}
	return reports, nil
}

func (s *Service) GetReport(ctx context.Context, session Session, reportID string) (domain.Report, error) {
	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	return s.present(ctx, session, row), nil
}

func (s *Service) CreateReport(ctx context.Context, session Session, input CreateReportInput) (domain.Report, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = strings.ToLower(strings.TrimSpace(input.Category))
	if err := s.validate.Struct(input); err != nil {
		return domain.Report{}, validatorError(err)
	}

	row := store.Report{
		ID:           util.NewID("rep"),
		Title:        input.Title,
		Category:     input.Category,
		Description:  input.Description,
		PriorityFlag: input.PriorityFlag,
		IsAnonymous:  input.IsAnonymous,
		IsPremium:    session.Plan == domain.PlanPremium,
		SubmittedBy:  session.UserID,
		Token:        util.NewSecret(16),
	}

	if input.Attachment != nil {
		if s.blobs == nil {
			return domain.Report{}, validationError("file", "attachments are not accepted")
		}
		input.Attachment.ReportID = row.ID
		key, err := s.blobs.Put(ctx, *input.Attachment)
		if err != nil {
			switch {
			case errors.Is(err, blob.ErrTooLarge):
				return domain.Report{}, validationError("file", "file is too large")
			case errors.Is(err, blob.ErrUnsupportedType):
				return domain.Report{}, validationError("file", "file type is not allowed")
			}
			return domain.Report{}, err
		}
		row.Attachment = key
	}

	inserted, err := s.store.InsertReport(ctx, row)
	if err != nil {
		if row.Attachment != "" {
			_ = s.blobs.Remove(ctx, row.Attachment)
		}
		return domain.Report{}, err
	}
	inserted.SubmitterName = session.UserName

	s.indexReport(inserted)
	s.notifyAdmins(ctx, inserted, fmt.Sprintf("New %s report submitted: %s", inserted.Category, inserted.Title))
	slog.Info("report submitted", "report_id", inserted.ID, "category", inserted.Category, "priority", inserted.PriorityFlag)
	return s.present(ctx, session, inserted), nil
}

// TransitionStatus applies an admin status change. expected, when set, is
// the status the caller believes the report is in.
func (s *Service) TransitionStatus(ctx context.Context, session Session, reportID, next, expected string) (domain.Report, error) {
	if !session.IsAdmin() {
		return domain.Report{}, forbidden("Only reviewers can change report status")
	}
	to := domain.Status(strings.TrimSpace(next))
	if !to.Valid() {
		return domain.Report{}, validationError("status", "status is invalid")
	}

	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	from := domain.Status(row.Status)
	if expected != "" && domain.Status(expected) != from {
		return domain.Report{}, reportConflict("CONFLICT", "Report status changed", s.present(ctx, session, row))
	}
	if !policy.CanTransition(from, to) {
		return domain.Report{}, reportConflict("INVALID_TRANSITION",
			fmt.Sprintf("Cannot move report from %s to %s", from, to), s.present(ctx, session, row))
	}

	updated, err := s.applyStatus(ctx, session, row, to)
	if err != nil {
		return domain.Report{}, err
	}

	s.notifyOwnerOfStatus(ctx, updated)
	return s.present(ctx, session, updated), nil
}

// CancelReport withdraws a report on behalf of its owner.
func (s *Service) CancelReport(ctx context.Context, session Session, reportID string) (domain.Report, error) {
	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	actor := session.actor(row)
	if !actor.IsOwner {
		return domain.Report{}, forbidden("Only the submitter can cancel a report")
	}
	if !policy.Allowed(domain.Status(row.Status), actor, policy.ActionCancel) {
		return domain.Report{}, reportConflict("INVALID_TRANSITION",
			fmt.Sprintf("Cannot cancel a %s report", row.Status), s.present(ctx, session, row))
	}

	updated, err := s.applyStatus(ctx, session, row, domain.StatusCancelled)
	if err != nil {
		return domain.Report{}, err
	}
	return s.present(ctx, session, updated), nil
}

// applyStatus performs the compare-and-swap. A lost race returns CONFLICT
// with whatever the winner left behind.
func (s *Service) applyStatus(ctx context.Context, session Session, row store.Report, to domain.Status) (store.Report, error) {
	ok, err := s.store.UpdateReportStatus(ctx, row.ID, row.Status, string(to), session.UserID)
	if err != nil {
		return store.Report{}, err
	}
	current, err := s.store.GetReport(ctx, row.ID)
	if err != nil {
		return store.Report{}, err
	}
	if !ok {
		slog.Info("status change lost race", "report_id", row.ID, "expected", row.Status, "current", current.Status)
		return store.Report{}, reportConflict("CONFLICT", "Report status changed", s.present(ctx, session, current))
	}
	slog.Info("report status changed", "report_id", row.ID, "from", row.Status, "to", to, "by", session.UserID)
	s.indexReport(current)
	return current, nil
}

func (s *Service) DeleteReport(ctx context.Context, session Session, reportID string) error {
	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return err
	}
	actor := session.actor(row)
	if !actor.IsOwner {
		return forbidden("Only the submitter can delete a report")
	}
	if !policy.Allowed(domain.Status(row.Status), actor, policy.ActionDelete) {
		return reportConflict("CONFLICT", "Resolved reports are kept for audit", s.present(ctx, session, row))
	}

	if err := s.store.DeleteReport(ctx, row.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.store.GetReport(ctx, row.ID)
			if getErr != nil {
				return notFound()
			}
			return reportConflict("CONFLICT", "Resolved reports are kept for audit", s.present(ctx, session, current))
		}
		return err
	}

	if row.Attachment != "" && s.blobs != nil {
		if err := s.blobs.Remove(ctx, row.Attachment); err != nil {
			slog.Warn("remove attachment", "report_id", row.ID, "error", err)
		}
	}
	if s.search != nil {
		s.search.DeleteReport(row.ID)
	}
	slog.Info("report deleted", "report_id", row.ID)
	return nil
}

func (s *Service) Certificate(ctx context.Context, session Session, reportID string) (*export.Result, error) {
	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return nil, err
	}
	if !policy.Allowed(domain.Status(row.Status), session.actor(row), policy.ActionCertificate) {
		return nil, domainError(http.StatusConflict, "NOT_RESOLVED", "Certificates are issued for resolved reports only", nil)
	}
	if s.certs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Certificate export is not configured", nil)
	}

	report := row.Domain()
	if row.IsAnonymous {
		report.SubmittedBy = nil
	}
	result, err := s.certs.Certificate(ctx, report)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrNotResolved):
			return nil, domainError(http.StatusConflict, "NOT_RESOLVED", "Certificates are issued for resolved reports only", nil)
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is unavailable", nil)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) ReportHistory(ctx context.Context, session Session, reportID string) ([]StatusChangeView, error) {
	row, err := s.loadVisible(ctx, session, reportID)
	if err != nil {
		return nil, err
	}
	changes, err := s.store.ListStatusHistory(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	views := make([]StatusChangeView, 0, len(changes))
	for _, change := range changes {
		changedBy := "Reviewer"
		if change.ChangedBy == row.SubmittedBy {
			changedBy = "Submitter"
		}
		views = append(views, StatusChangeView{
			From:      domain.Status(change.FromStatus),
			To:        domain.Status(change.ToStatus),
			ChangedBy: changedBy,
			ChangedAt: change.ChangedAt,
		})
	}
	return views, nil
}

func (s *Service) indexReport(row store.Report) {
	if s.search == nil {
		return
	}
	s.search.IndexReport(searchRecord(row))
}

func searchRecord(row store.Report) search.ReportRecord {
	return search.ReportRecord{
		ID:           row.ID,
		Title:        row.Title,
		Description:  row.Description,
		Category:     row.Category,
		Status:       row.Status,
		SubmittedBy:  row.SubmittedBy,
		PriorityFlag: row.PriorityFlag,
		SubmittedAt:  row.SubmittedAt.Unix(),
	}
}

func (s *Service) notifyOwnerOfStatus(ctx context.Context, row store.Report) {
	s.notify(ctx, row.SubmittedBy, row.ID, fmt.Sprintf("Your report %q is now %s", row.Title, strings.ReplaceAll(row.Status, "_", " ")))

	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	owner, err := s.store.GetUserByID(ctx, row.SubmittedBy)
	if err != nil || owner.Email == "" {
		return
	}
	go func() {
		if err := s.mail.SendStatusChanged(owner.Email, email.StatusChangedData{
			UserName:    owner.DisplayName,
			ReportTitle: row.Title,
			Status:      row.Status,
		}); err != nil {
			slog.Warn("send status email", "report_id", row.ID, "error", err)
		}
	}()
}

func validatorError(err error) error {
	fields := authpw.FieldErrors(err)
	if fields == nil {
		return err
	}
	return fieldsError(fields)
}
