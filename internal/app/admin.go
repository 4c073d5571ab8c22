package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"safevoice/api/internal/domain"
	"safevoice/api/internal/email"
	"safevoice/api/internal/search"
	"safevoice/api/internal/store"
	"safevoice/api/internal/util"
)

type AccessRequestInput struct {
	RequestType      string `json:"request_type" validate:"required,oneof=individual organization"`
	OrganizationName string `json:"organization_name" validate:"required_if=RequestType organization,max=200"`
	Reason           string `json:"reason" validate:"required,max=2000"`
}

func (s *Service) Analytics(ctx context.Context, session Session) (domain.Summary, error) {
	if !session.IsAdmin() {
		return domain.Summary{}, forbidden("Analytics are available to reviewers only")
	}
	return s.store.ReportSummary(ctx)
}

// SearchReports is a premium reviewer feature.
func (s *Service) SearchReports(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if !session.IsAdmin() || session.Plan != domain.PlanPremium {
		return search.Response{}, forbidden("Search requires a premium reviewer plan")
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError("q", "q is required")
	}
	if q.Status != "" && !domain.Status(q.Status).Valid() {
		return search.Response{}, validationError("status", "status is invalid")
	}
	if q.Category != "" && !domain.Category(q.Category).Valid() {
		return search.Response{}, validationError("category", "category is invalid")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// RequestAdminAccess files a request to become a reviewer. One pending
// request per user.
func (s *Service) RequestAdminAccess(ctx context.Context, session Session, input AccessRequestInput) (domain.AccessRequest, error) {
	if session.IsAdmin() {
		return domain.AccessRequest{}, domainError(http.StatusConflict, "CONFLICT", "Already a reviewer", nil)
	}
	input.RequestType = strings.ToLower(strings.TrimSpace(input.RequestType))
	input.OrganizationName = strings.TrimSpace(input.OrganizationName)
	input.Reason = strings.TrimSpace(input.Reason)
	if err := s.validate.Struct(input); err != nil {
		return domain.AccessRequest{}, validatorError(err)
	}

	request := store.AccessRequest{
		ID:               util.NewID("acr"),
		UserID:           session.UserID,
		UserEmail:        session.Email,
		RequestType:      input.RequestType,
		OrganizationName: input.OrganizationName,
		Reason:           input.Reason,
		Status:           string(domain.AccessPending),
		CreatedAt:        s.now(),
	}
	if err := s.store.InsertAccessRequest(ctx, request); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			return domain.AccessRequest{}, domainError(http.StatusConflict, "CONFLICT", "A request is already pending", nil)
		}
		return domain.AccessRequest{}, err
	}
	slog.Info("admin access requested", "request_id", request.ID, "user_id", session.UserID, "type", request.RequestType)
	return request.Domain(), nil
}

func (s *Service) ListAccessRequests(ctx context.Context, session Session, status string) ([]domain.AccessRequest, error) {
	if !s.isSuperuser(session) {
		return nil, forbidden("Superuser access required")
	}
	status = strings.TrimSpace(status)
	switch domain.AccessRequestStatus(status) {
	case "", domain.AccessPending, domain.AccessApproved, domain.AccessRejected:
	default:
		return nil, validationError("status", "status is invalid")
	}
	rows, err := s.store.ListAccessRequests(ctx, status)
	if err != nil {
		return nil, err
	}
	requests := make([]domain.AccessRequest, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, row.Domain())
	}
	return requests, nil
}

// ReviewAccessRequest approves or rejects a pending request. Approval
// promotes the requester to admin.
func (s *Service) ReviewAccessRequest(ctx context.Context, session Session, requestID, action string) (domain.AccessRequest, error) {
	if !s.isSuperuser(session) {
		return domain.AccessRequest{}, forbidden("Superuser access required")
	}
	var status domain.AccessRequestStatus
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve":
		status = domain.AccessApproved
	case "reject":
		status = domain.AccessRejected
	default:
		return domain.AccessRequest{}, validationError("action", "action must be approve or reject")
	}

	ok, err := s.store.ReviewAccessRequest(ctx, requestID, string(status), session.UserID)
	if err != nil {
		return domain.AccessRequest{}, err
	}
	request, err := s.store.GetAccessRequest(ctx, requestID)
	if err != nil {
		return domain.AccessRequest{}, err
	}
	if !ok {
		return domain.AccessRequest{}, domainError(http.StatusConflict, "CONFLICT", "Request was already reviewed", map[string]any{"request": request.Domain()})
	}
	slog.Info("admin access reviewed", "request_id", requestID, "status", status, "reviewer", session.UserID)

	if s.mail != nil && s.mail.IsConfigured() && request.UserEmail != "" {
		requester, _ := s.store.GetUserByID(ctx, request.UserID)
		go func() {
			if err := s.mail.SendAccessDecision(request.UserEmail, email.AccessDecisionData{
				UserName: requester.DisplayName,
				Approved: status == domain.AccessApproved,
			}); err != nil {
				slog.Warn("send access decision email", "request_id", requestID, "error", err)
			}
		}()
	}
	return request.Domain(), nil
}
