package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"safevoice/api/internal/authpw"
	"safevoice/api/internal/domain"
	"safevoice/api/internal/policy"
)

// ReportDraft is a submission the user is still editing. The store never
// modifies it, so a failed create can be resubmitted as is.
type ReportDraft struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Category     domain.Category `json:"category" validate:"required,oneof=abuse corruption harassment other"`
	Description  string          `json:"description" validate:"required,max=10000"`
	PriorityFlag bool            `json:"priority_flag"`
	IsAnonymous  bool            `json:"is_anonymous"`
	Attachment   *Attachment     `json:"-"`
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReportStore caches reports by id and reconciles every mutation with the
// server's answer. At most one mutation per report is in flight.
type ReportStore struct {
	transport *Transport
	session   *SessionManager
	validate  *validator.Validate
	log       *slog.Logger

	mu        sync.Mutex
	reports   map[string]domain.Report
	busy      map[string]struct{}
	ascending bool
	epoch     uint64
}

func newReportStore(transport *Transport, session *SessionManager, log *slog.Logger) *ReportStore {
	s := &ReportStore{
		transport: transport,
		session:   session,
		validate:  newDraftValidator(),
		log:       log,
		reports:   map[string]domain.Report{},
		busy:      map[string]struct{}{},
	}
	session.OnLogout(s.invalidate)
	return s
}

func newDraftValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// invalidate drops everything cached for the previous session. Responses to
// requests started before it are discarded.
func (s *ReportStore) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = map[string]domain.Report{}
	s.epoch++
}

func (s *ReportStore) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// put writes a server report unless the session changed since epoch.
func (s *ReportStore) put(epoch uint64, report domain.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.reports[report.ID] = report
}

// SetAscending toggles the sort order of Reports. Nothing is re-fetched.
func (s *ReportStore) SetAscending(ascending bool) {
	s.mu.Lock()
	s.ascending = ascending
	s.mu.Unlock()
}

// Reports returns the cached collection sorted by submission time.
func (s *ReportStore) Reports() []domain.Report {
	s.mu.Lock()
	reports := make([]domain.Report, 0, len(s.reports))
	for _, report := range s.reports {
		reports = append(reports, report)
	}
	ascending := s.ascending
	s.mu.Unlock()
	SortReports(reports, ascending)
	return reports
}

// SortReports orders by submitted_at, newest first unless ascending. Ties
// break on id so the order is stable across calls.
func SortReports(reports []domain.Report, ascending bool) {
	sort.Slice(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			if ascending {
				return a.SubmittedAt.Before(b.SubmittedAt)
			}
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		if ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

func (s *ReportStore) Get(reportID string) (domain.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[reportID]
	return report, ok
}

// List fetches the role-scoped collection. With a status filter only that
// slice of the cache is replaced.
func (s *ReportStore) List(ctx context.Context, status domain.Status) ([]domain.Report, error) {
	path := "/api/reports"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	epoch := s.currentEpoch()
	var resp struct {
		Reports []domain.Report `json:"reports"`
	}
	if err := s.transport.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		for id, cached := range s.reports {
			if status == "" || cached.Status == status {
				delete(s.reports, id)
			}
		}
		for _, report := range resp.Reports {
			s.reports[report.ID] = report
		}
	}
	ascending := s.ascending
	s.mu.Unlock()

	SortReports(resp.Reports, ascending)
	return resp.Reports, nil
}

// Fetch loads one report into the cache.
func (s *ReportStore) Fetch(ctx context.Context, reportID string) (domain.Report, error) {
	epoch := s.currentEpoch()
	var report domain.Report
	if err := s.transport.Do(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(reportID), nil, &report); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			s.forget(epoch, reportID)
		}
		return domain.Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Report{}, err
	}
	s.put(epoch, report)
	return report, nil
}

func (s *ReportStore) forget(epoch uint64, reportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		delete(s.reports, reportID)
	}
}

func (s *ReportStore) cachedOrFetch(ctx context.Context, reportID string) (domain.Report, error) {
	if report, ok := s.Get(reportID); ok {
		return report, nil
	}
	return s.Fetch(ctx, reportID)
}

// Create validates the draft locally and submits it as multipart form data.
func (s *ReportStore) Create(ctx context.Context, draft ReportDraft) (domain.Report, error) {
	clean := draft
	clean.Title = strings.TrimSpace(clean.Title)
	clean.Description = strings.TrimSpace(clean.Description)
	clean.Category = domain.Category(strings.ToLower(strings.TrimSpace(string(clean.Category))))
	if err := s.validate.Struct(clean); err != nil {
		return domain.Report{}, draftError(err)
	}
	if !s.session.IsAuthenticated() {
		return domain.Report{}, &AuthError{Reason: "not signed in"}
	}

	body, contentType, err := encodeDraft(clean)
	if err != nil {
		return domain.Report{}, err
	}
	epoch := s.currentEpoch()
	var created domain.Report
	if err := s.transport.DoMultipart(ctx, "/api/reports", body, contentType, &created); err != nil {
		return domain.Report{}, err
	}
	s.put(epoch, created)
	return created, nil
}

func draftError(err error) error {
	fields := authpw.FieldErrors(err)
	if len(fields) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &ValidationError{Field: names[0], Message: fields[names[0]], Fields: fields}
}

func encodeDraft(draft ReportDraft) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"title", draft.Title},
		{"category", string(draft.Category)},
		{"description", draft.Description},
		{"priority_flag", strconv.FormatBool(draft.PriorityFlag)},
		{"is_anonymous", strconv.FormatBool(draft.IsAnonymous)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("encode draft: %w", err)
		}
	}
	if draft.Attachment != nil {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, draft.Attachment.Filename))
		contentType := draft.Attachment.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(draft.Attachment.Data)
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("encode attachment: %w", err)
		}
		if _, err := part.Write(draft.Attachment.Data); err != nil {
			return nil, "", fmt.Errorf("encode attachment: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("encode draft: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func (s *ReportStore) actor(report domain.Report) (policy.Actor, bool) {
	session, ok := s.session.Current()
	if !ok {
		return policy.Actor{}, false
	}
	isOwner := report.SubmittedBy != nil && report.SubmittedBy.ID == session.UserID
	return policy.Actor{Role: session.Role, IsOwner: isOwner}, true
}

// Actions lists what the current session may do with a cached report, for
// enabling controls.
func (s *ReportStore) Actions(reportID string) []policy.Action {
	report, ok := s.Get(reportID)
	if !ok {
		return nil
	}
	actor, ok := s.actor(report)
	if !ok {
		return nil
	}
	return policy.Actions(report.Status, actor)
}

func (s *ReportStore) acquire(reportID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[reportID]; ok {
		return false
	}
	s.busy[reportID] = struct{}{}
	return true
}

func (s *ReportStore) release(reportID string) {
	s.mu.Lock()
	delete(s.busy, reportID)
	s.mu.Unlock()
}

// Busy reports whether a mutation on reportID is in flight.
func (s *ReportStore) Busy(reportID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[reportID]
	return ok
}

// TransitionStatus moves a report to next. The table is checked against the
// cached status first; the server's answer then replaces the cache, even
// when it disagrees with the request.
func (s *ReportStore) TransitionStatus(ctx context.Context, reportID string, next domain.Status) (domain.Report, error) {
	if s.Busy(reportID) {
		return domain.Report{}, ErrBusy
	}
	report, err := s.cachedOrFetch(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	actor, ok := s.actor(report)
	if !ok {
		return domain.Report{}, &AuthError{Reason: "not signed in"}
	}
	if !policy.Allowed(report.Status, actor, policy.ActionTransition) {
		return domain.Report{}, &PermissionError{Action: "transition", Status: report.Status, Message: "only reviewers can change status"}
	}
	if !policy.CanTransition(report.Status, next) {
		return domain.Report{}, &PermissionError{
			Action:  "transition",
			Status:  report.Status,
			Message: fmt.Sprintf("cannot move to %s", next),
		}
	}

	body := map[string]string{"status": string(next), "expected_status": string(report.Status)}
	return s.mutate(ctx, report, next, func(out *domain.Report) error {
		return s.transport.Do(ctx, http.MethodPatch, "/api/reports/"+url.PathEscape(reportID), body, out)
	})
}

// Cancel withdraws an own report.
func (s *ReportStore) Cancel(ctx context.Context, reportID string) (domain.Report, error) {
	if s.Busy(reportID) {
		return domain.Report{}, ErrBusy
	}
	report, err := s.cachedOrFetch(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	actor, ok := s.actor(report)
	if !ok {
		return domain.Report{}, &AuthError{Reason: "not signed in"}
	}
	if !policy.Allowed(report.Status, actor, policy.ActionCancel) {
		return domain.Report{}, &PermissionError{Action: "cancel", Status: report.Status, Message: "report cannot be cancelled"}
	}
	return s.mutate(ctx, report, domain.StatusCancelled, func(out *domain.Report) error {
		return s.transport.Do(ctx, http.MethodPost, "/api/reports/"+url.PathEscape(reportID)+"/cancel", nil, out)
	})
}

// mutate applies next provisionally, sends the request and reconciles.
func (s *ReportStore) mutate(ctx context.Context, report domain.Report, next domain.Status, send func(*domain.Report) error) (domain.Report, error) {
	if !s.acquire(report.ID) {
		return domain.Report{}, ErrBusy
	}
	defer s.release(report.ID)

	epoch := s.currentEpoch()
	provisional := report
	provisional.Status = next
	s.put(epoch, provisional)

	var confirmed domain.Report
	err := send(&confirmed)
	if err == nil {
		s.put(epoch, confirmed)
		if confirmed.Status != next {
			s.log.Warn("server settled report differently", "report_id", report.ID, "requested", next, "server", confirmed.Status)
			return confirmed, &ConflictError{Code: "CONFLICT", Message: "server kept a different status", Report: confirmed}
		}
		return confirmed, nil
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		s.log.Info("report conflict, taking server copy", "report_id", report.ID, "code", conflict.Code, "server", conflict.Report.Status)
		s.put(epoch, conflict.Report)
		return domain.Report{}, err
	}
	s.rollback(epoch, report, provisional)
	return domain.Report{}, err
}

// rollback restores previous if the cache still holds the provisional value.
func (s *ReportStore) rollback(epoch uint64, previous, provisional domain.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	if cached, ok := s.reports[previous.ID]; ok && cached.Status == provisional.Status {
		s.reports[previous.ID] = previous
	}
}

// Delete removes an own report. The cache entry goes only after the server
// confirms.
func (s *ReportStore) Delete(ctx context.Context, reportID string) error {
	if s.Busy(reportID) {
		return ErrBusy
	}
	report, err := s.cachedOrFetch(ctx, reportID)
	if err != nil {
		return err
	}
	actor, ok := s.actor(report)
	if !ok {
		return &AuthError{Reason: "not signed in"}
	}
	if !policy.Allowed(report.Status, actor, policy.ActionDelete) {
		return &PermissionError{Action: "delete", Status: report.Status, Message: "report cannot be deleted"}
	}
	if !s.acquire(reportID) {
		return ErrBusy
	}
	defer s.release(reportID)

	epoch := s.currentEpoch()
	err = s.transport.Do(ctx, http.MethodDelete, "/api/reports/"+url.PathEscape(reportID), nil, nil)
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.put(epoch, conflict.Report)
		}
		return err
	}
	s.forget(epoch, reportID)
	return nil
}

// Certificate downloads the PDF certificate of a resolved report.
func (s *ReportStore) Certificate(ctx context.Context, reportID string) ([]byte, string, error) {
	report, err := s.cachedOrFetch(ctx, reportID)
	if err != nil {
		return nil, "", err
	}
	actor, ok := s.actor(report)
	if !ok {
		return nil, "", &AuthError{Reason: "not signed in"}
	}
	if !policy.Allowed(report.Status, actor, policy.ActionCertificate) {
		return nil, "", &PermissionError{Action: "certificate", Status: report.Status, Message: "certificates are issued for resolved reports"}
	}
	data, filename, err := s.transport.Download(ctx, "/api/reports/"+url.PathEscape(reportID)+"/certificate")
	if err != nil {
		return nil, "", err
	}
	if filename == "" {
		filename = "certificate-" + reportID + ".pdf"
	}
	return data, filename, nil
}
