package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"safevoice/api/internal/domain"
)

// MemoryStore keeps everything in process. It backs the API in local demo
// mode and in tests; semantics follow PostgresStore.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	last          time.Time
	users         map[string]User
	refresh       map[string]refreshRow
	revoked       map[string]time.Time
	reports       map[string]Report
	history       []StatusChange
	comments      []Comment
	notifications []Notification
	requests      map[string]AccessRequest
}

type refreshRow struct {
	userID    string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		users:    map[string]User{},
		refresh:  map[string]refreshRow{},
		revoked:  map[string]time.Time{},
		reports:  map[string]Report{},
		requests: map[string]AccessRequest{},
	}
}

// tick returns a strictly increasing timestamp so ordering by time is stable.
func (m *MemoryStore) tick() time.Time {
	now := m.now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return errors.New("create user: email exists")
		}
	}
	now := m.tick()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (m *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *MemoryStore) UpdateUserRole(_ context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	user.UpdatedAt = m.tick()
	m.users[userID] = user
	return nil
}

// UpdateUserPlan is used by tests and the demo seed; plans are otherwise
// managed outside this service.
func (m *MemoryStore) UpdateUserPlan(_ context.Context, userID, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Plan = plan
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = refreshRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.refresh[tokenHash]
	if !ok || !row.expiresAt.After(m.now()) {
		return User{}, sql.ErrNoRows
	}
	user, ok := m.users[row.userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *MemoryStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *MemoryStore) withSubmitter(report Report) Report {
	if user, ok := m.users[report.SubmittedBy]; ok {
		report.SubmitterName = user.DisplayName
	}
	return report
}

func (m *MemoryStore) InsertReport(_ context.Context, report Report) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.ID]; ok {
		return Report{}, errors.New("insert report: duplicate id")
	}
	now := m.tick()
	report.Status = string(domain.StatusPending)
	report.SubmittedAt, report.UpdatedAt = now, now
	m.reports[report.ID] = report
	return report, nil
}

func (m *MemoryStore) GetReport(_ context.Context, reportID string) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[reportID]
	if !ok {
		return Report{}, sql.ErrNoRows
	}
	return m.withSubmitter(report), nil
}

func (m *MemoryStore) ListReports(_ context.Context, ownerID, status string) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reports := make([]Report, 0)
	for _, report := range m.reports {
		if ownerID != "" && report.SubmittedBy != ownerID {
			continue
		}
		if status != "" && report.Status != status {
			continue
		}
		reports = append(reports, m.withSubmitter(report))
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].SubmittedAt.Equal(reports[j].SubmittedAt) {
			return reports[i].ID > reports[j].ID
		}
		return reports[i].SubmittedAt.After(reports[j].SubmittedAt)
	})
	return reports, nil
}

func (m *MemoryStore) UpdateReportStatus(_ context.Context, reportID, from, to, changedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[reportID]
	if !ok || report.Status != from {
		return false, nil
	}
	now := m.tick()
	report.Status = to
	report.UpdatedAt = now
	m.reports[reportID] = report
	m.history = append(m.history, StatusChange{ReportID: reportID, FromStatus: from, ToStatus: to, ChangedBy: changedBy, ChangedAt: now})
	return true, nil
}

func (m *MemoryStore) ListStatusHistory(_ context.Context, reportID string) ([]StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changes := make([]StatusChange, 0)
	for _, change := range m.history {
		if change.ReportID == reportID {
			changes = append(changes, change)
		}
	}
	return changes, nil
}

func (m *MemoryStore) DeleteReport(_ context.Context, reportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[reportID]
	if !ok || report.Status == string(domain.StatusResolved) {
		return sql.ErrNoRows
	}
	delete(m.reports, reportID)
	comments := m.comments[:0]
	for _, comment := range m.comments {
		if comment.ReportID != reportID {
			comments = append(comments, comment)
		}
	}
	m.comments = comments
	for i := range m.notifications {
		if m.notifications[i].ReportID == reportID {
			m.notifications[i].ReportID = ""
		}
	}
	return nil
}

func (m *MemoryStore) InsertComment(_ context.Context, comment Comment) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[comment.ReportID]; !ok {
		return Comment{}, errors.New("insert comment: report not found")
	}
	if comment.IsInternal && comment.SenderRole != string(domain.RoleAdmin) {
		return Comment{}, errors.New("insert comment: internal comments require admin sender")
	}
	comment.SentAt = m.tick()
	m.comments = append(m.comments, comment)
	return comment, nil
}

func (m *MemoryStore) ListComments(_ context.Context, reportID string, includeInternal bool) ([]Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comments := make([]Comment, 0)
	for _, comment := range m.comments {
		if comment.ReportID != reportID || (comment.IsInternal && !includeInternal) {
			continue
		}
		comments = append(comments, comment)
	}
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].SentAt.Before(comments[j].SentAt) })
	return comments, nil
}

func (m *MemoryStore) InsertNotification(_ context.Context, notification Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification.CreatedAt = m.tick()
	m.notifications = append(m.notifications, notification)
	return nil
}

func (m *MemoryStore) ListAdminIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for _, user := range m.users {
		if user.Role == string(domain.RoleAdmin) {
			ids = append(ids, user.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]Notification, 0)
	unread := 0
	for i := len(m.notifications) - 1; i >= 0; i-- {
		item := m.notifications[i]
		if item.UserID != userID {
			continue
		}
		if !item.IsRead {
			unread++
		}
		if len(items) < limit {
			if report, ok := m.reports[item.ReportID]; ok {
				item.ReportTitle = report.Title
			}
			items = append(items, item)
		}
	}
	return items, unread, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, userID, notificationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == notificationID && m.notifications[i].UserID == userID {
			m.notifications[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var updated int64
	for i := range m.notifications {
		if m.notifications[i].UserID == userID && !m.notifications[i].IsRead {
			m.notifications[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (m *MemoryStore) ReportSummary(context.Context) (domain.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := domain.Summary{
		ByStatus:   map[domain.Status]int{},
		ByCategory: map[domain.Category]int{},
	}
	for _, report := range m.reports {
		summary.Total++
		summary.ByStatus[domain.Status(report.Status)]++
		summary.ByCategory[domain.Category(report.Category)]++
		if report.PriorityFlag {
			summary.PriorityCount++
		}
		if report.IsAnonymous {
			summary.AnonymousCount++
		}
	}
	return summary, nil
}

func (m *MemoryStore) InsertAccessRequest(_ context.Context, request AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.UserID == request.UserID && existing.Status == string(domain.AccessPending) {
			return ErrDuplicatePending
		}
	}
	request.Status = string(domain.AccessPending)
	request.CreatedAt = m.tick()
	if user, ok := m.users[request.UserID]; ok {
		request.UserEmail = user.Email
	}
	m.requests[request.ID] = request
	return nil
}

func (m *MemoryStore) GetAccessRequest(_ context.Context, requestID string) (AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok {
		return AccessRequest{}, sql.ErrNoRows
	}
	return request, nil
}

func (m *MemoryStore) ListAccessRequests(_ context.Context, status string) ([]AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]AccessRequest, 0)
	for _, request := range m.requests {
		if status == "" || request.Status == status {
			requests = append(requests, request)
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.Before(requests[j].CreatedAt) })
	return requests, nil
}

func (m *MemoryStore) ReviewAccessRequest(_ context.Context, requestID, status, reviewedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok || request.Status != string(domain.AccessPending) {
		return false, nil
	}
	now := m.tick()
	request.Status = status
	request.ReviewedBy = reviewedBy
	request.ReviewedAt = &now
	m.requests[requestID] = request
	if status == string(domain.AccessApproved) {
		if user, ok := m.users[request.UserID]; ok {
			user.Role = string(domain.RoleAdmin)
			user.UpdatedAt = now
			m.users[user.ID] = user
		}
	}
	return true, nil
}
