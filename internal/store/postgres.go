package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"safevoice/api/internal/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, display_name, email, password_hash, role, plan, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.Plan, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, plan)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.Plan)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.plan, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

const reportColumns = `
	r.id, r.title, r.category, r.description, r.status, r.priority_flag, r.is_anonymous,
	r.is_premium, r.submitted_by, u.display_name, r.submitted_at, r.updated_at, r.attachment, r.token`

func scanReport(row interface{ Scan(...any) error }) (Report, error) {
	var report Report
	err := row.Scan(
		&report.ID, &report.Title, &report.Category, &report.Description, &report.Status,
		&report.PriorityFlag, &report.IsAnonymous, &report.IsPremium, &report.SubmittedBy,
		&report.SubmitterName, &report.SubmittedAt, &report.UpdatedAt, &report.Attachment, &report.Token,
	)
	return report, err
}

func (s *PostgresStore) InsertReport(ctx context.Context, report Report) (Report, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (id, title, category, description, status, priority_flag, is_anonymous, is_premium, submitted_by, attachment, token)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8, $9, $10)
		RETURNING status, submitted_at, updated_at
	`, report.ID, report.Title, report.Category, report.Description, report.PriorityFlag,
		report.IsAnonymous, report.IsPremium, report.SubmittedBy, report.Attachment, report.Token)
	if err := row.Scan(&report.Status, &report.SubmittedAt, &report.UpdatedAt); err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports r JOIN users u ON u.id = r.submitted_by WHERE r.id = $1`, reportID)
	return scanReport(row)
}

// ListReports returns reports newest first. An empty ownerID lists every
// report; an empty status disables the status filter.
func (s *PostgresStore) ListReports(ctx context.Context, ownerID, status string) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports r
		JOIN users u ON u.id = r.submitted_by
		WHERE ($1 = '' OR r.submitted_by = $1)
			AND ($2 = '' OR r.status = $2)
		ORDER BY r.submitted_at DESC
	`, ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// UpdateReportStatus moves a report from one status to another only if it is
// still in the from status. It returns false when another writer got there
// first.
func (s *PostgresStore) UpdateReportStatus(ctx context.Context, reportID, from, to, changedBy string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE reports SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, reportID, from, to)
	if err != nil {
		return false, fmt.Errorf("update report status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update report status rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO report_status_history (report_id, from_status, to_status, changed_by)
		VALUES ($1, $2, $3, $4)
	`, reportID, from, to, changedBy); err != nil {
		return false, fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListStatusHistory(ctx context.Context, reportID string) ([]StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, from_status, to_status, changed_by, changed_at
		FROM report_status_history
		WHERE report_id=$1
		ORDER BY changed_at ASC, id ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	changes := make([]StatusChange, 0)
	for rows.Next() {
		var change StatusChange
		if err := rows.Scan(&change.ReportID, &change.FromStatus, &change.ToStatus, &change.ChangedBy, &change.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func (s *PostgresStore) DeleteReport(ctx context.Context, reportID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id=$1 AND status <> 'resolved'`, reportID)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, report_id, sender_id, sender_role, is_internal, display_sender_name, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sent_at
	`, comment.ID, comment.ReportID, comment.SenderID, comment.SenderRole, comment.IsInternal, comment.DisplaySenderName, comment.Message)
	if err := row.Scan(&comment.SentAt); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// ListComments returns a report's comments oldest first. Internal comments are
// included only when includeInternal is set.
func (s *PostgresStore) ListComments(ctx context.Context, reportID string, includeInternal bool) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, sender_id, sender_role, is_internal, display_sender_name, message, sent_at
		FROM comments
		WHERE report_id=$1 AND ($2::boolean OR NOT is_internal)
		ORDER BY sent_at ASC, id ASC
	`, reportID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.ReportID, &comment.SenderID, &comment.SenderRole, &comment.IsInternal, &comment.DisplaySenderName, &comment.Message, &comment.SentAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, report_id, message)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, notification.ID, notification.UserID, notification.ReportID, notification.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListAdminIDs returns every admin, the recipients of owner-side activity.
func (s *PostgresStore) ListAdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE role='admin' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, int, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.user_id, COALESCE(n.report_id, ''), COALESCE(r.title, ''), n.message, n.is_read, n.created_at
		FROM notifications n
		LEFT JOIN reports r ON r.id = n.report_id
		WHERE n.user_id=$1
		ORDER BY n.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.ReportID, &item.ReportTitle, &item.Message, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var unread int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT is_read`, userID).Scan(&unread); err != nil {
		return nil, 0, fmt.Errorf("count unread: %w", err)
	}
	return items, unread, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE user_id=$1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) ReportSummary(ctx context.Context) (domain.Summary, error) {
	summary := domain.Summary{
		ByStatus:   map[domain.Status]int{},
		ByCategory: map[domain.Category]int{},
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE priority_flag),
			COUNT(*) FILTER (WHERE is_anonymous)
		FROM reports
	`).Scan(&summary.Total, &summary.PriorityCount, &summary.AnonymousCount); err != nil {
		return domain.Summary{}, fmt.Errorf("summarize reports: %w", err)
	}

	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM reports GROUP BY status`, func(key string, count int) {
		summary.ByStatus[domain.Status(key)] = count
	}); err != nil {
		return domain.Summary{}, err
	}
	if err := s.groupCount(ctx, `SELECT category, COUNT(*) FROM reports GROUP BY category`, func(key string, count int) {
		summary.ByCategory[domain.Category(key)] = count
	}); err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

func (s *PostgresStore) groupCount(ctx context.Context, query string, add func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("group reports: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan group: %w", err)
		}
		add(key, count)
	}
	return rows.Err()
}

const accessRequestColumns = `
	a.id, a.user_id, u.email, a.request_type, a.organization_name, a.reason, a.status,
	a.reviewed_by, a.reviewed_at, a.created_at`

func scanAccessRequest(row interface{ Scan(...any) error }) (AccessRequest, error) {
	var request AccessRequest
	var reviewedAt sql.NullTime
	err := row.Scan(&request.ID, &request.UserID, &request.UserEmail, &request.RequestType, &request.OrganizationName,
		&request.Reason, &request.Status, &request.ReviewedBy, &reviewedAt, &request.CreatedAt)
	if reviewedAt.Valid {
		request.ReviewedAt = &reviewedAt.Time
	}
	return request, err
}

// InsertAccessRequest returns ErrDuplicatePending when the user already has
// an open request.
func (s *PostgresStore) InsertAccessRequest(ctx context.Context, request AccessRequest) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM admin_access_requests WHERE user_id=$1 AND status='pending')
	`, request.UserID).Scan(&exists); err != nil {
		return fmt.Errorf("check pending access request: %w", err)
	}
	if exists {
		return ErrDuplicatePending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_access_requests (id, user_id, request_type, organization_name, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, request.ID, request.UserID, request.RequestType, request.OrganizationName, request.Reason)
	if err != nil {
		return fmt.Errorf("insert access request: %w", err)
	}
	return nil
}

var ErrDuplicatePending = errors.New("pending access request exists")

func (s *PostgresStore) GetAccessRequest(ctx context.Context, requestID string) (AccessRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accessRequestColumns+` FROM admin_access_requests a JOIN users u ON u.id = a.user_id WHERE a.id=$1`, requestID)
	return scanAccessRequest(row)
}

func (s *PostgresStore) ListAccessRequests(ctx context.Context, status string) ([]AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accessRequestColumns+`
		FROM admin_access_requests a
		JOIN users u ON u.id = a.user_id
		WHERE ($1 = '' OR a.status = $1)
		ORDER BY a.created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}
	defer rows.Close()

	requests := make([]AccessRequest, 0)
	for rows.Next() {
		request, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// ReviewAccessRequest settles a pending request. Approval also promotes the
// requester to admin in the same transaction.
func (s *PostgresStore) ReviewAccessRequest(ctx context.Context, requestID, status, reviewedBy string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin review tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx, `
		UPDATE admin_access_requests
		SET status=$2, reviewed_by=$3, reviewed_at=NOW()
		WHERE id=$1 AND status='pending'
		RETURNING user_id
	`, requestID, status, reviewedBy).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("review access request: %w", err)
	}

	if status == string(domain.AccessApproved) {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET role='admin', updated_at=NOW() WHERE id=$1`, userID); err != nil {
			return false, fmt.Errorf("promote user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit review tx: %w", err)
	}
	return true, nil
}
