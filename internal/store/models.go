package store

import (
	"time"

	"safevoice/api/internal/domain"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	Plan         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Report struct {
	ID            string
	Title         string
	Category      string
	Description   string
	Status        string
	PriorityFlag  bool
	IsAnonymous   bool
	IsPremium     bool
	SubmittedBy   string
	SubmitterName string
	SubmittedAt   time.Time
	UpdatedAt     time.Time
	Attachment    string
	Token         string
}

// Domain converts the row to its wire form. The submitter is always filled
// in; callers decide whether the viewer may see it.
func (r Report) Domain() domain.Report {
	return domain.Report{
		ID:           r.ID,
		Title:        r.Title,
		Category:     domain.Category(r.Category),
		Description:  r.Description,
		Status:       domain.Status(r.Status),
		PriorityFlag: r.PriorityFlag,
		IsAnonymous:  r.IsAnonymous,
		IsPremium:    r.IsPremium,
		SubmittedBy:  &domain.UserRef{ID: r.SubmittedBy, DisplayName: r.SubmitterName},
		SubmittedAt:  r.SubmittedAt,
		UpdatedAt:    r.UpdatedAt,
		Attachment:   r.Attachment,
		Token:        r.Token,
	}
}

type Comment struct {
	ID                string
	ReportID          string
	SenderID          string
	SenderRole        string
	IsInternal        bool
	DisplaySenderName string
	Message           string
	SentAt            time.Time
}

func (c Comment) Domain() domain.Comment {
	return domain.Comment{
		ID:                c.ID,
		ReportID:          c.ReportID,
		SenderRole:        domain.Role(c.SenderRole),
		IsInternal:        c.IsInternal,
		DisplaySenderName: c.DisplaySenderName,
		Message:           c.Message,
		SentAt:            c.SentAt,
	}
}

type Notification struct {
	ID          string
	UserID      string
	ReportID    string
	ReportTitle string
	Message     string
	IsRead      bool
	CreatedAt   time.Time
}

func (n Notification) Domain() domain.Notification {
	return domain.Notification{
		ID:          n.ID,
		Message:     n.Message,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
		ReportID:    n.ReportID,
		ReportTitle: n.ReportTitle,
	}
}

type AccessRequest struct {
	ID               string
	UserID           string
	UserEmail        string
	RequestType      string
	OrganizationName string
	Reason           string
	Status           string
	ReviewedBy       string
	ReviewedAt       *time.Time
	CreatedAt        time.Time
}

func (a AccessRequest) Domain() domain.AccessRequest {
	return domain.AccessRequest{
		ID:               a.ID,
		UserID:           a.UserID,
		UserEmail:        a.UserEmail,
		RequestType:      domain.AccessRequestType(a.RequestType),
		OrganizationName: a.OrganizationName,
		Reason:           a.Reason,
		Status:           domain.AccessRequestStatus(a.Status),
		ReviewedBy:       a.ReviewedBy,
		ReviewedAt:       a.ReviewedAt,
		CreatedAt:        a.CreatedAt,
	}
}

// StatusChange is one row of a report's audit trail.
type StatusChange struct {
	ReportID   string
	FromStatus string
	ToStatus   string
	ChangedBy  string
	ChangedAt  time.Time
}
