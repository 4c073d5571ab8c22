// Package domain holds the report lifecycle vocabulary shared by the API
// server and the client core.
package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole returns the role and whether it was recognised.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleUser, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// NormalizePlan maps unknown plans to free.
func NormalizePlan(value string) Plan {
	if Plan(value) == PlanPremium {
		return PlanPremium
	}
	return PlanFree
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusRejected    Status = "rejected"
	StatusEscalated   Status = "escalated"
	StatusCancelled   Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusUnderReview,
	StatusEscalated,
	StatusResolved,
	StatusRejected,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected || s == StatusCancelled
}

type Category string

const (
	CategoryAbuse      Category = "abuse"
	CategoryCorruption Category = "corruption"
	CategoryHarassment Category = "harassment"
	CategoryOther      Category = "other"
)

var Categories = []Category{CategoryAbuse, CategoryCorruption, CategoryHarassment, CategoryOther}

func (c Category) Valid() bool {
	for _, category := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Report struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Category     Category  `json:"category"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	PriorityFlag bool      `json:"priority_flag"`
	IsAnonymous  bool      `json:"is_anonymous"`
	IsPremium    bool      `json:"is_premium"`
	SubmittedBy  *UserRef  `json:"submitted_by,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Attachment   string    `json:"attachment,omitempty"`
	Token        string    `json:"token"`
}

type Comment struct {
	ID                string    `json:"id"`
	ReportID          string    `json:"report_id"`
	SenderRole        Role      `json:"sender_role"`
	IsInternal        bool      `json:"is_internal"`
	DisplaySenderName string    `json:"display_sender_name"`
	Message           string    `json:"message"`
	SentAt            time.Time `json:"sent_at"`
}

type Notification struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
	ReportID    string    `json:"report_id,omitempty"`
	ReportTitle string    `json:"report_title,omitempty"`
}

// NotificationFeed is the payload of the notification endpoint.
type NotificationFeed struct {
	Unread int            `json:"unread"`
	Items  []Notification `json:"items"`
}

// Summary is the aggregate shape produced both by the server and by folding
// a cached report collection.
type Summary struct {
	Total          int              `json:"total"`
	ByStatus       map[Status]int   `json:"by_status"`
	ByCategory     map[Category]int `json:"by_category"`
	PriorityCount  int              `json:"priority_count"`
	AnonymousCount int              `json:"anonymous_count"`
}

type AccessRequestType string

const (
	AccessIndividual   AccessRequestType = "individual"
	AccessOrganization AccessRequestType = "organization"
)

type AccessRequestStatus string

const (
	AccessPending  AccessRequestStatus = "pending"
	AccessApproved AccessRequestStatus = "approved"
	AccessRejected AccessRequestStatus = "rejected"
)

type AccessRequest struct {
	ID               string              `json:"id"`
	UserID           string              `json:"user_id"`
	UserEmail        string              `json:"user_email,omitempty"`
	RequestType      AccessRequestType   `json:"request_type"`
	OrganizationName string              `json:"organization_name,omitempty"`
	Reason           string              `json:"reason"`
	Status           AccessRequestStatus `json:"status"`
	ReviewedBy       string              `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time          `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}
