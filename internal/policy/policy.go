// Package policy is the report permission table. It performs no I/O and is
// consulted by the client before enabling an action and by the server before
// applying one.
package policy

import "safevoice/api/internal/domain"

type Action string

const (
	ActionCancel       Action = "cancel"
	ActionDelete       Action = "delete"
	ActionTransition   Action = "transition"
	ActionComment      Action = "comment"
	ActionMarkInternal Action = "mark_internal"
	ActionView         Action = "view"
	ActionCertificate  Action = "certificate"
)

// Actor is the viewer relative to one report.
type Actor struct {
	Role    domain.Role
	IsOwner bool
}

var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:     {domain.StatusUnderReview},
	domain.StatusUnderReview: {domain.StatusResolved, domain.StatusRejected, domain.StatusEscalated},
	domain.StatusEscalated:   {domain.StatusResolved, domain.StatusRejected},
}

// NextStatuses returns the statuses an admin may move a report to.
func NextStatuses(from domain.Status) []domain.Status {
	next := transitions[from]
	out := make([]domain.Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the admin transition from -> to is in the table.
// Cancellation is an owner action and is checked by CanCancel.
func CanTransition(from, to domain.Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func CanCancel(status domain.Status) bool {
	switch status {
	case domain.StatusPending, domain.StatusUnderReview, domain.StatusEscalated:
		return true
	default:
		return false
	}
}

func CanDelete(status domain.Status) bool {
	return status.Valid() && status != domain.StatusResolved
}

func CanComment(status domain.Status) bool {
	return status.Valid() && status != domain.StatusCancelled
}

func CanMarkInternal(role domain.Role) bool {
	return role == domain.RoleAdmin
}

// Allowed evaluates one action for an actor against a report status.
func Allowed(status domain.Status, actor Actor, action Action) bool {
	isAdmin := actor.Role == domain.RoleAdmin
	switch action {
	case ActionView:
		return isAdmin || actor.IsOwner
	case ActionCancel:
		return actor.IsOwner && CanCancel(status)
	case ActionDelete:
		return actor.IsOwner && CanDelete(status)
	case ActionTransition:
		return isAdmin && len(transitions[status]) > 0
	case ActionComment:
		return (isAdmin || actor.IsOwner) && CanComment(status)
	case ActionMarkInternal:
		return CanMarkInternal(actor.Role) && CanComment(status)
	case ActionCertificate:
		return (isAdmin || actor.IsOwner) && status == domain.StatusResolved
	default:
		return false
	}
}

// Actions returns every action the actor may take on a report in status.
func Actions(status domain.Status, actor Actor) []Action {
	all := []Action{ActionView, ActionCancel, ActionDelete, ActionTransition, ActionComment, ActionMarkInternal, ActionCertificate}
	allowed := make([]Action, 0, len(all))
	for _, action := range all {
		if Allowed(status, actor, action) {
			allowed = append(allowed, action)
		}
	}
	return allowed
}
