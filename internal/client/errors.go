package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"safevoice/api/internal/domain"
)

// ErrBusy is returned when a mutating call is already in flight for the
// same report.
var ErrBusy = errors.New("client: report is busy")

// AuthError means the caller must sign in again. The session has already
// been cleared when it is returned.
type AuthError struct {
	Code   string
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication required: " + e.Reason
}

// PermissionError is an action the current role or report status does not
// allow. Most are raised locally before any request is sent.
type PermissionError struct {
	Action  string
	Status  domain.Status
	Message string
}

func (e *PermissionError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s not allowed on %s report: %s", e.Action, e.Status, e.Message)
	}
	return fmt.Sprintf("%s not allowed: %s", e.Action, e.Message)
}

type ValidationError struct {
	Field   string
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError carries the server's copy of a report whose state differed
// from the cached one. The cache has already been overwritten with Report.
type ConflictError struct {
	Code    string
	Message string
	Report  domain.Report
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): report %s is %s", e.Code, e.Report.ID, e.Report.Status)
}

// NetworkError is a transient failure. The same action may be retried by
// the user; the client never retries on its own.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

type errorEnvelope struct {
	Code    string          `json:"code"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

type errorDetails struct {
	Field  string            `json:"field"`
	Fields map[string]string `json:"fields"`
	Report *domain.Report    `json:"report"`
}

// decodeError maps an error response onto the client taxonomy.
func decodeError(op string, status int, body []byte) error {
	var envelope errorEnvelope
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error == "" {
		envelope.Error = http.StatusText(status)
	}
	var details errorDetails
	if len(envelope.Details) > 0 {
		_ = json.Unmarshal(envelope.Details, &details)
	}

	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Code: envelope.Code, Reason: envelope.Error}
	case status == http.StatusForbidden:
		return &PermissionError{Action: op, Message: envelope.Error}
	case status == http.StatusConflict && details.Report != nil:
		return &ConflictError{Code: envelope.Code, Message: envelope.Error, Report: *details.Report}
	case status == http.StatusConflict && envelope.Code == "NOT_RESOLVED":
		return &PermissionError{Action: op, Message: envelope.Error}
	case status == http.StatusConflict && envelope.Code == "EMAIL_EXISTS":
		return &ValidationError{Field: "email", Message: envelope.Error}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Field: details.Field, Message: envelope.Error, Fields: details.Fields}
	case status >= http.StatusInternalServerError:
		return &NetworkError{Op: op, Err: &APIError{Status: status, Code: envelope.Code, Message: envelope.Error}}
	default:
		return &APIError{Status: status, Code: envelope.Code, Message: envelope.Error}
	}
}

// IsAuth reports whether err requires the user to sign in again.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
