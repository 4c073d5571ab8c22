package app

import (
	"fmt"
	"net/http"
	"sort"

	"safevoice/api/internal/domain"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func notFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]any{
		"field":  field,
		"fields": map[string]string{field: message},
	})
}

// fieldsError reports the alphabetically first field as the primary one.
func fieldsError(fields map[string]string) *DomainError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", nil)
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fields[names[0]], map[string]any{
		"field":  names[0],
		"fields": fields,
	})
}

// reportConflict carries the server's current report so clients can
// overwrite a stale cache entry.
func reportConflict(code, message string, report domain.Report) *DomainError {
	return domainError(http.StatusConflict, code, message, map[string]any{"report": report})
}
