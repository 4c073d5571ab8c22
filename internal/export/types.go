// Package export renders report certificates as PDF documents.
package export

import (
	"errors"
	"time"
)

// Certificate is the data printed on a resolution certificate.
type Certificate struct {
	ReportID     string
	Title        string
	Category     string
	Status       string
	PriorityFlag bool
	IsAnonymous  bool
	Submitter    string
	SubmittedAt  time.Time
	ResolvedAt   time.Time
	Token        string
	Attachment   string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNotResolved indicates a certificate was requested for a report that is not resolved.
	ErrNotResolved = errors.New("report is not resolved")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
