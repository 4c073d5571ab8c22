// Package email sends report lifecycle mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, plainBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-safevoice"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", plainBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type StatusChangedData struct {
	UserName    string
	ReportTitle string
	Status      string
}

type AccessDecisionData struct {
	UserName string
	Approved bool
}

// SendStatusChanged tells a submitter their report moved to a new status.
func (s *Service) SendStatusChanged(to string, data StatusChangedData) error {
	html, err := renderTemplate(statusChangedTemplate, data)
	if err != nil {
		return fmt.Errorf("render status template: %w", err)
	}
	plain := fmt.Sprintf("Your report %q is now %s.", data.ReportTitle, statusLabel(data.Status))
	return s.SendHTMLEmail([]string{to}, "Your SafeVoice report was updated", plain, html)
}

// SendAccessDecision tells a requester whether they were granted reviewer access.
func (s *Service) SendAccessDecision(to string, data AccessDecisionData) error {
	html, err := renderTemplate(accessDecisionTemplate, data)
	if err != nil {
		return fmt.Errorf("render access template: %w", err)
	}
	plain := "Your request for reviewer access was rejected."
	if data.Approved {
		plain = "Your request for reviewer access was approved. Sign in again to use it."
	}
	return s.SendHTMLEmail([]string{to}, "SafeVoice reviewer access", plain, html)
}

func statusLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var funcs = template.FuncMap{"statusLabel": statusLabel}

var statusChangedTemplate = template.Must(template.New("status").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Report updated</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
    <h2>Hi {{.UserName}},</h2>
    <p>Your report <strong>{{.ReportTitle}}</strong> is now <strong>{{statusLabel .Status}}</strong>.</p>
    <p>Sign in to SafeVoice to read any messages from the reviewer.</p>
</body>
</html>`))

var accessDecisionTemplate = template.Must(template.New("access").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reviewer access</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
    <h2>Hi {{.UserName}},</h2>
    {{if .Approved}}
    <p>Your request for reviewer access was <strong>approved</strong>. Sign in again to start reviewing reports.</p>
    {{else}}
    <p>Your request for reviewer access was <strong>rejected</strong>.</p>
    {{end}}
</body>
</html>`))
