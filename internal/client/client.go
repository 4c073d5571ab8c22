// Package client is the SafeVoice client core: one session, a reconciled
// report cache, per-report comment threads, a notification poller and the
// analytics fold. Views consume it; it renders nothing.
package client

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type options struct {
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*options)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) { o.httpClient = httpClient }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type Client struct {
	Session   *SessionManager
	Reports   *ReportStore
	Analytics *Analytics

	transport *Transport
	log       *slog.Logger
}

func New(baseURL string, keys Keystore, opts ...Option) *Client {
	o := options{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	api := &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: o.httpClient}
	session := newSessionManager(api, keys, o.log, o.now)
	transport := &Transport{api: api, session: session, log: o.log}
	reports := newReportStore(transport, session, o.log)

	return &Client{
		Session:   session,
		Reports:   reports,
		Analytics: newAnalytics(transport, session, reports),
		transport: transport,
		log:       o.log,
	}
}

// Thread opens the comment thread of one report. Close it when the view
// that owns it goes away.
func (c *Client) Thread(reportID string) *CommentThread {
	return newCommentThread(reportID, c.transport, c.Session, c.Reports, c.log)
}

// Poller creates a notification poller that stops when the session ends.
func (c *Client) Poller() *NotificationPoller {
	return newNotificationPoller(c.transport, c.Session, c.log)
}
