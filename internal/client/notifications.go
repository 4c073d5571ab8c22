package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"safevoice/api/internal/domain"
)

// NotificationPoller keeps the unread count current on a fixed interval.
// It belongs to one session and stops itself when that session ends.
type NotificationPoller struct {
	transport *Transport
	session   *SessionManager
	log       *slog.Logger
	group     singleflight.Group

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	feed     domain.NotificationFeed
	gen      uint64
	onUpdate func(domain.NotificationFeed)
}

func newNotificationPoller(transport *Transport, session *SessionManager, log *slog.Logger) *NotificationPoller {
	p := &NotificationPoller{transport: transport, session: session, log: log}
	session.OnLogout(p.halt)
	return p
}

// OnUpdate registers a callback for every fetched feed. It runs on the
// poller goroutine.
func (p *NotificationPoller) OnUpdate(fn func(domain.NotificationFeed)) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// Start begins polling every interval, fetching once immediately. It
// returns false, and does nothing, if the poller is already running.
func (p *NotificationPoller) Start(interval time.Duration) bool {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.run(ctx, interval, done)
	return true
}

func (p *NotificationPoller) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.cancel()
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !p.session.IsAuthenticated() {
			p.log.Debug("notification poller stopping: signed out")
			return
		}
		if _, err := p.FetchUnreadCount(ctx); err != nil {
			if IsAuth(err) {
				p.log.Debug("notification poller stopping", "error", err)
				return
			}
			if ctx.Err() == nil {
				p.log.Warn("poll notifications", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels polling and waits for the loop to exit.
func (p *NotificationPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// halt cancels without waiting. It runs from session observers, which may
// be called on the poller's own goroutine.
func (p *NotificationPoller) halt() {
	p.mu.Lock()
	cancel := p.cancel
	p.feed = domain.NotificationFeed{}
	p.gen++
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *NotificationPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Unread is the count from the last successful fetch.
func (p *NotificationPoller) Unread() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feed.Unread
}

func (p *NotificationPoller) Feed() domain.NotificationFeed {
	p.mu.Lock()
	defer p.mu.Unlock()
	feed := p.feed
	feed.Items = append([]domain.Notification(nil), p.feed.Items...)
	return feed
}

// FetchUnreadCount asks the server for the feed. Overlapping calls share
// one request.
func (p *NotificationPoller) FetchUnreadCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	ch := p.group.DoChan("feed", func() (any, error) {
		var feed domain.NotificationFeed
		if err := p.transport.Do(context.WithoutCancel(ctx), http.MethodGet, "/api/notifications", nil, &feed); err != nil {
			return nil, err
		}
		return feed, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return 0, res.Err
	}
	feed := res.Val.(domain.NotificationFeed)
	if !p.session.IsAuthenticated() {
		return 0, &AuthError{Reason: "not signed in"}
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return 0, &AuthError{Reason: "session changed"}
	}
	p.feed = feed
	onUpdate := p.onUpdate
	p.mu.Unlock()
	if onUpdate != nil {
		onUpdate(feed)
	}
	return feed.Unread, nil
}

// MarkRead marks one notification read and refreshes the count.
func (p *NotificationPoller) MarkRead(ctx context.Context, notificationID string) (int, error) {
	if err := p.transport.Do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(notificationID)+"/read", nil, nil); err != nil {
		return 0, err
	}
	p.group.Forget("feed")
	return p.FetchUnreadCount(ctx)
}

// Close is called when the notification view closes: everything shown is
// marked read and the count is fetched again at once. A poll that started
// before the mark is not joined.
func (p *NotificationPoller) Close(ctx context.Context) (int, error) {
	if err := p.transport.Do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil); err != nil {
		return 0, err
	}
	p.group.Forget("feed")
	return p.FetchUnreadCount(ctx)
}
