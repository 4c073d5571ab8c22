package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"safevoice/api/internal/auth"
	"safevoice/api/internal/domain"
)

// refreshWindow is how close to expiry an access token may get before
// AccessToken rotates the pair.
const refreshWindow = 60 * time.Second

// Session is the live credential pair plus the claims decoded from it.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	UserName     string
	Role         domain.Role
	Plan         domain.Plan
	ExpiresAt    time.Time
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionManager owns the one session of a client. Login, refresh and
// logout are the only writers; everything else reads.
type SessionManager struct {
	api   *apiClient
	keys  Keystore
	log   *slog.Logger
	now   func() time.Time
	group singleflight.Group

	mu        sync.RWMutex
	current   *Session
	observers map[int]func()
	nextID    int
}

func newSessionManager(api *apiClient, keys Keystore, log *slog.Logger, now func() time.Time) *SessionManager {
	return &SessionManager{
		api:       api,
		keys:      keys,
		log:       log,
		now:       now,
		observers: map[int]func(){},
	}
}

func sessionFromTokens(tokens Tokens) (Session, error) {
	claims, err := auth.DecodeUnverified(tokens.AccessToken)
	if err != nil {
		return Session{}, err
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserID:       claims.Subject,
		UserName:     claims.Name,
		Role:         role,
		Plan:         domain.NormalizePlan(claims.Plan),
		ExpiresAt:    claims.ExpiresAtTime(),
	}, nil
}

func (m *SessionManager) Login(ctx context.Context, creds Credentials) (Session, error) {
	var resp tokenResponse
	if err := m.api.doJSON(ctx, http.MethodPost, "/api/auth/signin", "", creds, &resp); err != nil {
		return Session{}, err
	}
	return m.install(ctx, Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
}

func (m *SessionManager) SignUp(ctx context.Context, creds Credentials, displayName string) (Session, error) {
	body := map[string]string{"email": creds.Email, "password": creds.Password, "displayName": displayName}
	var resp tokenResponse
	if err := m.api.doJSON(ctx, http.MethodPost, "/api/auth/signup", "", body, &resp); err != nil {
		return Session{}, err
	}
	return m.install(ctx, Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
}

// install makes tokens the live session. An undecodable access token fails
// closed: nothing is kept.
func (m *SessionManager) install(ctx context.Context, tokens Tokens) (Session, error) {
	session, err := sessionFromTokens(tokens)
	if err != nil {
		_ = m.expire(ctx)
		return Session{}, &AuthError{Reason: "undecodable access token"}
	}
	if err := m.keys.Save(ctx, tokens); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	previous := m.current
	m.current = &session
	m.mu.Unlock()

	// Role-scoped caches are stale once identity or role changes.
	if previous != nil && previous.AccessToken != "" &&
		(previous.UserID != session.UserID || previous.Role != session.Role) {
		m.notify()
	}
	return session, nil
}

// Restore loads a persisted pair at startup. A usable access token is
// restored as is; otherwise the refresh token, if any, is spent.
func (m *SessionManager) Restore(ctx context.Context) (bool, error) {
	tokens, err := m.keys.Load(ctx)
	if err != nil {
		return false, err
	}
	if tokens.Empty() {
		return false, nil
	}

	session, err := sessionFromTokens(tokens)
	if err == nil && session.ExpiresAt.After(m.now()) {
		m.mu.Lock()
		m.current = &session
		m.mu.Unlock()
		return true, nil
	}
	if tokens.RefreshToken == "" {
		return false, m.expire(ctx)
	}

	m.mu.Lock()
	m.current = &Session{RefreshToken: tokens.RefreshToken}
	m.mu.Unlock()
	if _, err := m.refresh(ctx, ""); err != nil {
		if IsAuth(err) {
			return false, nil
		}
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
		return false, err
	}
	return true, nil
}

// AccessToken returns a token for the next request, rotating the pair when
// it is within refreshWindow of expiry.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	current, ok := m.Current()
	if !ok {
		return "", &AuthError{Reason: "not signed in"}
	}
	if current.ExpiresAt.Sub(m.now()) >= refreshWindow {
		return current.AccessToken, nil
	}

	refreshed, err := m.refresh(ctx, current.AccessToken)
	if err != nil {
		if IsAuth(err) {
			return "", err
		}
		if m.now().Before(current.ExpiresAt) {
			m.log.Warn("token refresh failed, using current token", "error", err)
			return current.AccessToken, nil
		}
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh rotates the pair immediately.
func (m *SessionManager) Refresh(ctx context.Context) (Session, error) {
	if _, ok := m.load(); !ok {
		return Session{}, &AuthError{Reason: "not signed in"}
	}
	return m.refresh(ctx, "")
}

// refresh runs one rotation for all concurrent callers. stale is the access
// token the caller saw; if it has already been replaced the newer session
// is returned without another request.
func (m *SessionManager) refresh(ctx context.Context, stale string) (Session, error) {
	ch := m.group.DoChan("refresh", func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		current, ok := m.load()
		if !ok {
			return Session{}, &AuthError{Reason: "not signed in"}
		}
		if stale != "" && current.AccessToken != "" && current.AccessToken != stale {
			return current, nil
		}
		if current.RefreshToken == "" {
			_ = m.expire(flightCtx)
			return Session{}, &AuthError{Reason: "no refresh token"}
		}

		var resp tokenResponse
		err := m.api.doJSON(flightCtx, http.MethodPost, "/api/session/refresh", "",
			map[string]string{"refreshToken": current.RefreshToken}, &resp)
		if err != nil {
			if IsAuth(err) {
				m.log.Warn("refresh token rejected, signing out")
				_ = m.expire(flightCtx)
			}
			return Session{}, err
		}
		m.log.Debug("session refreshed", "user_id", current.UserID)
		return m.install(flightCtx, Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	})

	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	}
}

// Logout revokes the pair on the server (best effort) and clears it
// locally.
func (m *SessionManager) Logout(ctx context.Context) error {
	if current, ok := m.Current(); ok {
		body := map[string]string{"refreshToken": current.RefreshToken}
		if err := m.api.doJSON(ctx, http.MethodPost, "/api/session/logout", current.AccessToken, body, nil); err != nil {
			m.log.Debug("server logout failed", "error", err)
		}
	}
	return m.expire(ctx)
}

// expire clears the session without contacting the server and tells every
// observer.
func (m *SessionManager) expire(ctx context.Context) error {
	m.mu.Lock()
	had := m.current != nil
	m.current = nil
	m.mu.Unlock()

	err := m.keys.Clear(ctx)
	if err != nil {
		m.log.Warn("clear keystore", "error", err)
	}
	if had {
		m.notify()
	}
	return err
}

// expireIf clears the session only while token is still its access token.
// A 401 for a request sent under an earlier session leaves the current one
// alone.
func (m *SessionManager) expireIf(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	if m.current == nil || token == "" || m.current.AccessToken != token {
		m.mu.Unlock()
		return false, nil
	}
	m.current = nil
	m.mu.Unlock()

	err := m.keys.Clear(ctx)
	if err != nil {
		m.log.Warn("clear keystore", "error", err)
	}
	m.notify()
	return true, err
}

// OnLogout registers fn to run when the session ends or changes identity.
func (m *SessionManager) OnLogout(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *SessionManager) notify() {
	m.mu.RLock()
	observers := make([]func(), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}

func (m *SessionManager) load() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Current returns the live session, if any.
func (m *SessionManager) Current() (Session, bool) {
	session, ok := m.load()
	if !ok || session.AccessToken == "" {
		return Session{}, false
	}
	return session, true
}

func (m *SessionManager) IsAuthenticated() bool {
	_, ok := m.Current()
	return ok
}

func (m *SessionManager) CurrentRole() (domain.Role, bool) {
	session, ok := m.Current()
	if !ok {
		return "", false
	}
	return session.Role, true
}

func (m *SessionManager) Plan() domain.Plan {
	session, _ := m.Current()
	return domain.NormalizePlan(string(session.Plan))
}

func (m *SessionManager) IsAdmin() bool {
	role, ok := m.CurrentRole()
	return ok && role == domain.RoleAdmin
}
