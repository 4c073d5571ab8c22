package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"safevoice/api/internal/app"
	"safevoice/api/internal/auth"
	"safevoice/api/internal/config"
	"safevoice/api/internal/domain"
	"safevoice/api/internal/store"
)

const testPassword = "correct-horse-1"

// testEnv runs the real API over an in-memory store.
type testEnv struct {
	store    *store.MemoryStore
	server   *httptest.Server
	requests atomic.Int64

	mu   sync.Mutex
	hook func(*http.Request)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := app.New(config.Config{
		JWTSecret:  "client-test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, ms)
	handler := app.NewHTTPServer(svc, "*").Handler()

	env := &testEnv{store: ms}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.requests.Add(1)
		env.mu.Lock()
		hook := env.hook
		env.mu.Unlock()
		if hook != nil {
			hook(r)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) setHook(fn func(*http.Request)) {
	e.mu.Lock()
	e.hook = fn
	e.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string) (*Client, *FileKeystore) {
	t.Helper()
	keys := NewFileKeystore(filepath.Join(t.TempDir(), "tokens.env"))
	return New(baseURL, keys, WithLogger(quietLogger())), keys
}

func (e *testEnv) user(t *testing.T, emailAddr, name string) *Client {
	t.Helper()
	c, _ := newTestClient(t, e.server.URL)
	_, err := c.Session.SignUp(context.Background(), Credentials{Email: emailAddr, Password: testPassword}, name)
	require.NoError(t, err)
	return c
}

// admin signs up, is promoted in the store, and refreshes to pick up the
// new role claim.
func (e *testEnv) admin(t *testing.T, emailAddr, name string, plan domain.Plan) *Client {
	t.Helper()
	ctx := context.Background()
	c := e.user(t, emailAddr, name)
	session, ok := c.Session.Current()
	require.True(t, ok)
	require.NoError(t, e.store.UpdateUserRole(ctx, session.UserID, string(domain.RoleAdmin)))
	require.NoError(t, e.store.UpdateUserPlan(ctx, session.UserID, string(plan)))
	_, err := c.Session.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, c.Session.IsAdmin())
	return c
}

func (e *testEnv) submit(t *testing.T, c *Client, title string) domain.Report {
	t.Helper()
	report, err := c.Reports.Create(context.Background(), ReportDraft{
		Title:       title,
		Category:    domain.CategoryAbuse,
		Description: "Details of " + title,
	})
	require.NoError(t, err)
	return report
}

// issueTestToken signs an access token for fake servers.
func issueTestToken(t *testing.T, subject string, role domain.Role, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token, err := auth.IssueToken([]byte("fake-secret"), auth.Claims{
		Name: "Tester",
		Role: string(role),
		Plan: string(domain.PlanFree),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	require.NoError(t, err)
	return token
}

func writeTestJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
