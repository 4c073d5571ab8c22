package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"safevoice/api/internal/domain"
)

func TestSummarizeFoldsCollection(t *testing.T) {
	reports := []domain.Report{
		{ID: "1", Status: domain.StatusPending, Category: domain.CategoryAbuse, PriorityFlag: true},
		{ID: "2", Status: domain.StatusPending, Category: domain.CategoryCorruption, IsAnonymous: true},
		{ID: "3", Status: domain.StatusResolved, Category: domain.CategoryAbuse, PriorityFlag: true, IsAnonymous: true},
	}

	summary := Summarize(reports)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByStatus[domain.StatusPending])
	assert.Equal(t, 1, summary.ByStatus[domain.StatusResolved])
	assert.Equal(t, 2, summary.ByCategory[domain.CategoryAbuse])
	assert.Equal(t, 2, summary.PriorityCount)
	assert.Equal(t, 2, summary.AnonymousCount)

	empty := Summarize(nil)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.ByStatus)
}

func TestAnalyticsPrefersServerSummary(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "rev@safevoice.test", "Rev", domain.PlanFree)
	user := env.user(t, "alice@safevoice.test", "Alice")
	env.submit(t, user, "one")
	env.submit(t, user, "two")
	ctx := context.Background()

	_, err := admin.Reports.List(ctx, domain.StatusPending)
	require.NoError(t, err)
	local, authoritative := admin.Analytics.Summary()
	assert.False(t, authoritative)
	assert.Equal(t, 2, local.Total)

	env.submit(t, user, "three")
	server, err := admin.Analytics.FetchServerSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, server.Total)

	got, authoritative := admin.Analytics.Summary()
	assert.True(t, authoritative)
	assert.Equal(t, server, got)

	require.NoError(t, admin.Session.Logout(ctx))
	_, authoritative = admin.Analytics.Summary()
	assert.False(t, authoritative, "server numbers are dropped with the session")
}

func TestAnalyticsForbiddenForUsers(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")

	_, err := user.Analytics.FetchServerSummary(context.Background())
	var permission *PermissionError
	require.ErrorAs(t, err, &permission)
	_, authoritative := user.Analytics.Summary()
	assert.False(t, authoritative)
}

func TestAnalyticsDropsSummaryFromPreviousSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/analytics":
			close(entered)
			<-release
			writeTestJSON(w, http.StatusOK, `{"total":42,"by_status":{"pending":42},"by_category":{"abuse":42}}`)
		case "/api/session/logout":
			writeTestJSON(w, http.StatusOK, `{"ok":true}`)
		case "/api/auth/signin":
			body, _ := json.Marshal(map[string]string{
				"accessToken":  issueTestToken(t, "usr_2", domain.RoleUser, time.Hour),
				"refreshToken": "refresh-2",
			})
			writeTestJSON(w, http.StatusOK, string(body))
		default:
			writeTestJSON(w, http.StatusNotFound, `{"code":"NOT_FOUND","error":"Not found"}`)
		}
	}))
	defer server.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	c, keys := newTestClient(t, server.URL)
	ctx := context.Background()
	require.NoError(t, keys.Save(ctx, Tokens{
		AccessToken:  issueTestToken(t, "usr_1", domain.RoleAdmin, time.Hour),
		RefreshToken: "refresh-1",
	}))
	ok, err := c.Session.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		_, err := c.Analytics.FetchServerSummary(ctx)
		done <- err
	}()
	<-entered

	require.NoError(t, c.Session.Logout(ctx))
	_, err = c.Session.Login(ctx, Credentials{Email: "alice@safevoice.test", Password: testPassword})
	require.NoError(t, err)
	require.False(t, c.Session.IsAdmin())
	close(release)

	require.True(t, IsAuth(<-done))
	summary, authoritative := c.Analytics.Summary()
	assert.False(t, authoritative, "reviewer numbers never reach the next session")
	assert.Zero(t, summary.Total)
}
