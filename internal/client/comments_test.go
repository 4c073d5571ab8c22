package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"safevoice/api/internal/domain"
)

// Scenario B: an internal note never reaches the submitter's thread.
func TestInternalNoteHiddenFromSubmitter(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	admin := env.admin(t, "rev@safevoice.test", "Rev", domain.PlanFree)
	report := env.submit(t, user, "R")
	ctx := context.Background()

	userThread := user.Thread(report.ID)
	defer userThread.Close()
	adminThread := admin.Thread(report.ID)
	defer adminThread.Close()

	_, err := userThread.Post(ctx, "first", false)
	require.NoError(t, err)
	note, err := adminThread.Post(ctx, "looks like a repeat", true)
	require.NoError(t, err)
	assert.True(t, note.IsInternal)
	_, err = adminThread.Post(ctx, "we are on it", false)
	require.NoError(t, err)

	seen, err := userThread.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	for _, comment := range seen {
		assert.False(t, comment.IsInternal)
	}
	assert.Equal(t, "first", seen[0].Message)
	assert.Equal(t, "Reviewer", seen[1].DisplaySenderName)

	all, err := adminThread.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUserCannotPostInternal(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	report := env.submit(t, user, "R")
	thread := user.Thread(report.ID)
	defer thread.Close()

	comment, err := thread.Post(context.Background(), "please hide this", true)
	require.NoError(t, err)
	assert.False(t, comment.IsInternal)
}

func TestPostValidatesBeforeRequest(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	report := env.submit(t, user, "R")
	thread := user.Thread(report.ID)
	defer thread.Close()
	before := env.requests.Load()

	var validation *ValidationError
	_, err := thread.Post(context.Background(), "   \n\t", false)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "message", validation.Field)

	_, err = thread.Post(context.Background(), strings.Repeat("x", maxCommentLength+1), false)
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, before, env.requests.Load())
}

func TestPostAppendsWithoutRefetch(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	report := env.submit(t, user, "R")
	thread := user.Thread(report.ID)
	defer thread.Close()
	ctx := context.Background()

	_, err := thread.Fetch(ctx)
	require.NoError(t, err)
	before := env.requests.Load()

	posted, err := thread.Post(ctx, "  hello  ", false)
	require.NoError(t, err)
	assert.Equal(t, "hello", posted.Message)
	assert.Equal(t, before+1, env.requests.Load(), "one POST, no refetch")

	cached := thread.Comments()
	require.Len(t, cached, 1)
	assert.Equal(t, posted.ID, cached[0].ID)
}

func TestCommentsOnCancelledReportRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	report := env.submit(t, user, "R")
	_, err := user.Reports.Cancel(context.Background(), report.ID)
	require.NoError(t, err)

	thread := user.Thread(report.ID)
	defer thread.Close()
	before := env.requests.Load()
	_, err = thread.Post(context.Background(), "anyone there?", false)
	var permission *PermissionError
	require.ErrorAs(t, err, &permission)
	assert.Equal(t, domain.StatusCancelled, permission.Status)
	assert.Contains(t, permission.Message, "closed")
	assert.Equal(t, before, env.requests.Load(), "rejected from the cached status")

	// Without the report cached the server still refuses.
	other, _ := newTestClient(t, env.server.URL)
	_, err = other.Session.Login(context.Background(), Credentials{Email: "alice@safevoice.test", Password: testPassword})
	require.NoError(t, err)
	fresh := other.Thread(report.ID)
	defer fresh.Close()
	_, err = fresh.Post(context.Background(), "anyone there?", false)
	require.ErrorAs(t, err, &permission)
	assert.Contains(t, permission.Message, "closed")
}

func TestThreadDropsLeakedInternalComment(t *testing.T) {
	now := time.Now().UTC()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, `{"comments":[
			{"id":"c2","report_id":"r1","sender_role":"admin","is_internal":false,"display_sender_name":"Reviewer","message":"later","sent_at":"`+now.Add(time.Minute).Format(time.RFC3339Nano)+`"},
			{"id":"c1","report_id":"r1","sender_role":"user","is_internal":false,"display_sender_name":"Alice","message":"earlier","sent_at":"`+now.Format(time.RFC3339Nano)+`"},
			{"id":"c3","report_id":"r1","sender_role":"admin","is_internal":true,"display_sender_name":"Reviewer","message":"secret","sent_at":"`+now.Add(2*time.Minute).Format(time.RFC3339Nano)+`"}
		]}`)
	}))
	defer server.Close()

	c, keys := newTestClient(t, server.URL)
	require.NoError(t, keys.Save(context.Background(), Tokens{
		AccessToken:  issueTestToken(t, "usr_1", domain.RoleUser, time.Hour),
		RefreshToken: "refresh-1",
	}))
	ok, err := c.Session.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	thread := c.Thread("r1")
	defer thread.Close()
	comments, err := thread.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "c2", comments[1].ID)
}

func TestLogoutEmptiesThread(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	report := env.submit(t, user, "R")
	thread := user.Thread(report.ID)
	defer thread.Close()

	_, err := thread.Post(context.Background(), "hello", false)
	require.NoError(t, err)
	require.Len(t, thread.Comments(), 1)

	require.NoError(t, user.Session.Logout(context.Background()))
	assert.Empty(t, thread.Comments())
}
