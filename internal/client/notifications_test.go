package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"safevoice/api/internal/domain"
)

func TestPollerStartIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "rev@safevoice.test", "Rev", domain.PlanFree)
	user := env.user(t, "alice@safevoice.test", "Alice")
	env.submit(t, user, "one")
	env.submit(t, user, "two")

	poller := admin.Poller()
	var updates atomic.Int32
	poller.OnUpdate(func(domain.NotificationFeed) { updates.Add(1) })

	require.True(t, poller.Start(time.Hour))
	assert.False(t, poller.Start(time.Hour), "second start is a no-op")
	require.Eventually(t, func() bool { return poller.Unread() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, poller.Feed().Items, 2)
	assert.GreaterOrEqual(t, updates.Load(), int32(1))

	poller.Stop()
	assert.False(t, poller.Running())
	assert.True(t, poller.Start(time.Hour), "restart after stop")
	poller.Stop()
}

func TestClosingNotificationsClearsCount(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "rev@safevoice.test", "Rev", domain.PlanFree)
	user := env.user(t, "alice@safevoice.test", "Alice")
	env.submit(t, user, "one")
	env.submit(t, user, "two")
	ctx := context.Background()

	poller := admin.Poller()
	unread, err := poller.FetchUnreadCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, unread)

	unread, err = poller.MarkRead(ctx, poller.Feed().Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	unread, err = poller.Close(ctx)
	require.NoError(t, err)
	assert.Zero(t, unread)
	assert.Zero(t, poller.Unread())

	fresh := admin.Poller()
	unread, err = fresh.FetchUnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, unread, "server agrees")
}

func TestPollerStopsWhenSignedOut(t *testing.T) {
	env := newTestEnv(t)
	c, _ := newTestClient(t, env.server.URL)
	poller := c.Poller()

	require.True(t, poller.Start(10*time.Millisecond))
	require.Eventually(t, func() bool { return !poller.Running() }, 2*time.Second, 5*time.Millisecond)
}

func TestLogoutHaltsPoller(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "rev@safevoice.test", "Rev", domain.PlanFree)
	user := env.user(t, "alice@safevoice.test", "Alice")
	env.submit(t, user, "one")

	poller := admin.Poller()
	require.True(t, poller.Start(10*time.Millisecond))
	require.Eventually(t, func() bool { return poller.Unread() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, admin.Session.Logout(context.Background()))
	require.Eventually(t, func() bool { return !poller.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, poller.Unread())

	before := env.requests.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, env.requests.Load(), "no polling after logout")
}
