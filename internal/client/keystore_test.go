package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.env")
	keys := NewFileKeystore(path)
	ctx := context.Background()

	tokens, err := keys.Load(ctx)
	require.NoError(t, err)
	assert.True(t, tokens.Empty(), "missing file is an empty keystore")

	require.NoError(t, keys.Save(ctx, Tokens{AccessToken: "a.b.c", RefreshToken: "r-1"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tokens, err = keys.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "a.b.c", RefreshToken: "r-1"}, tokens)

	require.NoError(t, keys.Save(ctx, Tokens{AccessToken: "d.e.f", RefreshToken: "r-2"}))
	tokens, err = keys.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r-2", tokens.RefreshToken)

	require.NoError(t, keys.Clear(ctx))
	require.NoError(t, keys.Clear(ctx), "clearing twice is fine")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func setupTestKeystore(t *testing.T) (*RedisKeystore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	keys := NewRedisKeystoreWithClient(client, "")
	t.Cleanup(func() { _ = keys.Close() })
	return keys, mr
}

func TestRedisKeystoreRoundTrip(t *testing.T) {
	keys, mr := setupTestKeystore(t)
	ctx := context.Background()

	tokens, err := keys.Load(ctx)
	require.NoError(t, err)
	assert.True(t, tokens.Empty())

	require.NoError(t, keys.Save(ctx, Tokens{AccessToken: "a.b.c", RefreshToken: "r-1"}))
	stored, err := mr.Get("safevoice:client:refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "r-1", stored)

	tokens, err = keys.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "a.b.c", RefreshToken: "r-1"}, tokens)

	require.NoError(t, keys.Clear(ctx))
	assert.False(t, mr.Exists("safevoice:client:access_token"))
	assert.False(t, mr.Exists("safevoice:client:refresh_token"))
}

func TestRedisKeystoreSharesSessionAcrossClients(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice@safevoice.test", "Alice")
	keys, _ := setupTestKeystore(t)
	ctx := context.Background()

	first := New(env.server.URL, keys, WithLogger(quietLogger()))
	_, err := first.Session.Login(ctx, Credentials{Email: "alice@safevoice.test", Password: testPassword})
	require.NoError(t, err)

	second := New(env.server.URL, keys, WithLogger(quietLogger()))
	ok, err := second.Session.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", mustCurrent(t, second).UserName)
}

func mustCurrent(t *testing.T, c *Client) Session {
	t.Helper()
	session, ok := c.Session.Current()
	require.True(t, ok)
	return session
}
