package client

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeCloseCancelsAndWaits(t *testing.T) {
	scope := NewScope(context.Background())
	started := make(chan struct{})
	var finished atomic.Bool

	ok := scope.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
	})
	assert.True(t, ok)
	<-started

	scope.Close()
	assert.True(t, finished.Load(), "Close returns after the call has exited")
	assert.Error(t, scope.Context().Err())
	assert.False(t, scope.Go(func(context.Context) {}), "closed scope refuses work")
}

func TestScopeFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	scope := NewScope(parent)
	cancel()

	assert.False(t, scope.Go(func(context.Context) {}))
	scope.Close()
}

func TestScopeDiscardsLateFetch(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "alice@safevoice.test", "Alice")
	report := env.submit(t, user, "R")
	thread := user.Thread(report.ID)
	defer thread.Close()

	scope := NewScope(context.Background())
	scope.Close()
	_, err := thread.Fetch(scope.Context())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, thread.Comments())
}

func TestScopeWaitLetsWorkFinish(t *testing.T) {
	scope := NewScope(context.Background())
	defer scope.Close()
	var finished atomic.Bool

	scope.Go(func(ctx context.Context) {
		finished.Store(ctx.Err() == nil)
	})
	scope.Wait()
	assert.True(t, finished.Load())
	assert.NoError(t, scope.Context().Err(), "Wait cancels nothing")
}
