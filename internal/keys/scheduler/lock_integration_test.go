//go:build integration

package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyclaims/internal/keys/scheduler"
	"keyclaims/pkg/testutil/containers"
)

func TestRedisLock_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	lock := scheduler.NewRedisLock(rc.Client, "test:expiry-sync")

	lease, ok, err := lock.Acquire(ctx, 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// A second acquirer is refused while the lease is live.
	_, ok, err = lock.Acquire(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx))

	// Released lock is immediately available again.
	lease2, ok, err := lock.Acquire(ctx, 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lease2.Release(ctx))
}

func TestRedisLock_LeaseExpiresNaturally(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	lock := scheduler.NewRedisLock(rc.Client, "test:crashed-holder")

	_, ok, err := lock.Acquire(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// The holder never refreshes (simulating a crash); the entry expires and
	// another instance takes over.
	time.Sleep(400 * time.Millisecond)

	lease, ok, err := lock.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lease.Release(ctx))
}

func TestRedisLock_RefreshExtendsOnlyOwnLease(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	lock := scheduler.NewRedisLock(rc.Client, "test:refresh")

	lease, ok, err := lock.Acquire(ctx, 300*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	// After the holder's entry is gone, its token no longer matches and a
	// refresh reports the lease as lost instead of resurrecting it.
	require.NoError(t, lease.Release(ctx))
	extended, err = lease.Refresh(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestRedisLock_ReleaseIsTokenScoped(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	lock := scheduler.NewRedisLock(rc.Client, "test:token-scoped")

	stale, ok, err := lock.Acquire(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// Let the first lease lapse, then hand the lock to a new holder.
	time.Sleep(400 * time.Millisecond)
	current, ok, err := lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder's release must not free the new holder's lock.
	require.NoError(t, stale.Release(ctx))
	_, ok, err = lock.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, current.Release(ctx))
}
