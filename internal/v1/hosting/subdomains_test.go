package hosting

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traybueno/watchtower-api/internal/v1/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := store.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return NewRegistry(s)
}

func TestClaimAndResolve(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Claim(ctx, "proj1", "mygame"))

	projectID, ok, err := r.Resolve(ctx, "mygame")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "proj1", projectID)
}

func TestClaimConflict(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Claim(ctx, "proj1", "mygame"))
	assert.ErrorIs(t, r.Claim(ctx, "proj2", "mygame"), ErrSubdomainTaken)

	// Re-claiming your own name is fine
	require.NoError(t, r.Claim(ctx, "proj1", "mygame"))
}

func TestClaimReplacesPrevious(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Claim(ctx, "proj1", "oldname"))
	require.NoError(t, r.Claim(ctx, "proj1", "newname"))

	_, ok, err := r.Resolve(ctx, "oldname")
	require.NoError(t, err)
	assert.False(t, ok)

	projectID, ok, err := r.Resolve(ctx, "newname")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "proj1", projectID)
}

func TestClaimInvalidName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.Claim(ctx, "proj1", ""), ErrInvalidSubdomain)
	assert.ErrorIs(t, r.Claim(ctx, "proj1", "Has Spaces"), ErrInvalidSubdomain)
	assert.ErrorIs(t, r.Claim(ctx, "proj1", "-leading"), ErrInvalidSubdomain)
	assert.ErrorIs(t, r.Claim(ctx, "proj1", "UPPER"), ErrInvalidSubdomain)
}

func TestReleaseIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Claim(ctx, "proj1", "mygame"))
	require.NoError(t, r.Release(ctx, "proj1"))
	require.NoError(t, r.Release(ctx, "proj1"))

	_, ok, err := r.Resolve(ctx, "mygame")
	require.NoError(t, err)
	assert.False(t, ok)
}
