package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/errors"
	"cartsync/internal/testutil"
)

func TestGenerateSnapshotKey(t *testing.T) {
	assert.Equal(t, "cart:snapshot:user:42", generateSnapshotKey("user:42"))
	assert.Equal(t, "cart:snapshot:session:abc", generateSnapshotKey("session:abc"))
}

// Integration Tests

func TestRedisSnapshotRepository_RoundTrip(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisSnapshotRepository(client, time.Minute)
	ctx := context.Background()

	_, err := repo.Find(ctx, "user:42")
	_, ok := errors.IsNotFoundError(err)
	require.True(t, ok)

	require.NoError(t, repo.Save(ctx, "user:42", snapshotCart()))

	cart, err := repo.Find(ctx, "user:42")
	require.NoError(t, err)
	if diff := cmp.Diff(snapshotCart(), cart); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	ttl, err := client.TTL(ctx, generateSnapshotKey("user:42")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, repo.Delete(ctx, "user:42"))
	_, err = repo.Find(ctx, "user:42")
	_, ok = errors.IsNotFoundError(err)
	assert.True(t, ok)
}

func TestRedisSnapshotRepository_CorruptPayload(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewRedisSnapshotRepository(client, 0)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, generateSnapshotKey("user:1"), "{not json", 0).Err())

	_, err := repo.Find(ctx, "user:1")

	assert.ErrorContains(t, err, "decoding cart snapshot")
}
