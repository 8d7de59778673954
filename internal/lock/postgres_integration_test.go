//go:build integration

package lock_test

import (
	"context"
	"testing"

	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/RezaEskandarii/gofire/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSessions_MutualExclusion(t *testing.T) {
	tdb := testutil.NewTestDB(t, 4)
	ctx := context.Background()
	factory := lock.NewPostgresSessionFactory(tdb.DB)

	a, err := factory.NewSession(ctx)
	require.NoError(t, err)
	b, err := factory.NewSession(ctx)
	require.NoError(t, err)
	defer b.Close(ctx)

	key := lock.JobKey(7)
	ok, err := a.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "session locks are reentrant")

	ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx, key))
	ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "one acquisition is still held")

	require.NoError(t, a.Close(ctx))
	ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "closing the session releases its locks")
}

func TestPostgresTxLock_ReleasedAtCommit(t *testing.T) {
	tdb := testutil.NewTestDB(t, 4)
	ctx := context.Background()

	session, err := lock.NewPostgresSessionFactory(tdb.DB).NewSession(ctx)
	require.NoError(t, err)
	defer session.Close(ctx)

	tx, err := tdb.BeginTx(ctx, nil)
	require.NoError(t, err)
	ok, err := lock.NewPostgresTxLock(tx).TryLock(ctx, lock.JobKey(9))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = session.TryLock(ctx, lock.JobKey(9))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tx.Commit())
	ok, err = session.TryLock(ctx, lock.JobKey(9))
	require.NoError(t, err)
	assert.True(t, ok)
}
