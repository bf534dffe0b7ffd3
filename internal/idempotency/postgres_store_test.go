package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carorbit/reservations/internal/testutil"
)

func TestPostgresStore_PutThenGet_RoundTrips(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db, 7*24*time.Hour)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	hash, err := ComputeRequestHash([]byte(`{"a":1}`))
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, tx, Record{
		Scope:          "reservations.create",
		Key:            "key-1",
		RequestHash:    hash,
		ResponseStatus: 201,
		ResponseBody:   []byte(`{"code":"RES-20250201-ABCDE"}`),
	}))
	require.NoError(t, tx.Commit())

	rec, err := store.Get(ctx, "reservations.create", "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, hash, rec.RequestHash)
	assert.Equal(t, 201, rec.ResponseStatus)
	assert.Equal(t, `{"code":"RES-20250201-ABCDE"}`, string(rec.ResponseBody))
	assert.True(t, rec.ExpiresAt.After(time.Now()))
}

func TestPostgresStore_Get_MissReturnsNilNoError(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db, 0)
	rec, err := store.Get(context.Background(), "reservations.create", "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPostgresStore_Put_DuplicateKeyIsNoOp(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db, time.Hour)
	ctx := context.Background()

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tx1, Record{
		Scope: "s", Key: "k", RequestHash: "hash-1", ResponseStatus: 200, ResponseBody: []byte(`{}`),
	}))
	require.NoError(t, tx1.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tx2, Record{
		Scope: "s", Key: "k", RequestHash: "hash-2", ResponseStatus: 201, ResponseBody: []byte(`{}`),
	}))
	require.NoError(t, tx2.Commit())

	rec, err := store.Get(ctx, "s", "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "hash-1", rec.RequestHash, "first write wins; second is a silent no-op")
}

func TestPostgresStore_Cleanup_RemovesExpiredOnly(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db, time.Hour)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tx, Record{
		Scope: "s", Key: "expired", RequestHash: "h", ResponseStatus: 200, ResponseBody: []byte(`{}`),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.Put(ctx, tx, Record{
		Scope: "s", Key: "fresh", RequestHash: "h", ResponseStatus: 200, ResponseBody: []byte(`{}`),
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, tx.Commit())

	n, err := store.Cleanup(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec, err := store.Get(ctx, "s", "fresh")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
