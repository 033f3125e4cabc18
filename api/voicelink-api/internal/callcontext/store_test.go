// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicelink/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-callcontext"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	require.NoError(t, err)
	return logger
}

var (
	started = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	ended   = started.Add(90 * time.Second)
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCallNotFound)
	assert.ErrorIs(t, store.Complete(ctx, "missing", ReasonStopped, ended), ErrCallNotFound)

	require.NoError(t, store.Save(ctx, &Call{CallID: "CA1", ContactID: "42", IsActive: true, Status: StatusActive, StartedAt: started}))
	got, err := store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "42", got.ContactID)
	assert.True(t, got.IsActive)

	require.NoError(t, store.Complete(ctx, "CA1", "hangup", ended))
	got, err = store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.True(t, got.IsCompleted())
	assert.False(t, got.IsActive)
	assert.Equal(t, "hangup", got.Reason)
	assert.Equal(t, ended, got.EndedAt)

	require.NoError(t, store.Delete(ctx, "CA1"))
	_, err = store.Get(ctx, "CA1")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestRedisStore_Save(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, newTestLogger(t), time.Hour)

	key := "{voicelink:call}:CA1"
	mock.ExpectHSet(key,
		"call_id", "CA1",
		"contact_id", "42",
		"contact_name", "Ada",
		"status", StatusActive,
		"reason", "",
		"started_at", "2025-03-14T09:26:53Z",
		"ended_at", "",
	).SetVal(7)
	mock.ExpectExpire(key, time.Hour).SetVal(true)

	err := store.Save(ctx, &Call{CallID: "CA1", ContactID: "42", ContactName: "Ada", IsActive: true, Status: StatusActive, StartedAt: started})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_SaveRequiresID(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, newTestLogger(t), 0)

	require.Error(t, store.Save(context.Background(), &Call{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_SaveError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, newTestLogger(t), time.Hour)

	mock.ExpectHSet("{voicelink:call}:CA1",
		"call_id", "CA1",
		"contact_id", "",
		"contact_name", "",
		"status", "",
		"reason", "",
		"started_at", "",
		"ended_at", "",
	).SetErr(errors.New("connection refused"))

	err := store.Save(context.Background(), &Call{CallID: "CA1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Get(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, newTestLogger(t), time.Hour)

	mock.ExpectHGetAll("{voicelink:call}:CA1").SetVal(map[string]string{
		"call_id":      "CA1",
		"contact_id":   "42",
		"contact_name": "Ada",
		"status":       StatusActive,
		"started_at":   "2025-03-14T09:26:53Z",
		"ended_at":     "",
	})
	mock.ExpectHGetAll("{voicelink:call}:CA2").SetVal(map[string]string{})

	got, err := store.Get(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "CA1", got.CallID)
	assert.Equal(t, "Ada", got.ContactName)
	assert.True(t, got.IsActive)
	assert.True(t, started.Equal(got.StartedAt))
	assert.True(t, got.EndedAt.IsZero())

	_, err = store.Get(ctx, "CA2")
	assert.ErrorIs(t, err, ErrCallNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Complete(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, newTestLogger(t), time.Hour)

	key := "{voicelink:call}:CA1"
	mock.ExpectExists(key).SetVal(1)
	mock.ExpectHSet(key,
		"status", StatusCompleted,
		"reason", "hangup",
		"ended_at", "2025-03-14T09:28:23Z",
	).SetVal(0)
	mock.ExpectExpire(key, time.Hour).SetVal(true)
	mock.ExpectExists("{voicelink:call}:CA9").SetVal(0)

	require.NoError(t, store.Complete(ctx, "CA1", "hangup", ended))
	assert.ErrorIs(t, store.Complete(ctx, "CA9", "hangup", ended), ErrCallNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Delete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, newTestLogger(t), time.Hour)

	mock.ExpectDel("{voicelink:call}:CA1").SetVal(1)
	require.NoError(t, store.Delete(context.Background(), "CA1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
