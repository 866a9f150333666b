package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/opsledger/src/models"
)

func TestCacheSessionStoreLifecycle(t *testing.T) {
	store := NewCacheSessionStore(time.Minute, time.Minute)
	session := store.Create(7, []string{"a", "b"})
	assert.Equal(t, models.SessionStateRunning, session.State)
	assert.Equal(t, 1, store.ActiveForUser(7))
	assert.Equal(t, 0, store.ActiveForUser(8))
	require.Len(t, store.ListForUser(7), 1)
	assert.Empty(t, store.ListForUser(8))

	require.NoError(t, store.Cancel(session.ID))
	// A stale copy must not clear the cancellation.
	require.NoError(t, store.Update(session.WithProgress(40, "detect", "working", time.Now())))
	got, err := store.Get(session.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, store.Finish(session.ID, models.SessionStateCancelled, "processing cancelled"))
	assert.Equal(t, 0, store.ActiveForUser(7))

	store.Expire(session.ID)
	_, err = store.Get(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Cancel(session.ID), ErrSessionNotFound)
	assert.ErrorIs(t, store.Update(session), ErrSessionNotFound)
}

func TestCacheSessionStoreExpiresAfterTTL(t *testing.T) {
	store := NewCacheSessionStore(20*time.Millisecond, time.Hour)
	session := store.Create(7, nil)
	assert.Eventually(t, func() bool {
		_, err := store.Get(session.ID)
		return err == ErrSessionNotFound
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, store.ActiveForUser(7))
}
