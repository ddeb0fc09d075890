package redis

import (
	"context"
	"testing"
	"time"

	"soma-bot/internal/conversation"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(store.Close)
	return store, mr
}

func TestSessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Hour)

	draft := conversation.NewDraft("ord42", "jane_d", time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	require.NoError(t, draft.SetCustomerName("Jane Doe"))
	require.NoError(t, draft.SetPhone("+65 9123 4567"))

	require.NoError(t, store.Save(ctx, 99, conversation.Session{
		State: conversation.StateAskItem,
		Draft: draft,
	}))
	assert.True(t, mr.Exists("session:99"))
	assert.Equal(t, time.Hour, mr.TTL("session:99"))

	sess, err := store.Load(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateAskItem, sess.State)
	require.NotNil(t, sess.Draft)
	assert.Equal(t, "ord42", sess.Draft.OrderID)
	assert.Equal(t, "+65 9123 4567", sess.Draft.Phone)
	assert.True(t, draft.CreatedAt.Equal(sess.Draft.CreatedAt))
}

func TestSessionStore_MissingKeyIsIdle(t *testing.T) {
	store, _ := newTestStore(t, 0)

	sess, err := store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, conversation.Session{}, sess)
	assert.Equal(t, defaultTTL, store.ttl)
}

func TestSessionStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Minute)

	require.NoError(t, store.Save(ctx, 5, conversation.Session{State: conversation.StateAskName}))
	mr.FastForward(2 * time.Minute)

	sess, err := store.Load(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateTerminated, sess.State)
}

func TestSessionStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Hour)

	require.NoError(t, store.Save(ctx, 5, conversation.Session{State: conversation.StateAskName}))
	require.NoError(t, store.Delete(ctx, 5))
	assert.False(t, mr.Exists("session:5"))
	require.NoError(t, store.Delete(ctx, 5))
}

func TestSessionStore_CorruptValue(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	require.NoError(t, mr.Set("session:3", "{not json"))

	_, err := store.Load(context.Background(), 3)
	assert.ErrorContains(t, err, "redis.Load")
}

func TestSessionStore_Ping(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	require.NoError(t, store.Ping(context.Background(), zap.NewNop()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, store.Ping(ctx, zap.NewNop()))
}
