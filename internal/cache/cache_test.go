package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	now := time.Unix(1000, 0)
	store.WithClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	value, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))

	now = now.Add(2 * time.Minute)
	value, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemStoreSetNX(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	ok, err := store.SetNX(ctx, "notice", []byte("1"), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.SetNX(ctx, "notice", []byte("2"), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStoreSetsAndBatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.SAdd(ctx, "idx", "b", "a", "b"))
	members, err := store.SMembers(ctx, "idx")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
	require.NoError(t, store.SRem(ctx, "idx", "a"))
	ok, err := store.SIsMember(ctx, "idx", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetMany(ctx, map[string][]byte{"x": []byte("1"), "y": []byte("2")}, time.Minute))
	got, err := store.GetMany(ctx, []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "2", string(got["y"]))
}

func TestMemStorePubSub(t *testing.T) {
	store := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := store.Subscribe(ctx, "sync")
	require.NoError(t, err)
	require.NoError(t, store.Publish(context.Background(), "sync", []byte("hello")))
	select {
	case payload := <-ch:
		assert.Equal(t, "hello", string(payload))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}
