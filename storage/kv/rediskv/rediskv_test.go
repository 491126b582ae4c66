package rediskv

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server: REDIS_ADDR=localhost:6379 go test ./storage/kv/rediskv
func TestStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, Options{Addr: addr, Prefix: "woe-test:" + uuid.New().String() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetItem(ctx, "a", "1"))
	v, ok, err := s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, s.RemoveItem(ctx, "a"))
	_, ok, err = s.GetItem(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_unreachable(t *testing.T) {
	_, err := Open(context.Background(), Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
