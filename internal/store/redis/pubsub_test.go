package redis_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	redisstore "github.com/gosuda/appexplorer/internal/store/redis"
)

func TestStoreKey(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.StoreKey("ws1", "board-b1")
		assert.Equal(t, "appexplorer:ws1:kv:board-b1", got)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		got := redisstore.StoreKey("ws1", "boardIds")
		assert.True(t, strings.HasPrefix(got, "appexplorer:"), "expected prefix 'appexplorer:', got %q", got)
	})

	t.Run("workspaces do not collide", func(t *testing.T) {
		t.Parallel()

		a := redisstore.StoreKey("ws1", "boardIds")
		b := redisstore.StoreKey("ws2", "boardIds")
		assert.NotEqual(t, a, b)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, redisstore.StoreKey("ws", "k"), redisstore.StoreKey("ws", "k"))
	})
}

func TestEventsChannel(t *testing.T) {
	t.Parallel()

	got := redisstore.EventsChannel("ws1")
	assert.Equal(t, "appexplorer:ws1:events", got)
	assert.NotEqual(t, redisstore.EventsChannel("ws1"), redisstore.EventsChannel("ws2"))
}

func TestChannelAndKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, redisstore.EventsChannel("ws"), redisstore.StoreKey("ws", "events"))
}
