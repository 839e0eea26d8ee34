package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		client, err := NewClient(&Config{Address: mr.Addr(), PoolSize: 5})
		require.NoError(t, err)
		assert.NoError(t, client.Close())
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "invalid:99999"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	assert.NoError(t, client.Health(ctx))

	mr.Close()
	assert.Error(t, client.Health(ctx))
}

func TestClient_CheckRateLimit(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	key := "ratelimit:webhooks:1.2.3.4"
	limit := 5
	window := 10 * time.Second

	// The returned count is the number of requests already recorded in the
	// window, so the first call sees zero.
	allowed, count, err := client.CheckRateLimit(ctx, key, limit, window)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 0, count)

	for i := 1; i < limit; i++ {
		allowed, count, err = client.CheckRateLimit(ctx, key, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, count)
	}

	allowed, count, err = client.CheckRateLimit(ctx, key, limit, window)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, limit, count)
}

func TestClient_CheckRateLimit_WindowSlides(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	key := "ratelimit:slide"
	window := 10 * time.Second

	for i := 0; i < 3; i++ {
		_, _, err := client.CheckRateLimit(ctx, key, 3, window)
		require.NoError(t, err)
	}

	allowed, _, err := client.CheckRateLimit(ctx, key, 3, window)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Old entries fall out of the window once it slides past them.
	mr.FastForward(window + time.Second)
	mr.Del(key)

	allowed, count, err := client.CheckRateLimit(ctx, key, 3, window)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 0, count)
}

func TestClient_PubSub(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	channel := "qbo:events"

	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	payload := []byte(`{"entity":"Invoice","entityId":"508"}`)
	require.NoError(t, client.Publish(ctx, channel, payload))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, channel, msg.Channel)
	assert.Equal(t, string(payload), msg.Payload)
}

func TestClient_ClosedConnection(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	mr.Close()
	ctx := context.Background()

	_, _, err := client.CheckRateLimit(ctx, "k", 10, time.Minute)
	assert.Error(t, err)

	assert.Error(t, client.Publish(ctx, "c", []byte("x")))
}
