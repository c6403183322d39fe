package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls  int
	vector []float32
	err    error
}

func (c *countingClient) CreateEmbedding(context.Context, string) ([]float32, error) {
	c.calls++
	return c.vector, c.err
}

// 指向一个不可达地址的 Redis，用于验证缓存故障时的降级行为
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCachedClient_FallsThroughWhenRedisDown(t *testing.T) {
	inner := &countingClient{vector: []float32{1, 0, 0}}
	c := NewCachedClient(inner, unreachableRedis(t), "text-embedding-ada-002", time.Hour)

	vector, err := c.CreateEmbedding(context.Background(), "attention is all you need")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vector)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedClient_PropagatesInnerError(t *testing.T) {
	inner := &countingClient{err: errors.New("rate limited")}
	c := NewCachedClient(inner, unreachableRedis(t), "m", time.Hour)

	_, err := c.CreateEmbedding(context.Background(), "q")
	assert.EqualError(t, err, "rate limited")
}

func TestCacheKey(t *testing.T) {
	a := cacheKey("model-a", "same text")
	assert.Equal(t, a, cacheKey("model-a", "same text"))
	assert.NotEqual(t, a, cacheKey("model-b", "same text"))
	assert.NotEqual(t, a, cacheKey("model-a", "other text"))
	assert.Contains(t, a, "embedding:model-a:")
}
