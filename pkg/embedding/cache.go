package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"research-rag-go/pkg/log"
)

// cachedClient 在 Redis 中缓存向量，重复的查询与重复入库的分块不再调用 Embedding API。
// 缓存故障只记录日志，不影响主流程。
type cachedClient struct {
	inner Client
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

// NewCachedClient 用 Redis 缓存包装一个 embedding 客户端。
func NewCachedClient(inner Client, rdb *redis.Client, model string, ttl time.Duration) Client {
	return &cachedClient{inner: inner, rdb: rdb, model: model, ttl: ttl}
}

func (c *cachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.model, text)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vector []float32
		if jsonErr := json.Unmarshal(data, &vector); jsonErr == nil && len(vector) > 0 {
			return vector, nil
		}
	case err != redis.Nil:
		log.Warnf("[EmbeddingCache] 读取缓存失败, key: %s, error: %v", key, err)
	}

	vector, err := c.inner.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if payload, jsonErr := json.Marshal(vector); jsonErr == nil {
		if setErr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			log.Warnf("[EmbeddingCache] 写入缓存失败, key: %s, error: %v", key, setErr)
		}
	}
	return vector, nil
}

// cacheKey 由模型名与文本哈希组成，不同模型的向量互不混用。
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + model + ":" + hex.EncodeToString(sum[:])
}
