package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"mediavault/pkg/storage"
	"mediavault/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedBackend 是一个装饰器，它为底层的 storage.Backend 添加 Redis 存在性缓存
// 场景：去重热路径。Ingest 大文件时，大部分 Chunk 都已经存在，
// Has 走 Redis 能省掉一次远端 (S3) 的往返。
type CachedBackend struct {
	backend storage.Backend // 被装饰的底层存储 (如 S3)
	client  *redis.Client   // Redis 客户端
	ttl     time.Duration   // 缓存过期时间 (例如 24h)
	log     *logrus.Entry
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

func NewCachedBackend(backend storage.Backend, cfg Config) (*CachedBackend, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedBackend{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		log:     logrus.WithField("component", "cache"),
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedBackend) cacheKey(hash types.Hash) string {
	return "mv:obj:" + string(hash)
}

// Has 优先查 Redis，实现毫秒级去重
func (s *CachedBackend) Has(ctx context.Context, hash types.Hash) (bool, error) {
	key := s.cacheKey(hash)

	// 1. 查 Redis
	// Exists 返回 1 表示存在，0 表示不存在
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		// 缓存故障降级 (Cache Failure Fallback)
		// 如果 Redis 挂了，不让整个程序崩溃，而是退化为无缓存模式，直接查底层存储。
		s.log.WithError(err).Warn("redis unavailable, falling back to backend")
	} else if val > 0 {
		// Cache Hit! 无需发起底层网络请求，直接返回。
		return true, nil
	}

	// 2. 缓存未命中 (Cache Miss)，查底层存储
	found, err := s.backend.Has(ctx, hash)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (Cache Fill)
	if found {
		// 异步写入 Redis，不要阻塞主流程
		// 使用 context.Background() 确保即使上层 ctx 取消，回填也能完成
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, key, "1", s.ttl)
		}()
	}

	return found, nil
}

// Put 写入对象。利用 Has 的缓存能力进行预检。
func (s *CachedBackend) Put(ctx context.Context, hash types.Hash, data []byte) error {
	// 1. 如果 Redis 里有，这一步耗时 < 1ms，直接跳过上传
	exists, err := s.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil // 幂等性：已存在
	}

	// 2. 穿透到底层存储
	if err := s.backend.Put(ctx, hash, data); err != nil {
		return err
	}

	// 3. 只有底层写成功了，才写 Redis
	// 这里的 Set 错误可以忽略，不影响主流程
	key := s.cacheKey(hash)
	s.client.Set(ctx, key, "1", s.ttl)

	return nil
}

// Get 透传 - 我们不缓存 Blob 数据
// 原因：媒体 Chunk 可能很大，Redis 内存极其宝贵，只存存在性(Existence)性价比最高。
func (s *CachedBackend) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	return s.backend.Get(ctx, hash)
}

// Delete 先删缓存，再删底层
// 顺序很重要：先删缓存的话，即使底层删除失败，下次 Has 也只会重新回填真实状态;
// 反过来会留下一个指向已删对象的假阳性缓存项，在 TTL 内一直骗过去重逻辑。
func (s *CachedBackend) Delete(ctx context.Context, hash types.Hash) error {
	key := s.cacheKey(hash)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}

	return s.backend.Delete(ctx, hash)
}

// ExpandHash 透传给底层存储 (缓存层没有前缀索引)
func (s *CachedBackend) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	expander, ok := s.backend.(storage.HashExpander)
	if !ok {
		return "", fmt.Errorf("underlying storage does not support hash expansion")
	}
	return expander.ExpandHash(ctx, short)
}

// Close 关闭 Redis 连接
func (s *CachedBackend) Close() error {
	return s.client.Close()
}
