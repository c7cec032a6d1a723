package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	SupportCntTTL       = 24 * time.Hour
	SupportCntKeyPrefix = "support:cnt:help"
)

// SupportCacheRepository 求助支持数缓存，数据库为准
type SupportCacheRepository struct {
	RDB *redis.Client
	TTL time.Duration
}

func (r *SupportCacheRepository) key(helpID uint64) string {
	return fmt.Sprintf("%s:%d", SupportCntKeyPrefix, helpID)
}

func (r *SupportCacheRepository) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return SupportCntTTL
}

// Get 第二个返回值表示是否命中
func (r *SupportCacheRepository) Get(ctx context.Context, helpID uint64) (int64, bool, error) {
	val, err := clientOr(r.RDB).Get(ctx, r.key(helpID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	return val, err == nil, err
}

// Set 回填
func (r *SupportCacheRepository) Set(ctx context.Context, helpID uint64, cnt int64) error {
	return clientOr(r.RDB).Set(ctx, r.key(helpID), cnt, r.ttl()).Err()
}

// Invalidate 写库后删缓存，delay>0 时再延迟删一次，抵消并发回填
func (r *SupportCacheRepository) Invalidate(ctx context.Context, helpID uint64, delay time.Duration) error {
	rdb := clientOr(r.RDB)
	key := r.key(helpID)
	if err := rdb.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if delay > 0 {
		go func() {
			t := time.NewTimer(delay)
			defer t.Stop()
			<-t.C
			_ = rdb.Del(context.Background(), key).Err()
		}()
	}
	return nil
}
