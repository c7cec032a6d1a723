package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const LockKeyPrefix = "lock:care:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`)

// DistLock 基于 SetNX 的分布式锁，多副本下保证巡检只有一个在跑
type DistLock struct {
	RDB *redis.Client
}

// Acquire 请求加锁，token 用来保证只释放自己的锁
func (l *DistLock) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	return clientOr(l.RDB).SetNX(ctx, LockKeyPrefix+name, token, ttl).Result()
}

// Release 用lua保证原子性
func (l *DistLock) Release(ctx context.Context, name, token string) error {
	return releaseScript.Run(ctx, clientOr(l.RDB), []string{LockKeyPrefix + name}, token).Err()
}

// Refresh 锁仍归 token 所有时重设过期时间，返回 false 表示锁已丢失
func (l *DistLock) Refresh(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, clientOr(l.RDB), []string{LockKeyPrefix + name}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
