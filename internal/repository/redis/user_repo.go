package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const UserTokenPrefix = "login:user:token"

// TokenRepository 每个用户只保留最近一次登录的 access token
type TokenRepository struct {
	RDB *redis.Client
	TTL time.Duration
}

func (r *TokenRepository) key(userID uint64) string {
	return fmt.Sprintf("%s:%d", UserTokenPrefix, userID)
}

func (r *TokenRepository) Save(ctx context.Context, userID uint64, token string) error {
	if err := clientOr(r.RDB).Set(ctx, r.key(userID), token, r.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, userID uint64) (string, error) {
	token, err := clientOr(r.RDB).Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return token, nil
}

// Extend 滑动续期
func (r *TokenRepository) Extend(ctx context.Context, userID uint64) error {
	return clientOr(r.RDB).Expire(ctx, r.key(userID), r.TTL).Err()
}

func (r *TokenRepository) Delete(ctx context.Context, userID uint64) error {
	return clientOr(r.RDB).Del(ctx, r.key(userID)).Err()
}
