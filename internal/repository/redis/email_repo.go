package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	InviteMailPrefix = "mail:invite"
	InviteMailTTL    = 10 * time.Minute
)

// InviteMailRepository 同一地址短时间内只发一次邀请邮件
type InviteMailRepository struct {
	RDB *redis.Client
}

// MarkSent 返回 false 表示窗口期内已经发过
func (r *InviteMailRepository) MarkSent(ctx context.Context, targetID uint64, email string) (bool, error) {
	key := fmt.Sprintf("%s:%d:%s", InviteMailPrefix, targetID, email)
	return clientOr(r.RDB).SetNX(ctx, key, 1, InviteMailTTL).Result()
}
