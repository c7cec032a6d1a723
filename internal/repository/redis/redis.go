package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"Care_Community/internal/config"
)

// Client 进程级客户端，仓库未显式注入时使用
var Client *redis.Client

// Init 建立连接池，启动时 Ping 不通直接失败
func Init(cfg config.RedisConfig) error {
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = 20
	}
	Client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     pool,
		MinIdleConns: pool / 4,
	})
	if err := Ping(context.Background()); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return nil
}

// Ping 健康检查用，最多等 1 秒
func Ping(ctx context.Context) error {
	if Client == nil {
		return fmt.Errorf("redis not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return Client.Ping(ctx).Err()
}

func Close() error {
	if Client == nil {
		return nil
	}
	return Client.Close()
}

func clientOr(c *redis.Client) *redis.Client {
	if c != nil {
		return c
	}
	return Client
}
