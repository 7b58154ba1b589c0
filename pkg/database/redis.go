// Package database 负责创建 MySQL 与 Redis 连接。
package database

import (
	"context"
	"fmt"
	"pai-assistant-go/internal/config"
	"pai-assistant-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// InitRedis 创建 Redis 客户端并测试连接。
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
