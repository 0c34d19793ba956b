package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"kidsafe-go/internal/config"
	"kidsafe-go/pkg/log"
)

// RDB 保存 token 黑名单与分析任务的重试计数。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接，启动时连不上直接退出。
func InitRedis(cfg config.RedisConfig) {
	RDB = redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infof("Redis client connected successfully, addr: %s, db: %d", cfg.Addr, cfg.DB)
}
