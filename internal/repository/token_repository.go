package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenRepository 基于 Redis 的 token 黑名单。
type TokenRepository interface {
	Blacklist(ctx context.Context, tokenString string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenString string) (bool, error)
}

type redisTokenRepository struct {
	redisClient *redis.Client
}

// NewTokenRepository 创建一个新的 TokenRepository 实例。
func NewTokenRepository(redisClient *redis.Client) TokenRepository {
	return &redisTokenRepository{redisClient: redisClient}
}

func blacklistKey(tokenString string) string {
	return "blacklist:" + tokenString
}

// Blacklist 写入黑名单，过期时间为 token 的剩余有效期。
func (r *redisTokenRepository) Blacklist(ctx context.Context, tokenString string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.redisClient.Set(ctx, blacklistKey(tokenString), "true", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (r *redisTokenRepository) IsBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return n > 0, nil
}
