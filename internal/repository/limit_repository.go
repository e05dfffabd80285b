package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const attemptsTTL = 24 * time.Hour

// LimitRepository 基于 Redis 提供固定窗口限流与任务重试计数。
type LimitRepository interface {
	// Allow 在 key 对应的当前窗口内计数加一，超过 limit 时返回 false。
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	IncrAttempts(ctx context.Context, key string) (int64, error)
	ResetAttempts(ctx context.Context, key string) error
}

type redisLimitRepository struct {
	redisClient *redis.Client
	now         func() time.Time
}

// NewLimitRepository 创建一个新的 LimitRepository 实例。
func NewLimitRepository(redisClient *redis.Client) LimitRepository {
	return &redisLimitRepository{redisClient: redisClient, now: time.Now}
}

func (r *redisLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	bucket := r.now().UnixNano() / int64(window)
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	pipe := r.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

// IncrAttempts 将 key 的失败次数加一并返回新值，计数在 24 小时后过期。
func (r *redisLimitRepository) IncrAttempts(ctx context.Context, key string) (int64, error) {
	n, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	if n == 1 {
		r.redisClient.Expire(ctx, key, attemptsTTL)
	}
	return n, nil
}

// ResetAttempts 清除 key 的失败次数。
func (r *redisLimitRepository) ResetAttempts(ctx context.Context, key string) error {
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}
	return nil
}
