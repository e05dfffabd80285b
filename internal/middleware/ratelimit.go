package middleware

import (
	"context"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter 是固定窗口计数器。
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 对所有请求共享一个计数 key，超过 limit 时返回 429。
// 计数器不可用时放行请求，只记录日志。
func RateLimit(limiter Limiter, key string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			log.Warnf("[RateLimit] 限流计数失败, 放行请求: %v", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "För många förfrågningar, försök igen senare"})
			return
		}
		c.Next()
	}
}
