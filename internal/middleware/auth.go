// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"intranet-assistant-go/pkg/hash"
	"intranet-assistant-go/pkg/log"
	"intranet-assistant-go/pkg/token"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const bearerPrefix = "Bearer "

type apiKeyBody struct {
	APIKey string `json:"api_key"`
}

// MaintenanceAuth 保护索引维护接口。请求须满足以下任一条件：
// 请求体中的 api_key 或 X-API-Key 请求头与 bcrypt 哈希匹配，或携带有效的运维 JWT。
// 请求体通过 ShouldBindBodyWith 缓存，后续处理函数需使用同样的方式读取。
func MaintenanceAuth(apiKeyHash string, jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, bearerPrefix) {
			claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
			if err == nil {
				c.Set("operator", claims.Subject)
				c.Next()
				return
			}
			log.Warnf("[MaintenanceAuth] 运维令牌无效: %v", err)
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" && c.Request.Body != nil && c.Request.ContentLength != 0 {
			var body apiKeyBody
			if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
				apiKey = body.APIKey
			}
		}
		if !hash.CheckPasswordHash(apiKey, apiKeyHash) {
			log.Warnf("[MaintenanceAuth] 未授权的维护请求, path: %s, ip: %s", c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			return
		}
		c.Set("operator", "api_key")
		c.Next()
	}
}
