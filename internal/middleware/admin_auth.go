package middleware

import (
	"intranet-assistant-go/pkg/token"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OperatorAuth 只接受运维 JWT，用于只读的台账查询接口。
func OperatorAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含有效的授权头"})
			return
		}
		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}
		c.Set("operator", claims.Subject)
		c.Next()
	}
}
