// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"intranet-assistant-go/pkg/log"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 流式接口 (text/plain 回答流与 websocket) 不记录响应体；请求体中的 api_key 会被隐藏。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		if c.Request.Body != nil && !isUpgrade(c) {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		if !isUpgrade(c) {
			c.Writer = blw
		}

		c.Next()

		responseBody := blw.body.String()
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/plain") {
			responseBody = "<stream>"
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", redactAPIKey(string(requestBody)),
			"responseBody", responseBody,
		)
	}
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

var apiKeyField = regexp.MustCompile(`"api_key"\s*:\s*"[^"]*"`)

func redactAPIKey(body string) string {
	return apiKeyField.ReplaceAllString(body, `"api_key":"***"`)
}
