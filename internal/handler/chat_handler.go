// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/internal/service"
	"intranet-assistant-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责聊天接口：HTTP 分块流与 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// streamWriter 把 llm.MessageWriter 适配到 HTTP 分块响应。
type streamWriter struct {
	c       *gin.Context
	started bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *streamWriter) WriteMessage(_ int, data []byte) error {
	if !w.started {
		w.c.Header("Content-Type", "text/plain; charset=utf-8")
		w.c.Header("Cache-Control", "no-cache")
		w.c.Header("X-Accel-Buffering", "no")
		w.c.Status(http.StatusOK)
		w.started = true
	}
	if _, err := w.c.Writer.Write(data); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// Generate 处理 POST /generate，以 text/plain 分块流返回回答。
func (h *ChatHandler) Generate(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserInput == "" {
		log.Warnf("[ChatHandler] 请求缺少 user_input")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ingen användarinput inmatad"})
		return
	}

	w := &streamWriter{c: c}
	if err := h.chatService.Generate(c.Request.Context(), req, w); err != nil {
		log.Errorf("[ChatHandler] 生成回答失败: %v", err)
		if !w.started {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
		}
	}
}

// Handle 处理 WebSocket 连接：每条文本消息是一个 ChatRequest JSON，回答按分块逐帧发送。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, ip: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeWSError(conn, "invalid request")
			continue
		}
		if err := h.chatService.Generate(c.Request.Context(), req, conn); err != nil {
			log.Errorf("[ChatHandler] 处理流式响应失败: %v", err)
			writeWSError(conn, err.Error())
			if !errors.Is(err, pipeline.ErrInvalidArgument) {
				return
			}
			continue
		}
		done, _ := json.Marshal(map[string]string{"type": "completion", "status": "finished"})
		_ = conn.WriteMessage(websocket.TextMessage, done)
	}
}

func writeWSError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
