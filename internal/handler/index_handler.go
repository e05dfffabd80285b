package handler

import (
	"context"
	"errors"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/internal/service"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// IndexHandler 负责向量索引的维护接口。
type IndexHandler struct {
	indexService service.IndexService
}

// NewIndexHandler 创建一个新的 IndexHandler 实例。
func NewIndexHandler(indexService service.IndexService) *IndexHandler {
	return &IndexHandler{indexService: indexService}
}

type urlRequest struct {
	URL   string `json:"url"`
	Async bool   `json:"async"`
}

// statusForError 把流水线错误映射为 HTTP 状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrAuthenticationExpired):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func bindURL(c *gin.Context) (urlRequest, bool) {
	var req urlRequest
	// MaintenanceAuth 已缓存请求体
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return req, false
	}
	if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" || u.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is invalid"})
		return req, false
	}
	return req, true
}

// Update 同步一个 URL 及其链接文件；async 为 true 时投递到队列并返回 202。
func (h *IndexHandler) Update(c *gin.Context) {
	req, ok := bindURL(c)
	if !ok {
		return
	}
	log.Infof("[IndexHandler] 收到更新请求, URL: %s, async: %v", req.URL, req.Async)

	if req.Async {
		if err := h.indexService.EnqueueUpdate(c.Request.Context(), req.URL, model.TriggerAPI); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, service.ErrQueueDisabled) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Update queued", "url": req.URL})
		return
	}

	result, err := h.indexService.UpdateURL(c.Request.Context(), req.URL, model.TriggerAPI)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully updated index",
		"result":  result,
	})
}

// Remove 删除一个 URL 及以它为来源的文件的全部记录。
func (h *IndexHandler) Remove(c *gin.Context) {
	req, ok := bindURL(c)
	if !ok {
		return
	}
	deleted, err := h.indexService.RemoveURL(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully removed URL from index",
		"deleted": deleted,
	})
}

// Runs 返回最近的同步记录。
func (h *IndexHandler) Runs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	runs, err := h.indexService.RecentRuns(c.Request.Context(), c.Query("url"), limit)
	if err != nil {
		log.Errorf("[IndexHandler] 查询同步记录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询同步记录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": runs, "message": "success"})
}

// Health 处理 GET /healthz。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
