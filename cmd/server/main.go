// Package main 是 HTTP 服务的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"intranet-assistant-go/internal/app"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/internal/handler"
	"intranet-assistant-go/internal/middleware"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	cfg := config.MustLoad(*configPath)

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化依赖
	a, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatal("初始化依赖失败", err)
	}
	defer a.Close()

	// 4. 启动时校验会话 Cookie，失败只告警
	if err := a.IndexService.ValidateSession(rootCtx); err != nil {
		if errors.Is(err, pipeline.ErrAuthenticationExpired) {
			log.Errorf("会话 Cookie 已失效, 更新接口将返回 503 直到更换 Cookie: %v", err)
		} else {
			log.Warnf("会话 Cookie 校验失败: %v", err)
		}
	}

	// 5. 提示模板热更新与后台 Kafka 消费者
	config.Watch(*configPath, a.Prompts)
	if a.StartConsumer(rootCtx) {
		log.Info("Kafka 消费者已在后台启动")
	}

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())
	registerRoutes(r, a)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	<-rootCtx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
		os.Exit(1)
	}
	log.Info("服务已优雅关闭")
}

func registerRoutes(r *gin.Engine, a *app.App) {
	cfg := a.Cfg
	chatHandler := handler.NewChatHandler(a.ChatService)
	indexHandler := handler.NewIndexHandler(a.IndexService)
	maintenance := middleware.MaintenanceAuth(cfg.Maintenance.UpdateAPIKeyHash, a.JWT)

	r.GET("/healthz", handler.Health)

	generate := []gin.HandlerFunc{chatHandler.Generate}
	if a.LimitRepo != nil {
		limit := middleware.RateLimit(a.LimitRepo, "generate", cfg.Chat.RateLimitPerHour, time.Hour)
		generate = append([]gin.HandlerFunc{limit}, generate...)
	}
	r.POST("/generate", generate...)

	// 与旧客户端兼容的维护路径
	r.POST("/update-qdrant", maintenance, indexHandler.Update)
	r.POST("/remove-qdrant", maintenance, indexHandler.Remove)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/chat/ws", chatHandler.Handle)

		index := apiV1.Group("/index")
		{
			index.POST("/update", maintenance, indexHandler.Update)
			index.POST("/remove", maintenance, indexHandler.Remove)
			index.GET("/runs", middleware.OperatorAuth(a.JWT), indexHandler.Runs)
		}
	}
}
