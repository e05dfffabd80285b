// Package app 按配置组装服务端与命令行共用的依赖。
package app

import (
	"context"
	"fmt"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/internal/repository"
	"intranet-assistant-go/internal/service"
	"intranet-assistant-go/pkg/cms"
	"intranet-assistant-go/pkg/cost"
	"intranet-assistant-go/pkg/database"
	"intranet-assistant-go/pkg/embedding"
	"intranet-assistant-go/pkg/es"
	"intranet-assistant-go/pkg/healthcheck"
	"intranet-assistant-go/pkg/intranet"
	"intranet-assistant-go/pkg/kafka"
	"intranet-assistant-go/pkg/llm"
	"intranet-assistant-go/pkg/log"
	"intranet-assistant-go/pkg/storage"
	"intranet-assistant-go/pkg/tika"
	"intranet-assistant-go/pkg/token"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// App 持有所有已初始化的组件。可选组件未配置时为 nil。
type App struct {
	Cfg      *config.Config
	Location *time.Location
	Prompts  *config.PromptStore
	JWT      *token.JWTManager

	DB       *gorm.DB
	Redis    *redis.Client
	Producer *kafka.Producer

	LimitRepo    repository.LimitRepository
	IndexService service.IndexService
	ChatService  service.ChatService
}

// New 按配置初始化全部依赖。MySQL、Redis、MinIO 与 Kafka 未配置时跳过，其余组件为必需。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc, err := time.LoadLocation(cfg.Indexing.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("无效的 indexing.time_zone '%s': %w", cfg.Indexing.TimeZone, err)
	}
	a := &App{
		Cfg:      cfg,
		Location: loc,
		Prompts:  config.NewPromptStore(cfg.LLM.Prompt),
		JWT:      token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours),
	}

	// 1. 存储
	esClient, err := es.NewClient(ctx, cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
	}
	vectorRepo := repository.NewVectorRepository(esClient, cfg.Elasticsearch.IndexName)

	var syncRunRepo repository.SyncRunRepository
	var recorder pipeline.SyncRunRecorder
	if cfg.Database.MySQL.DSN != "" {
		a.DB, err = database.NewMySQL(cfg.Database.MySQL.DSN, &model.SyncRun{})
		if err != nil {
			return nil, err
		}
		syncRunRepo = repository.NewSyncRunRepository(a.DB)
		recorder = syncRunRepo
	} else {
		log.Warnf("[App] 未配置 MySQL, 不记录同步台账")
	}

	if cfg.Database.Redis.Addr != "" {
		a.Redis, err = database.NewRedis(ctx, cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		a.LimitRepo = repository.NewLimitRepository(a.Redis)
	}

	var archive intranet.Archiver
	if cfg.MinIO.Endpoint != "" {
		minioArchive, err := storage.NewArchive(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		archive = minioArchive
	}

	// 2. 外部服务客户端
	intranetClient, err := intranet.NewClient(cfg.Intranet, tika.NewClient(cfg.Tika), archive)
	if err != nil {
		return nil, err
	}
	source := service.NewIntranetSource(intranetClient)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	costModel, err := cost.New(cfg.Embedding.Model, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	if !cost.Known(cfg.Embedding.Model) || !cost.Known(cfg.LLM.Model) {
		log.Warnf("[App] 模型 '%s' 或 '%s' 没有已知价格, 成本按 0 计算", cfg.Embedding.Model, cfg.LLM.Model)
	}

	// 3. 同步流水线
	writer := pipeline.NewIndexWriter(vectorRepo, embeddingClient, costModel, pipeline.WriterConfig{
		BatchSize:  cfg.Embedding.BatchSize,
		BatchDelay: cfg.Embedding.BatchDelay,
		Location:   loc,
	})
	processor := pipeline.NewProcessor(source, vectorRepo, writer, recorder, pipeline.ProcessorConfig{
		ChunkSize:    cfg.Indexing.ChunkSize,
		ChunkOverlap: cfg.Indexing.ChunkOverlap,
		SEKPerUSD:    cfg.Indexing.SEKPerUSD,
	})

	var queue service.TaskQueue
	if cfg.Kafka.Enabled {
		a.Producer = kafka.NewProducer(cfg.Kafka)
		queue = a.Producer
	}

	// 4. 业务服务
	a.IndexService = service.NewIndexService(processor, vectorRepo, syncRunRepo, source, queue,
		healthcheck.NewPinger(cfg.Maintenance.HealthcheckURL), service.IndexServiceConfig{
			ExcludedPaths:  cfg.Intranet.ExcludedPaths,
			PruneThreshold: cfg.Maintenance.PruneThreshold,
			Location:       loc,
		})
	searchService := service.NewSearchService(embeddingClient, vectorRepo, cfg.Chat.TopK, cfg.Chat.KeywordLimit)
	a.ChatService = service.NewChatService(searchService, llm.NewClient(cfg.LLM), cms.NewClient(cfg.CMS),
		a.Prompts, costModel, cfg.Chat, loc)
	return a, nil
}

// StartConsumer 在后台运行 Kafka 消费者，直到 ctx 被取消。需要 Kafka 与 Redis 均已配置。
func (a *App) StartConsumer(ctx context.Context) bool {
	if !a.Cfg.Kafka.Enabled || a.LimitRepo == nil {
		return false
	}
	consumer := kafka.NewConsumer(a.Cfg.Kafka, a.IndexService, a.LimitRepo)
	go consumer.Run(ctx)
	return true
}

// Close 释放连接。
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			log.Warnf("[App] 关闭 Kafka 生产者失败: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
