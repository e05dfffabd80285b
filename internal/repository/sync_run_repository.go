package repository

import (
	"context"
	"intranet-assistant-go/internal/model"

	"gorm.io/gorm"
)

// SyncRunRepository 定义了同步台账的持久化操作。
type SyncRunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error
	// ListRecent 按时间倒序返回最近的同步记录，url 为空时不过滤。
	ListRecent(ctx context.Context, url string, limit int) ([]model.SyncRun, error)
}

type syncRunRepository struct {
	db *gorm.DB
}

// NewSyncRunRepository 创建一个新的 SyncRunRepository 实例。
func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepository{db: db}
}

// Create 写入一条同步记录。
func (r *syncRunRepository) Create(ctx context.Context, run *model.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *syncRunRepository) ListRecent(ctx context.Context, url string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var runs []model.SyncRun
	query := r.db.WithContext(ctx).Model(&model.SyncRun{})
	if url != "" {
		query = query.Where("url = ?", url)
	}
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
