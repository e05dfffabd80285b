package model

import "time"

// 同步运行的状态。
const (
	SyncStatusUpdated     = "updated"
	SyncStatusUnchanged   = "unchanged"
	SyncStatusFailed      = "failed"
	SyncStatusAuthExpired = "auth_expired"
)

// 同步运行的触发来源。
const (
	TriggerAPI     = "api"
	TriggerCLI     = "cli"
	TriggerSitemap = "sitemap"
	TriggerKafka   = "kafka"
)

// SyncRun 对应于数据库中的 sync_runs 表，记录每一次 URL 同步的结果与成本。
type SyncRun struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	URL       string    `gorm:"type:varchar(1024);not null;index:idx_sync_runs_url,length:255" json:"url"`
	Trigger   string    `gorm:"type:varchar(16);not null" json:"trigger"`
	Status    string    `gorm:"type:varchar(16);not null" json:"status"`
	Inserted  int       `gorm:"not null;default:0" json:"inserted"`
	Retained  int       `gorm:"not null;default:0" json:"retained"`
	Deleted   int       `gorm:"not null;default:0" json:"deleted"`
	CostSEK   float64   `gorm:"not null;default:0" json:"costSek"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SyncRun) TableName() string {
	return "sync_runs"
}
