// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive 把抓取到的链接文件原件保存到 MinIO，便于排查抽取结果。
type Archive struct {
	client     *minio.Client
	bucketName string
}

// NewArchive 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewArchive(ctx context.Context, cfg config.MinIOConfig) (*Archive, error) {
	// 1. 初始化 MinIO 客户端
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return &Archive{client: client, bucketName: cfg.BucketName}, nil
}

// Put 保存一个对象，sourceURL 写入对象的用户元数据。
func (a *Archive) Put(ctx context.Context, objectName string, data []byte, contentType, sourceURL string) error {
	_, err := a.client.PutObject(ctx, a.bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"source-url": sourceURL},
	})
	if err != nil {
		return fmt.Errorf("上传对象 '%s' 失败: %w", objectName, err)
	}
	return nil
}
