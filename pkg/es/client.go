// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewClient 创建 Elasticsearch 客户端，并在索引不存在时按向量维度创建索引。
func NewClient(ctx context.Context, esCfg config.ElasticsearchConfig, dims int) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureIndex(ctx, client, esCfg.IndexName, dims); err != nil {
		return nil, err
	}
	return client, nil
}

// IndexMapping 返回向量索引的 mapping。metadata 中的字段均为 keyword，以便按 URL 精确过滤。
func IndexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"fingerprint": { "type": "keyword" },
				"content": { "type": "text" },
				"metadata": {
					"properties": {
						"url": { "type": "keyword" },
						"source_url": { "type": "keyword" },
						"title": { "type": "keyword" },
						"chunk_info": { "type": "keyword", "index": false },
						"update_date": { "type": "keyword" }
					}
				},
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dims)
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(IndexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}
