// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Indexing      IndexingConfig      `mapstructure:"indexing"`
	Intranet      IntranetConfig      `mapstructure:"intranet"`
	CMS           CMSConfig           `mapstructure:"cms"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储运维令牌 (operator token) 相关的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
	// Enabled 为 false 时更新接口只做同步处理，不启动消费者。
	Enabled bool `mapstructure:"enabled"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置查询改写与回答阶段的系统提示模板。
// 模板中可用占位符: {history} {documents} {now} {question}。
type LLMPromptConfig struct {
	QueryRewrite string `mapstructure:"query_rewrite"`
	Answer       string `mapstructure:"answer"`
}

// IndexingConfig 存储分块与同步相关的配置。
type IndexingConfig struct {
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TimeZone     string `mapstructure:"time_zone"`
	// SEKPerUSD 用于把成本换算成克朗，仅用于日志与台账。
	SEKPerUSD float64 `mapstructure:"sek_per_usd"`
}

// IntranetConfig 存储内网站点、会话 Cookie 与 sitemap 的配置。
type IntranetConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	CookieName        string        `mapstructure:"cookie_name"`
	CookieValue       string        `mapstructure:"cookie_value"`
	IdPHost           string        `mapstructure:"idp_host"`
	ValidateURL       string        `mapstructure:"validate_url"`
	SitemapURL        string        `mapstructure:"sitemap_url"`
	ExcludedPaths     []string      `mapstructure:"excluded_paths"`
	FileLinkPattern   string        `mapstructure:"file_link_pattern"`
	FileLinkPrefix    string        `mapstructure:"file_link_prefix"`
	Timeout           time.Duration `mapstructure:"timeout"`
	// RequestsPerSecond 限制对内网的请求速率，0 表示不限制。
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// CMSConfig 存储聊天记录 CMS (Directus) 的配置。
type CMSConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	AccessToken       string `mapstructure:"access_token"`
	ChatCollection    string `mapstructure:"chat_collection"`
	MessageCollection string `mapstructure:"message_collection"`
}

// ChatConfig 存储聊天接口的检索与限流参数。
type ChatConfig struct {
	MaxHistory       int `mapstructure:"max_history"`
	MaxInputChars    int `mapstructure:"max_input_chars"`
	TopK             int `mapstructure:"top_k"`
	KeywordLimit     int `mapstructure:"keyword_limit"`
	RateLimitPerHour int `mapstructure:"rate_limit_per_hour"`
}

// MaintenanceConfig 存储运维接口与清理任务的配置。
type MaintenanceConfig struct {
	UpdateAPIKeyHash string `mapstructure:"update_api_key_hash"`
	PruneThreshold   int    `mapstructure:"prune_threshold"`
	HealthcheckURL   string `mapstructure:"healthcheck_url"`
}

// Load 从指定路径读取 YAML 配置，并允许 INTRANET_ 前缀的环境变量覆盖（用于密钥）。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("INTRANET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// MustLoad 与 Load 相同，但在失败时 panic，供 main 使用。
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.token_expire_hours", 24)
	v.SetDefault("kafka.group_id", "intranet-assistant-consumer")
	v.SetDefault("elasticsearch.index_name", "intranet_rag")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.dimensions", 3072)
	v.SetDefault("embedding.batch_size", 1000)
	v.SetDefault("embedding.batch_delay", 2*time.Second)
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("indexing.chunk_size", 4000)
	v.SetDefault("indexing.chunk_overlap", 300)
	v.SetDefault("indexing.time_zone", "Europe/Stockholm")
	v.SetDefault("indexing.sek_per_usd", 10.0)
	v.SetDefault("intranet.timeout", 10*time.Second)
	v.SetDefault("intranet.requests_per_second", 5.0)
	v.SetDefault("intranet.file_link_pattern", `(^/alla-dokument/|\.pdf$)`)
	v.SetDefault("intranet.file_link_prefix", "/alla-dokument/")
	v.SetDefault("cms.chat_collection", "intranet_chat")
	v.SetDefault("cms.message_collection", "intranet_messages")
	v.SetDefault("chat.max_history", 12)
	v.SetDefault("chat.max_input_chars", 1000)
	v.SetDefault("chat.top_k", 5)
	v.SetDefault("chat.keyword_limit", 3)
	v.SetDefault("chat.rate_limit_per_hour", 100)
	v.SetDefault("maintenance.prune_threshold", 50)
}
