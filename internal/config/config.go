// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	OCR           OCRConfig           `mapstructure:"ocr"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	RAG           RAGConfig           `mapstructure:"rag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
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

// PostgresConfig 存储 pgvector 所在 PostgreSQL 的连接配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
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
}

// OCRConfig 存储 OCR 检测服务的配置。
type OCRConfig struct {
	ServerURL      string `mapstructure:"server_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
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
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	Model           string `mapstructure:"model"`
	ExtractionModel string `mapstructure:"extraction_model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// VectorStoreConfig 选择向量存储后端：elasticsearch | pgvector | memory。
type VectorStoreConfig struct {
	Type string `mapstructure:"type"`
}

// RAGConfig 存储问答相关的配置。
type RAGConfig struct {
	TopK             int     `mapstructure:"top_k"`
	RateLimitPerMin  float64 `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
	ReindexWorkers   int     `mapstructure:"reindex_workers"`
	RequestTimeoutMs int     `mapstructure:"request_timeout_ms"`
}

// RequestTimeout 返回包裹外部调用的超时时间，未配置时为 60 秒。
func (c RAGConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Load 读取 .env 与 YAML 配置文件，并允许 RECEIPT_ 前缀的环境变量覆盖配置项。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RECEIPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化全局配置，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.group_id", "receipt-rag-go-consumer")
	v.SetDefault("ocr.timeout_seconds", 60)
	v.SetDefault("elasticsearch.index_name", "receipts")
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("vector_store.type", "elasticsearch")
	v.SetDefault("rag.top_k", 10)
	v.SetDefault("rag.rate_limit_per_minute", 30)
	v.SetDefault("rag.rate_limit_burst", 5)
	v.SetDefault("rag.reindex_workers", 4)
}
