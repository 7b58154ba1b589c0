// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
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
	Log           LogConfig           `mapstructure:"log"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Agent         AgentConfig         `mapstructure:"agent"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// AssistantConfig 描述当前助手实例的使用者与默认画像。
type AssistantConfig struct {
	UserID string `mapstructure:"user_id"`
	// RAGEnabled 是请求未指定时是否启用检索增强层的默认值。
	RAGEnabled bool                   `mapstructure:"rag_enabled"`
	Profile    map[string]interface{} `mapstructure:"profile"`
}

// StorageConfig 存储对话日志持久化的配置。
// Backend 为 "redis" 或 "memory"。
type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	ConversationKey string        `mapstructure:"conversation_key"`
	TTL             time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。DSN 为空时不启用归档。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AgentConfig 存储远程代理服务的配置。
type AgentConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储本地生成模型的配置。
type LLMConfig struct {
	APIKey       string              `mapstructure:"api_key"`
	BaseURL      string              `mapstructure:"base_url"`
	Model        string              `mapstructure:"model"`
	SystemPrompt string              `mapstructure:"system_prompt"`
	HistoryLimit int                 `mapstructure:"history_limit"`
	Generation   LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空时检索层只做意图识别。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// RAGConfig 存储检索增强层的配置。
type RAGConfig struct {
	TopK         int            `mapstructure:"top_k"`
	MinScore     float64        `mapstructure:"min_score"`
	// SeedDir 下的文本文件在启动时切块并写入知识库索引。
	SeedDir      string         `mapstructure:"seed_dir"`
	ChunkSize    int            `mapstructure:"chunk_size"`
	ChunkOverlap int            `mapstructure:"chunk_overlap"`
	Intents      []IntentConfig `mapstructure:"intents"`
}

// IntentConfig 描述一个需要收集字段的多轮意图。
type IntentConfig struct {
	Name           string            `mapstructure:"name"`
	Keywords       []string          `mapstructure:"keywords"`
	RequiredFields []string          `mapstructure:"required_fields"`
	FieldPatterns  map[string]string `mapstructure:"field_patterns"`
	Prompts        map[string]string `mapstructure:"prompts"`
	Confirmation   string            `mapstructure:"confirmation"`
	Action         string            `mapstructure:"action"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发布对话事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("assistant.user_id", "local-user")
	v.SetDefault("assistant.rag_enabled", true)
	v.SetDefault("storage.backend", "redis")
	v.SetDefault("storage.conversation_key", "chat_messages")
	v.SetDefault("agent.timeout", 10*time.Second)
	v.SetDefault("llm.history_limit", 20)
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 100)
	v.SetDefault("elasticsearch.index_name", "assistant_knowledge")
	v.SetDefault("kafka.topic", "assistant-conversation-events")
	v.SetDefault("kafka.group_id", "pai-assistant-archiver")
	v.SetDefault("minio.bucket_name", "assistant-transcripts")
}

// Load 读取配置文件（可选的 .env 会先被加载到环境变量），环境变量可覆盖同名配置，
// 例如 AGENT_BASE_URL 覆盖 agent.base_url。
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("读取 .env 文件失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 加载配置到全局变量 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
