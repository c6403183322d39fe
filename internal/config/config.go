// Package config 负责加载和校验应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 索引后端
const (
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Index         IndexConfig         `mapstructure:"index"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Database      DatabaseConfig      `mapstructure:"database"`
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

// IndexConfig 描述向量索引的逻辑命名空间与字段名。
type IndexConfig struct {
	Backend     string        `mapstructure:"backend"`
	Database    string        `mapstructure:"database"`
	Collection  string        `mapstructure:"collection"`
	IndexName   string        `mapstructure:"index_name"`
	TextField   string        `mapstructure:"text_field"`
	VectorField string        `mapstructure:"vector_field"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Namespace 返回 "database.collection" 形式的物理索引名。
func (c IndexConfig) Namespace() string {
	return c.Database + "." + c.Collection
}

// Persistent 表示索引内容是否在进程重启后仍然存在。
func (c IndexConfig) Persistent() bool {
	return c.Backend != BackendMemory
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Insecure  bool   `mapstructure:"insecure"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Dimensions    int           `mapstructure:"dimensions"`
	StripNewLines bool          `mapstructure:"strip_new_lines"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置提示词模板与兜底文案。
type LLMPromptConfig struct {
	Template        string `mapstructure:"template"`
	NoResultText    string `mapstructure:"no_result_text"`
	NoAnswerText    string `mapstructure:"no_answer_text"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
}

// IngestConfig 存储文档入库流程的配置。
type IngestConfig struct {
	SourceDir    string `mapstructure:"source_dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TikaURL      string `mapstructure:"tika_url"`
}

// RetrievalConfig 存储默认检索策略。
type RetrievalConfig struct {
	Strategy string  `mapstructure:"strategy"`
	TopK     int     `mapstructure:"top_k"`
	FetchK   int     `mapstructure:"fetch_k"`
	Lambda   float64 `mapstructure:"lambda"`
}

// DatabaseConfig 存储可选的数据库连接配置，DSN/地址为空表示不启用。
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

// KafkaConfig 存储 Kafka 相关的配置。
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

// ConfigurationError 表示缺失或非法的必需配置，启动时即为致命错误。
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("index.backend", BackendElasticsearch)
	v.SetDefault("index.database", "research")
	v.SetDefault("index.collection", "embeddings")
	v.SetDefault("index.index_name", "vector_index")
	v.SetDefault("index.text_field", "text")
	v.SetDefault("index.vector_field", "embeddings")
	v.SetDefault("index.timeout", "10s")

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.strip_new_lines", true)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.cache_ttl", "24h")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.generation.temperature", 1.0)
	v.SetDefault("llm.prompt.no_result_text", "No relevant information was found in the indexed papers.")
	v.SetDefault("llm.prompt.no_answer_text", "No answer is available right now: the paper index could not be searched.")
	v.SetDefault("llm.prompt.max_context_chars", 12000)

	v.SetDefault("ingest.source_dir", "./papers")
	v.SetDefault("ingest.chunk_size", 100)
	v.SetDefault("ingest.chunk_overlap", 20)

	v.SetDefault("retrieval.strategy", "diversity")
	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("retrieval.fetch_k", 50)
	v.SetDefault("retrieval.lambda", 0.1)

	// 可选组件，地址为空表示不启用；声明默认值以便环境变量覆盖
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("ingest.tika_url", "")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")

	v.SetDefault("kafka.topic", "research-train")
	v.SetDefault("kafka.group_id", "research-rag-consumer")
	v.SetDefault("minio.bucket_name", "papers")
}

// Load 读取 .env、YAML 配置文件与环境变量，并校验必需项。
// 配置文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 与原有部署保持一致的环境变量名
	_ = v.BindEnv("llm.api_key", "OPEN_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY")
	_ = v.BindEnv("elasticsearch.addresses", "VECTOR_STORE_URL", "ELASTICSEARCH_ADDRESSES")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, &ConfigurationError{Key: "config", Reason: fmt.Sprintf("读取配置文件失败: %v", err)}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Key: "config", Reason: fmt.Sprintf("无法将配置解析到结构体中: %v", err)}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必需配置与参数范围。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return &ConfigurationError{Key: "llm.api_key", Reason: "API key is required (OPEN_API_KEY)"}
	}
	switch c.Index.Backend {
	case BackendElasticsearch:
		if err := validateURLs(c.Elasticsearch.Addresses); err != nil {
			return &ConfigurationError{Key: "elasticsearch.addresses", Reason: err.Error()}
		}
	case BackendMemory:
	default:
		return &ConfigurationError{Key: "index.backend", Reason: fmt.Sprintf("unknown backend %q", c.Index.Backend)}
	}
	if c.Embedding.Dimensions <= 0 {
		return &ConfigurationError{Key: "embedding.dimensions", Reason: "must be positive"}
	}
	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return &ConfigurationError{Key: "ingest.chunk_overlap", Reason: "require 0 <= chunk_overlap < chunk_size"}
	}
	switch c.Retrieval.Strategy {
	case "similarity", "diversity":
	default:
		return &ConfigurationError{Key: "retrieval.strategy", Reason: fmt.Sprintf("unknown strategy %q, expected similarity or diversity", c.Retrieval.Strategy)}
	}
	if c.Retrieval.Lambda < 0 || c.Retrieval.Lambda > 1 {
		return &ConfigurationError{Key: "retrieval.lambda", Reason: "must be within [0,1]"}
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.FetchK < c.Retrieval.TopK {
		return &ConfigurationError{Key: "retrieval.fetch_k", Reason: "require 0 < top_k <= fetch_k"}
	}
	return nil
}

// AddressList 返回逗号分隔的 Elasticsearch 地址列表。
func (c ElasticsearchConfig) AddressList() []string {
	var out []string
	for _, a := range strings.Split(c.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func validateURLs(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("index store connection string is required (VECTOR_STORE_URL)")
	}
	for _, a := range strings.Split(raw, ",") {
		u, err := url.Parse(strings.TrimSpace(a))
		if err != nil {
			return fmt.Errorf("malformed address %q: %w", a, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("malformed address %q: expected http(s)://host[:port]", a)
		}
	}
	return nil
}
