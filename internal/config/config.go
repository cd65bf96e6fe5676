// Package config 负责集中式配置加载：YAML 文件 + QUERYMIND_* 环境变量 + 默认值
// file: internal/config/config.go
package config

import (
	"QueryMind/internal/adapter/completion"
	"QueryMind/internal/qmmiddleware"
	"QueryMind/internal/service"
	"QueryMind/internal/service/knowledge"
	"QueryMind/internal/service/pipeline"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 QUERYMIND_SERVER_PORT
const EnvPrefix = "QUERYMIND"

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OpenAIConfig 在连接参数之外携带各调用的 token 上限
type OpenAIConfig struct {
	completion.Config `mapstructure:",squash"`
	// MaxTokens 是结果分析的上限，0 表示不限制
	MaxTokens     int `mapstructure:"max_tokens"`
	ChatMaxTokens int `mapstructure:"chat_max_tokens"`
}

type StorageConfig struct {
	PromptFile        string `mapstructure:"prompt_file"`
	ConnectionEnvFile string `mapstructure:"connection_env_file"`
}

type HistoryConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type ObservabilityConfig struct {
	PprofAddr      string `mapstructure:"pprof_addr"`
	GRPCHealthAddr string `mapstructure:"grpc_health_addr"`
}

// Config 是完整的服务配置
type Config struct {
	Server        ServerConfig                 `mapstructure:"server"`
	OpenAI        OpenAIConfig                 `mapstructure:"openai"`
	Stream        pipeline.Config              `mapstructure:"stream"`
	Storage       StorageConfig                `mapstructure:"storage"`
	Auth          service.AuthConfig           `mapstructure:"auth"`
	RateLimit     qmmiddleware.RateLimitConfig `mapstructure:"rate_limit"`
	History       HistoryConfig                `mapstructure:"history"`
	Knowledge     knowledge.Config             `mapstructure:"knowledge"`
	Observability ObservabilityConfig          `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", completion.DefaultModel)
	v.SetDefault("openai.max_tokens", 0)
	v.SetDefault("openai.chat_max_tokens", 1000)

	v.SetDefault("stream.item_timeout", time.Second)
	v.SetDefault("stream.first_chunk_budget", 60*time.Second)
	v.SetDefault("stream.queue_size", 64)

	v.SetDefault("storage.prompt_file", "data/prompts.json")
	v.SetDefault("storage.connection_env_file", ".env")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_password_hash", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("rate_limit.global_rate", 20)
	v.SetDefault("rate_limit.global_burst", 40)
	v.SetDefault("rate_limit.ip_rate", 1)
	v.SetDefault("rate_limit.ip_burst", 10)

	v.SetDefault("history.size", 200)
	v.SetDefault("history.ttl", 24*time.Hour)

	v.SetDefault("knowledge.table", knowledge.DefaultTable)
	v.SetDefault("knowledge.max_tokens", 1000)

	v.SetDefault("observability.pprof_addr", "")
	v.SetDefault("observability.grpc_health_addr", "")
}

// Load 读取配置。path 为空时只使用默认值与环境变量。
// 连接配置文件 (.env) 中的变量也会被导入环境，已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 '%s' 失败: %w", path, err)
		}
	}

	if envFile := v.GetString("storage.connection_env_file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("加载环境文件 '%s' 失败: %w", envFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置到结构体失败: %w", err)
	}
	// 兼容 OpenAI 官方 SDK 的环境变量名
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查明显无效的取值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 超出范围: %d", c.Server.Port)
	}
	if c.Stream.FirstChunkBudget < 0 || c.Stream.ItemTimeout < 0 {
		return errors.New("stream 段的时间配置不能为负数")
	}
	if c.Storage.PromptFile == "" {
		return errors.New("storage.prompt_file 不能为空")
	}
	return nil
}
