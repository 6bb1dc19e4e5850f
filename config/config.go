// Package config 统一配置加载，支持 YAML 文件 + 环境变量覆盖。
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("chatflow.yaml").
//	    WithEnvPrefix("CHATFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/responder"
	"gopkg.in/yaml.v3"
)

// Config 是 chatflow 的完整配置结构。
type Config struct {
	// Conversation 运行预算与回放设置
	Conversation conversation.Config `yaml:"conversation"`

	// Providers 各厂商凭据与默认模型
	Providers ProvidersConfig `yaml:"providers"`

	// Room 实时聊天室设置
	Room RoomConfig `yaml:"room"`

	// Store 本地转录存储
	Store StoreConfig `yaml:"store"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Responder 内部应答助手配置
	Responder ResponderConfig `yaml:"responder"`
}

// ProvidersConfig 各 LLM Provider 配置。
type ProvidersConfig struct {
	OpenAI providers.OpenAIConfig `yaml:"openai"`
	Claude providers.ClaudeConfig `yaml:"claude"`
	Gemini providers.GeminiConfig `yaml:"gemini"`
}

// RoomConfig 聊天室服务配置。
type RoomConfig struct {
	// 监听地址
	Addr string `yaml:"addr"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// 单客户端每秒允许的用户消息数
	MessageRate float64 `yaml:"message_rate"`
	// 突发额度
	MessageBurst int `yaml:"message_burst"`
}

// StoreConfig 转录存储配置。Path 为空时禁用 SQLite 存储。
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// Level: debug/info/warn/error
	Level string `yaml:"level"`
	// Format: json 或 console
	Format string `yaml:"format"`
}

// ResponderConfig 内部应答助手配置。
type ResponderConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Name      string               `yaml:"name"`
	Documents []responder.Document `yaml:"documents"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Conversation: conversation.DefaultConfig(),
		Room: RoomConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MessageRate:     1,
			MessageBurst:    5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Responder: ResponderConfig{
			Name: "Chat",
		},
	}
}

// Validate 检查配置的静态合法性。运行预算的非法值由
// conversation 包在运行时回退到默认值，这里不重复校验。
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Room.MessageRate <= 0 {
		return fmt.Errorf("room message_rate must be positive, got %v", c.Room.MessageRate)
	}
	return nil
}

// Loader 按 默认值 → YAML → 环境变量 的顺序组装配置。
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建配置加载器。
func NewLoader() *Loader {
	return &Loader{envPrefix: "CHATFLOW"}
}

// WithConfigPath 指定 YAML 配置文件路径。
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 指定环境变量前缀。
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 组装并校验配置。
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖关键字段。厂商密钥同时接受不带前缀的
// 约定俗成变量名（OPENAI_API_KEY 等），便于直接复用现有环境。
func (l *Loader) applyEnv(cfg *Config) {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	p := l.envPrefix + "_"
	setString(&cfg.Providers.OpenAI.APIKey, p+"OPENAI_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.Providers.Claude.APIKey, p+"CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	setString(&cfg.Providers.Gemini.APIKey, p+"GEMINI_API_KEY", "GEMINI_API_KEY")
	setString(&cfg.Providers.OpenAI.BaseURL, p+"OPENAI_BASE_URL")
	setString(&cfg.Providers.Claude.BaseURL, p+"CLAUDE_BASE_URL")
	setString(&cfg.Providers.Gemini.BaseURL, p+"GEMINI_BASE_URL")
	setString(&cfg.Log.Level, p+"LOG_LEVEL")
	setString(&cfg.Log.Format, p+"LOG_FORMAT")
	setString(&cfg.Room.Addr, p+"ROOM_ADDR")
	setString(&cfg.Store.Path, p+"STORE_PATH")

	if v := os.Getenv(p + "TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Conversation.Timeout = d
		}
	}
}
