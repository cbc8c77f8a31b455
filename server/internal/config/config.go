package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM 提供商
const (
	ProviderScripted  = "scripted"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// 语音模式
const (
	SpeechOff    = "off"
	SpeechClient = "client" // 浏览器负责 TTS/STT，服务端只下发指令
	SpeechOpenAI = "openai" // 服务端通过 OpenAI 合成与转写
)

// Config 全局配置
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Speech        SpeechConfig        `yaml:"speech"`
	Practice      PracticeConfig      `yaml:"practice"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
	Paths         PathsConfig         `yaml:"paths"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// PingInterval websocket 心跳间隔
	PingInterval time.Duration `yaml:"ping_interval"`
	// AllowedOrigins 允许跨域与 websocket 的前端来源
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr 返回监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig 回复生成配置
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "scripted", "openai" or "anthropic"
	Timeout   time.Duration     `yaml:"timeout"`
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SpeechConfig 语音输入输出配置
type SpeechConfig struct {
	Mode      string `yaml:"mode"` // "off", "client" or "openai"
	AutoSpeak bool   `yaml:"auto_speak"`
	Language  string `yaml:"language"`
	TTSModel  string `yaml:"tts_model"`
	STTModel  string `yaml:"stt_model"`
	// DefaultVoice 人设没有指定声音时使用
	DefaultVoice string `yaml:"default_voice"`
}

type PracticeConfig struct {
	MaxReplySentences int  `yaml:"max_reply_sentences"`
	LanguageFeedback  bool `yaml:"language_feedback"`
}

type SessionConfig struct {
	MaxInactiveTime time.Duration `yaml:"max_inactive_time"`
	MaxSessions     int           `yaml:"max_sessions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // "stderr", "stdout" 或文件路径
}

type PathsConfig struct {
	// Catalog 场景目录文件，为空时使用内置目录
	Catalog string `yaml:"catalog"`
	// Prompts 角色模板目录（包含 roles/），为空时使用内置模板
	Prompts string `yaml:"prompts"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`
	Metrics     bool   `yaml:"metrics"`
	Tracing     bool   `yaml:"tracing"`
}

// Default 返回离线可用的默认配置（脚本化回复，浏览器语音）
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			PingInterval:    20 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		LLM: LLMConfig{
			Provider: ProviderScripted,
			Timeout:  30 * time.Second,
			OpenAI: LLMProviderConfig{
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
				MaxTokens:   400,
			},
			Anthropic: LLMProviderConfig{
				Model:       "claude-haiku",
				Temperature: 0.7,
				MaxTokens:   400,
			},
		},
		Speech: SpeechConfig{
			Mode:         SpeechClient,
			AutoSpeak:    true,
			Language:     "de",
			TTSModel:     "tts-1",
			STTModel:     "whisper-1",
			DefaultVoice: "alloy",
		},
		Practice: PracticeConfig{
			MaxReplySentences: 3,
			LanguageFeedback:  true,
		},
		Session: SessionConfig{
			MaxInactiveTime: 2 * time.Hour,
			MaxSessions:     500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
		},
		Observability: ObservabilityConfig{
			ServiceName: "care-talk",
			Metrics:     true,
		},
	}
}

// Load 从文件加载配置；path 为空时只使用默认值与环境变量
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fmt.Printf("📋 Loading config from: %s\n", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		fmt.Printf("✅ Config parsed successfully (%d bytes)\n", len(data))
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息
func (c *Config) applyEnv() {
	if provider := os.Getenv("CARETALK_LLM_PROVIDER"); provider != "" {
		fmt.Printf("🤖 Using CARETALK_LLM_PROVIDER from environment: %s\n", provider)
		c.LLM.Provider = provider
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		fmt.Printf("🔑 Using OPENAI_API_KEY from environment variable\n")
		c.LLM.OpenAI.APIKey = apiKey
	}
	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" {
		fmt.Printf("🔑 Using ANTHROPIC_API_KEY from environment variable\n")
		c.LLM.Anthropic.APIKey = anthropicKey
	}
	// LLM_API_KEY 优先级最高，作用于当前提供商
	if llmKey := os.Getenv("LLM_API_KEY"); llmKey != "" {
		fmt.Printf("🔑 Using LLM_API_KEY from environment variable\n")
		switch c.LLM.Provider {
		case ProviderOpenAI:
			c.LLM.OpenAI.APIKey = llmKey
		case ProviderAnthropic:
			c.LLM.Anthropic.APIKey = llmKey
		}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case ProviderScripted:
	case ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY env var or config)")
		}
	case ProviderAnthropic:
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY env var or config)")
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	switch c.Speech.Mode {
	case SpeechOff, SpeechClient:
	case SpeechOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("speech mode openai requires an OpenAI API key")
		}
	default:
		return fmt.Errorf("unsupported speech mode: %s", c.Speech.Mode)
	}
	if c.Practice.MaxReplySentences < 0 {
		return fmt.Errorf("max_reply_sentences must not be negative")
	}
	return nil
}
