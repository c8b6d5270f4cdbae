package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
	DB     DB     `yaml:"db"`
	OpenAI OpenAI `yaml:"openai"`
	Chat   Chat   `yaml:"chat"`
}

type Server struct {
	// Address the HTTP API listens on
	Addr string `yaml:"addr" example:":8080"`
}

type OpenAI struct {
	// OpenAI-compatible base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1" validate:"required"`
	// Model used for completions
	Model string `yaml:"model" example:"gpt-4o" validate:"required"`
	// Sampling temperature
	Temperature float32 `yaml:"temperature" example:"0.7"`
	// Completion token budget per reply
	MaxTokens int `yaml:"max_tokens" example:"150"`
	// Request timeout in seconds
	TimeoutSeconds int `yaml:"timeout_seconds" example:"30"`
}

type Chat struct {
	// Assistant name used when a conversation has not configured one
	DefaultAssistantName string `yaml:"default_assistant_name" example:"Assistant"`
	// Maximum entries kept in a conversation's prompt history, system entry included
	HistoryLimit int `yaml:"history_limit" example:"50"`
	// Name matching rule for addressing: "word" or "substring"
	MatchMode string `yaml:"match_mode" example:"word" validate:"omitempty,oneof=word substring"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type DB struct {
	// Path to the sqlite database file
	Path string `yaml:"path" example:"data/groupchat.db"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.DB.Path == "" {
		c.DB.Path = "data/groupchat.db"
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}
	if c.OpenAI.Temperature == 0 {
		c.OpenAI.Temperature = 0.7
	}
	if c.OpenAI.MaxTokens == 0 {
		c.OpenAI.MaxTokens = 150
	}
	if c.OpenAI.TimeoutSeconds == 0 {
		c.OpenAI.TimeoutSeconds = 30
	}
	if c.Chat.DefaultAssistantName == "" {
		c.Chat.DefaultAssistantName = "Assistant"
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = 50
	}
	if c.Chat.MatchMode == "" {
		c.Chat.MatchMode = "word"
	}
}
