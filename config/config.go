package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat server.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"talentchat"`
	HTTPPort        int           `env:"CHAT_PORT" envDefault:"8090"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DBPath string `env:"CHAT_DB_PATH" envDefault:"talentchat.db"`

	// Секрет для проверки bearer-токенов, выпускаемых платформой.
	JWTSecret string `env:"CHAT_JWT_SECRET"`

	// Идентификатор-сентинел, представляющий весь пул администраторов
	// как одного участника переписки.
	SupportID string `env:"CHAT_SUPPORT_ID" envDefault:"support"`

	ReadTimeout  time.Duration `env:"CHAT_READ_TIMEOUT" envDefault:"120s"`
	WriteTimeout time.Duration `env:"CHAT_WRITE_TIMEOUT" envDefault:"30s"`
}

// Load reads .env (if present) and parses environment variables into Config.
func Load() (*Config, error) {
	// .env опционален, в проде переменные приходят из окружения
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("CHAT_JWT_SECRET is required")
	}
	if strings.TrimSpace(cfg.SupportID) == "" {
		return nil, fmt.Errorf("CHAT_SUPPORT_ID must not be empty")
	}

	return cfg, nil
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
