package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string `env:"ADDR" envDefault:":8080"`
	DatabaseDSN   string `env:"DB_DSN"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	RedisAddr     string `env:"REDIS_ADDR"`

	JWTSecret      string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer      string `env:"JWT_ISSUER" envDefault:"clinic-realtime"`
	InternalAPIKey string `env:"INTERNAL_API_KEY,required,notEmpty"`

	RealtimePathPrefix string   `env:"REALTIME_PATH_PREFIX" envDefault:"/hubs"`
	AllowedOrigins     []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	LogLevel          string        `env:"LOG_LEVEL" envDefault:"INFO"`
	PersistTimeout    time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	SendRatePerSecond float64       `env:"SEND_RATE_PER_SECOND" envDefault:"5"`
	SendBurst         int           `env:"SEND_BURST" envDefault:"10"`
	MaxMessageLength  int           `env:"MAX_MESSAGE_LENGTH" envDefault:"2000"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxMessageLength <= 0 {
		return Config{}, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive, got %d", cfg.MaxMessageLength)
	}
	return cfg, nil
}

// ReadLimit bounds a single inbound frame: the content plus JSON framing.
func (c Config) ReadLimit() int64 {
	return int64(c.MaxMessageLength)*4 + 512
}
