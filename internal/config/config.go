package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port" env:"QUIZ_ROOM_PORT" validate:"omitempty,numeric"`
		ShutdownTimeout string `yaml:"shutdownTimeout" env:"QUIZ_ROOM_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`
	Log struct {
		Level       string `yaml:"level" env:"QUIZ_ROOM_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
		Development bool   `yaml:"development" env:"QUIZ_ROOM_LOG_DEVELOPMENT"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr" env:"QUIZ_ROOM_REDIS_ADDR" validate:"omitempty,hostname_port"`
		Password string `yaml:"password" env:"QUIZ_ROOM_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"QUIZ_ROOM_REDIS_DB" validate:"min=0"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"QUIZ_ROOM_POSTGRES_URL" validate:"omitempty,url"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path" env:"QUIZ_ROOM_SQLITE_PATH"`
	} `yaml:"sqlite"`
	Quiz struct {
		TTL string `yaml:"ttl" env:"QUIZ_ROOM_QUIZ_TTL"`
	} `yaml:"quiz"`
	Rooms struct {
		CodeLength          int    `yaml:"codeLength" env:"QUIZ_ROOM_CODE_LENGTH" validate:"omitempty,min=4,max=10"`
		CodeRetention       string `yaml:"codeRetention" env:"QUIZ_ROOM_CODE_RETENTION"`
		SweepInterval       string `yaml:"sweepInterval" env:"QUIZ_ROOM_SWEEP_INTERVAL"`
		FinalizeRetries     int    `yaml:"finalizeRetries" env:"QUIZ_ROOM_FINALIZE_RETRIES" validate:"min=0,max=10"`
		FinalizeConcurrency int    `yaml:"finalizeConcurrency" env:"QUIZ_ROOM_FINALIZE_CONCURRENCY" validate:"omitempty,min=1,max=64"`
	} `yaml:"rooms"`
}

// Load reads YAML config from path, then applies environment overrides and
// validates the result. A missing file leaves every field at its zero value.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
