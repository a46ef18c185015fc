// Package config содержит логику чтения конфигурации сервиса trash2treasure.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ErrDatabaseURIRequired возвращается, если адрес БД не задан ни флагом, ни переменной окружения.
var ErrDatabaseURIRequired = errors.New("database URI is required")

// Config содержит параметры конфигурации сервиса trash2treasure.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	SecretKey   string `env:"SECRET_KEY"`
	UploadDir   string `env:"UPLOAD_DIR"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSecretKey := cfg.SecretKey
	envUploadDir := cfg.UploadDir

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SecretKey, "s", "", "secret key for signing auth cookies")
	flag.StringVar(&cfg.UploadDir, "u", "static/uploads", "directory for uploaded waste images")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSecretKey != "" {
		cfg.SecretKey = envSecretKey
	}
	if envUploadDir != "" {
		cfg.UploadDir = envUploadDir
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	// Встроенного значения по умолчанию для БД нет намеренно.
	if cfg.DatabaseURI == "" {
		return nil, ErrDatabaseURIRequired
	}

	return cfg, nil
}
