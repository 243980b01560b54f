// Package config содержит логику чтения конфигурации сервиса dime.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса dime.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	ClassifierAddress string `env:"CLASSIFIER_ADDRESS"`
	EnrichWorkers     int    `env:"ENRICH_WORKERS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Локальный .env подхватывается, если присутствует.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envClassifierAddress := cfg.ClassifierAddress
	envEnrichWorkers := cfg.EnrichWorkers

	flag.StringVar(&cfg.RunAddress, "a", "localhost:5001", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ClassifierAddress, "c", "", "external classifier address")
	flag.IntVar(&cfg.EnrichWorkers, "w", 8, "concurrent enrichment workers")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envClassifierAddress != "" {
		cfg.ClassifierAddress = envClassifierAddress
	}
	if envEnrichWorkers != 0 {
		cfg.EnrichWorkers = envEnrichWorkers
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:5001"
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = 8
	}

	return cfg, nil
}
