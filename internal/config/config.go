// Package config содержит логику чтения конфигурации сервиса учёта кредитов.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultSQLitePath = "credits.db"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	SQLitePath     string        `env:"SQLITE_PATH"`
	AdminToken     string        `env:"ADMIN_TOKEN"`
	ArchiveDir     string        `env:"ARCHIVE_DIR"`
	ArchiveURL     string        `env:"ARCHIVE_URL"`
	ExportInterval time.Duration `env:"EXPORT_INTERVAL"`
	// AllowedValidityMonths задаёт допустимые сроки действия пакетов, например "1,3".
	AllowedValidityMonths []int `env:"ALLOWED_VALIDITY_MONTHS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	var validity string
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL database URI")
	flag.StringVar(&cfg.SQLitePath, "s", defaultSQLitePath, "SQLite database file, used when no database URI is set")
	flag.StringVar(&cfg.AdminToken, "t", "", "admin token")
	flag.StringVar(&cfg.ArchiveDir, "archive-dir", "", "directory for ledger exports")
	flag.StringVar(&cfg.ArchiveURL, "archive-url", "", "object endpoint for ledger exports")
	flag.DurationVar(&cfg.ExportInterval, "export-interval", 0, "periodic ledger export interval, 0 disables it")
	flag.StringVar(&validity, "validity", "1,3", "allowed lot validity periods in months")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.SQLitePath != "" {
		cfg.SQLitePath = envCfg.SQLitePath
	}
	if envCfg.AdminToken != "" {
		cfg.AdminToken = envCfg.AdminToken
	}
	if envCfg.ArchiveDir != "" {
		cfg.ArchiveDir = envCfg.ArchiveDir
	}
	if envCfg.ArchiveURL != "" {
		cfg.ArchiveURL = envCfg.ArchiveURL
	}
	if envCfg.ExportInterval != 0 {
		cfg.ExportInterval = envCfg.ExportInterval
	}

	if len(envCfg.AllowedValidityMonths) > 0 {
		cfg.AllowedValidityMonths = envCfg.AllowedValidityMonths
	} else {
		months, err := parseMonths(validity)
		if err != nil {
			return nil, fmt.Errorf("parse -validity: %w", err)
		}
		cfg.AllowedValidityMonths = months
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}
	if cfg.ExportInterval < 0 {
		return nil, fmt.Errorf("export interval must not be negative: %s", cfg.ExportInterval)
	}
	for _, m := range cfg.AllowedValidityMonths {
		if m <= 0 {
			return nil, fmt.Errorf("validity period must be positive: %d", m)
		}
	}

	return cfg, nil
}

func parseMonths(value string) ([]int, error) {
	var months []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, nil
}
