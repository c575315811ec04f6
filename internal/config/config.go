// Package config загружает конфигурацию сервера datasync.
//
// Порядок (каждый следующий источник перекрывает предыдущий):
//
//  1. Значения по умолчанию
//  2. YAML файл из DATASYNC_CONFIG (если задан)
//  3. .env в рабочем каталоге (если есть)
//  4. Переменные окружения
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/datasync/internal/repo"
)

// Config — конфигурация процесса.
type Config struct {
	// DatabaseURL — строка подключения к БД метаданных.
	DatabaseURL string `yaml:"database_url" validate:"required"`

	// APIPort — порт HTTP API.
	APIPort int `yaml:"api_port" validate:"min=1,max=65535"`

	// AMQPURL — адрес RabbitMQ. Пустой — MQ отключён.
	AMQPURL string `yaml:"amqp_url" validate:"omitempty,url"`

	Log  LogConfig  `yaml:"log"`
	Sync SyncConfig `yaml:"sync"`
}

// LogConfig — настройки логирования.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// SyncConfig — настройки пайплайна синхронизации.
type SyncConfig struct {
	Workers        int           `yaml:"workers" validate:"min=1,max=256"`
	QueueSize      int           `yaml:"queue_size" validate:"min=1"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1,max=20"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"min=0"`

	// MaxOpenConns — предел подключений к одной внешней базе.
	MaxOpenConns int `yaml:"max_open_conns" validate:"min=1"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		DatabaseURL: repo.DefaultDSN,
		APIPort:     8080,
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
		},
		Sync: SyncConfig{
			Workers:        5,
			QueueSize:      100,
			MaxAttempts:    5,
			RetryBaseDelay: time.Second,
			MaxOpenConns:   20,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load собирает конфигурацию из всех источников и валидирует её.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("DATASYNC_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv перекрывает значения переменными окружения.
func (c *Config) applyEnv() error {
	c.DatabaseURL = envString("DB_URL", c.DatabaseURL)
	c.AMQPURL = envString("AMQP_URL", c.AMQPURL)
	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)

	var err error
	if c.APIPort, err = envInt("API_PORT", c.APIPort); err != nil {
		return err
	}
	if c.Sync.Workers, err = envInt("SYNC_WORKERS", c.Sync.Workers); err != nil {
		return err
	}
	if c.Sync.QueueSize, err = envInt("SYNC_QUEUE_SIZE", c.Sync.QueueSize); err != nil {
		return err
	}
	if c.Sync.MaxAttempts, err = envInt("SYNC_MAX_ATTEMPTS", c.Sync.MaxAttempts); err != nil {
		return err
	}
	if c.Sync.MaxOpenConns, err = envInt("SYNC_MAX_OPEN_CONNS", c.Sync.MaxOpenConns); err != nil {
		return err
	}
	if v := os.Getenv("SYNC_RETRY_BASE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SYNC_RETRY_BASE_DELAY: %w", err)
		}
		c.Sync.RetryBaseDelay = d
	}
	return nil
}

// Validate проверяет значения конфигурации.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// APIAddr возвращает адрес для http.Server.
func (c *Config) APIAddr() string {
	return ":" + strconv.Itoa(c.APIPort)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
