package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	GeneratorSimple = "simple"
	GeneratorOpenAI = "openai"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	Storage struct {
		Driver   string `envconfig:"STORAGE_DRIVER" default:"memory"`
		PGDSN    string `envconfig:"PG_DSN"`
		MaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`
		SeedDemo bool   `envconfig:"SEED_DEMO_CATALOG" default:"true"`
	} `envconfig:""`

	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	Campaigns struct {
		Limit int `envconfig:"CAMPAIGN_LIMIT" default:"25"`
	} `envconfig:""`

	Reports struct {
		QueueDelay        time.Duration `envconfig:"REPORT_QUEUE_DELAY" default:"1s"`
		ReadyDelay        time.Duration `envconfig:"REPORT_READY_DELAY" default:"3s"`
		GenerationTimeout time.Duration `envconfig:"REPORT_GENERATION_TIMEOUT" default:"1m"`
		Generator         string        `envconfig:"REPORT_GENERATOR" default:"simple"`
		EventsKey         string        `envconfig:"REPORT_EVENTS_KEY" default:"report_events"`
		EventsQueue       string        `envconfig:"REPORT_EVENTS_QUEUE" default:"report_events"`
		IdempotencyTTL    time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"10m"`
		CatalogCacheTTL   time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"15m"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"45s"`
	} `envconfig:""`

	Auth struct {
		Secret string `envconfig:"AUTH_SECRET"`
	} `envconfig:""`
}

// Validate проверяет согласованность настроек.
func (c AppConfig) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PGDSN == "" {
			return fmt.Errorf("STORAGE_DRIVER=postgres требует PG_DSN")
		}
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.Storage.Driver)
	}
	switch c.Reports.Generator {
	case GeneratorSimple:
	case GeneratorOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("REPORT_GENERATOR=openai требует OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("неизвестный REPORT_GENERATOR %q", c.Reports.Generator)
	}
	if c.Reports.ReadyDelay < c.Reports.QueueDelay {
		return fmt.Errorf("REPORT_READY_DELAY (%s) меньше REPORT_QUEUE_DELAY (%s)", c.Reports.ReadyDelay, c.Reports.QueueDelay)
	}
	return nil
}

// Parse читает конфиг из окружения и проверяет его.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
