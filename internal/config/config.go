package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"

	SinkSheets   = "sheets"
	SinkPostgres = "postgres"
	SinkExcel    = "excel"
)

type Config struct {
	TelegramToken string `env:"TELEGRAM_TOKEN,required,notEmpty"`
	Mode          string `env:"MODE" envDefault:"polling"`
	Port          int    `env:"PORT" envDefault:"8080"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	WebhookPath   string `env:"WEBHOOK_PATH" envDefault:"/webhook"`
	AdminChatID   int64  `env:"ADMIN_CHAT_ID"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	Sink        string        `env:"SINK" envDefault:"sheets"`
	SinkTimeout time.Duration `env:"SINK_TIMEOUT" envDefault:"15s"`
	CatalogFile string        `env:"CATALOG_FILE"`

	Sheets   SheetsConfig
	Excel    ExcelConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
}

type SheetsConfig struct {
	SheetID            string `env:"SHEET_ID"`
	Worksheet          string `env:"SHEET_WORKSHEET" envDefault:"Orders"`
	KeyFile            string `env:"KEY_FILE" envDefault:"service-account.json"`
	ServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
}

type ExcelConfig struct {
	Path string `env:"EXCEL_PATH" envDefault:"reports/orders.xlsx"`
}

type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER"`
	Password        string        `env:"DB_PASSWORD"`
	Name            string        `env:"DB_NAME"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// RedisConfig selects the session store. An empty Addr keeps sessions in
// process memory.
type RedisConfig struct {
	Addr       string        `env:"REDIS_ADDR"`
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
}

// DispatchConfig tunes event handling. EventTimeout must leave room for
// SINK_TIMEOUT.
type DispatchConfig struct {
	Workers         int           `env:"DISPATCH_WORKERS" envDefault:"8"`
	QueueSize       int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"64"`
	EventTimeout    time.Duration `env:"DISPATCH_EVENT_TIMEOUT" envDefault:"30s"`
	RateLimitPerSec float64       `env:"RATE_LIMIT_PER_SEC" envDefault:"5"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in %s mode", ModeWebhook)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Sink {
	case SinkSheets:
		if c.Sheets.SheetID == "" {
			return fmt.Errorf("SHEET_ID is required for the %s sink", SinkSheets)
		}
	case SinkPostgres:
		if c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("DB_USER and DB_NAME are required for the %s sink", SinkPostgres)
		}
	case SinkExcel:
		if c.Excel.Path == "" {
			return fmt.Errorf("EXCEL_PATH is required for the %s sink", SinkExcel)
		}
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}

	if c.SinkTimeout <= 0 {
		return fmt.Errorf("SINK_TIMEOUT must be positive")
	}
	if c.SinkTimeout >= c.Dispatch.EventTimeout {
		return fmt.Errorf("SINK_TIMEOUT (%s) must be shorter than DISPATCH_EVENT_TIMEOUT (%s)",
			c.SinkTimeout, c.Dispatch.EventTimeout)
	}
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be at least 1")
	}
	return nil
}
