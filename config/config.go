// Package config loads the trader's settings from the environment (and an
// optional .env file) and resolves them into typed values.
package config

import (
	"slices"
	"time"

	"tradeengine/internal/model"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Market
	Symbol          string   `env:"SYMBOL" envDefault:"BTC" validate:"required,symbol"`
	Resolutions     []string `env:"RESOLUTIONS" envSeparator:"," envDefault:"1m,5m,15m,30m,1h" validate:"min=1"`
	TradeResolution string   `env:"TRADE_RESOLUTION" envDefault:"1m"`
	Timezone        string   `env:"TIMEZONE" envDefault:"Asia/Tokyo"`
	WSURL           string   `env:"WS_URL" envDefault:"wss://api.coin.z.com/ws/public/v1" validate:"url"`

	// Strategy
	PastPeriod         int     `env:"PAST_PERIOD" envDefault:"365" validate:"gt=0"`
	StopLimitPercent   float64 `env:"STOP_LIMIT_PERCENT" envDefault:"0.95" validate:"gt=0,lte=1"`
	Size               float64 `env:"SIZE" envDefault:"0.01" validate:"gt=0"`
	MaxOptimizeRetries int     `env:"MAX_OPTIMIZE_RETRIES" envDefault:"0" validate:"gte=0"`
	OptimizeAlarmAfter int     `env:"OPTIMIZE_ALARM_AFTER" envDefault:"6" validate:"gte=0"`
	ParamsFile         string  `env:"PARAMS_FILE"`

	// Execution
	Paper       bool    `env:"PAPER" envDefault:"true"`
	SlippageBps float64 `env:"SLIPPAGE_BPS" envDefault:"5" validate:"gte=0"`
	GMOBaseURL  string  `env:"GMO_BASE_URL" envDefault:"https://api.coin.z.com/private"`
	GMOAPIKey   string  `env:"GMO_API_KEY" validate:"required_if=Paper false"`
	GMOSecret   string  `env:"GMO_API_SECRET" validate:"required_if=Paper false"`
	JournalPath string  `env:"JOURNAL_PATH" envDefault:"data/executions.db"`

	// Storage
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/trader.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Publishing
	RedisAddr     string   `env:"REDIS_ADDR"`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Alerts
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID" validate:"required_with=TelegramToken"`
	WebhookURL     string `env:"WEBHOOK_URL" validate:"omitempty,url"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Resolved by Validate.
	resolutions []model.Resolution
	tradeRes    model.Resolution
	location    *time.Location
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and resolves the resolution names and
// timezone. Any unknown name is an error.
func (c *Config) Validate() error {
	v := validator.New()
	// symbols name storage series, e.g. BTC_1M
	if err := v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return model.ValidSymbol(fl.Field().String())
	}); err != nil {
		return errors.Wrap(err, "config: register symbol rule")
	}
	if err := v.Struct(c); err != nil {
		return errors.Wrap(err, "config")
	}

	res, err := model.ParseResolutions(c.Resolutions)
	if err != nil {
		return errors.Wrap(err, "config: RESOLUTIONS")
	}
	if len(res) == 0 {
		return errors.New("config: RESOLUTIONS is empty")
	}
	c.resolutions = res

	tr, err := model.ParseResolution(c.TradeResolution)
	if err != nil {
		return errors.Wrap(err, "config: TRADE_RESOLUTION")
	}
	if !slices.ContainsFunc(res, func(r model.Resolution) bool { return r.Name == tr.Name }) {
		return errors.Errorf("config: TRADE_RESOLUTION %q is not in RESOLUTIONS", tr.Name)
	}
	c.tradeRes = tr

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return errors.Wrap(err, "config: TIMEZONE")
	}
	c.location = loc
	return nil
}

// ParsedResolutions returns the validated resolutions in configured order.
func (c *Config) ParsedResolutions() []model.Resolution { return c.resolutions }

// TradeRes returns the validated trading resolution.
func (c *Config) TradeRes() model.Resolution { return c.tradeRes }

// Location returns the market timezone.
func (c *Config) Location() *time.Location { return c.location }

// ResolutionNames returns the canonical names of the configured resolutions.
func (c *Config) ResolutionNames() []string {
	names := make([]string, len(c.resolutions))
	for i, r := range c.resolutions {
		names[i] = r.Name
	}
	return names
}
