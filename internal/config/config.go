package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"balance-tracker/internal/logging"
)

// Exchange authentication modes.
const (
	ModeCookie = "cookie"
	ModeSigned = "signed"
)

// Storage backends.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSheets   = "sheets"
	BackendMemory   = "memory"
)

// Config is an immutable snapshot of runtime settings. Reload builds a new one.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Report    ReportConfig    `mapstructure:"report"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig selects the balance endpoint and its credentials.
type ExchangeConfig struct {
	Mode           string        `mapstructure:"mode"`
	BaseURL        string        `mapstructure:"base_url"`
	CookieURL      string        `mapstructure:"cookie_url"`
	CookieToken    string        `mapstructure:"cookie_token"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	AccountType    string        `mapstructure:"account_type"`
	CookieAccount  string        `mapstructure:"cookie_account"`
	Coin           string        `mapstructure:"coin"`
	RecvWindow     int64         `mapstructure:"recv_window"`
	UseServerTime  bool          `mapstructure:"use_server_time"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// RatesConfig covers the secondary-currency conversion lookup.
type RatesConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// FetcherConfig tunes the retry contract shared by all outbound requests.
type FetcherConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffUnit       time.Duration `mapstructure:"backoff_unit"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SchedulerConfig governs the two aligned loops. Intervals are clock minutes.
type SchedulerConfig struct {
	LedgerIntervalMinutes int   `mapstructure:"ledger_interval_minutes"`
	NotifyIntervalMinutes int   `mapstructure:"notify_interval_minutes"`
	NotifyEnabled         bool  `mapstructure:"notify_enabled"`
	SampleOnStart         bool  `mapstructure:"sample_on_start"`
	AdvisoryLockKey       int64 `mapstructure:"advisory_lock_key"`
}

// StorageConfig picks the ledger backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	CSVPath  string         `mapstructure:"csv_path"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
	Sheets   SheetsConfig   `mapstructure:"sheets"`
}

// FreshnessConfig locates the degraded-mode state shared by all processes.
// An empty StatePath keeps the gate in memory.
type FreshnessConfig struct {
	StatePath string `mapstructure:"state_path"`
}

// SQLiteConfig locates the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SheetsConfig addresses a Google spreadsheet used as the ledger.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// AlertingConfig defines notification sinks and recipients.
type AlertingConfig struct {
	Operators   []string       `mapstructure:"operators"`
	DefaultChat string         `mapstructure:"default_chat"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	AMQP        AMQPConfig     `mapstructure:"amqp"`
}

// TelegramConfig describes the Telegram Bot API sink.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AMQPConfig describes the broker sink.
type AMQPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

// ReportConfig sets aggregation defaults.
type ReportConfig struct {
	DailyLimit        int `mapstructure:"daily_limit"`
	MonthlyWindowDays int `mapstructure:"monthly_window_days"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BALANCETRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindSecrets(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "balancetracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("exchange.mode", ModeCookie)
	v.SetDefault("exchange.base_url", "https://api.bybit.com")
	v.SetDefault("exchange.cookie_url", "https://api2.bybit.com/v3/private/cht/asset-common/total-balance?quoteCoin=USDT&balanceType=1")
	v.SetDefault("exchange.account_type", "UNIFIED")
	v.SetDefault("exchange.cookie_account", "ACCOUNT_TYPE_BOT")
	v.SetDefault("exchange.coin", "USDT")
	v.SetDefault("exchange.recv_window", 10000)
	v.SetDefault("exchange.use_server_time", true)
	v.SetDefault("exchange.request_timeout", "60s")
	v.SetDefault("exchange.user_agent", "balancetracker/1.0")

	v.SetDefault("rates.enabled", true)
	v.SetDefault("rates.url", "https://api.coingecko.com/api/v3/simple/price?ids=tether&vs_currencies=rub")
	v.SetDefault("rates.request_timeout", "30s")
	v.SetDefault("rates.max_attempts", 5)
	v.SetDefault("rates.cache_ttl", "10m")

	v.SetDefault("fetcher.max_attempts", 5)
	v.SetDefault("fetcher.backoff_unit", "1s")
	v.SetDefault("fetcher.requests_per_second", 2.0)
	v.SetDefault("fetcher.burst", 4)

	v.SetDefault("scheduler.ledger_interval_minutes", 30)
	v.SetDefault("scheduler.notify_interval_minutes", 30)
	v.SetDefault("scheduler.notify_enabled", true)
	v.SetDefault("scheduler.sample_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62616c31))

	v.SetDefault("storage.backend", BackendCSV)
	v.SetDefault("storage.csv_path", "balance_data.csv")
	v.SetDefault("storage.sqlite.path", "data/balance.db")
	v.SetDefault("storage.postgres.max_open_conns", 4)
	v.SetDefault("storage.postgres.max_idle_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.sheets.sheet_name", "Balance")

	v.SetDefault("freshness.state_path", "data/freshness_state.json")

	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.amqp.exchange", "balancetracker")
	v.SetDefault("alerting.amqp.queue", "balance_notifications")

	v.SetDefault("report.daily_limit", 30)
	v.SetDefault("report.monthly_window_days", 365)
}

// bindSecrets registers keys that have no default so AutomaticEnv can still
// populate them during Unmarshal.
func bindSecrets(v *viper.Viper) error {
	keys := []string{
		"exchange.cookie_token",
		"exchange.api_key",
		"exchange.api_secret",
		"rates.redis_addr",
		"rates.redis_password",
		"storage.postgres.dsn",
		"storage.sheets.spreadsheet_id",
		"storage.sheets.credentials_file",
		"storage.sheets.credentials_json",
		"alerting.operators",
		"alerting.default_chat",
		"alerting.telegram.enabled",
		"alerting.telegram.bot_token",
		"alerting.amqp.enabled",
		"alerting.amqp.url",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values. Exchange
// credentials are checked separately by ExchangeConfig.Validate because the
// ledger-only commands never contact the exchange.
func (c *Config) Validate() error {
	if c.Exchange.Mode != ModeCookie && c.Exchange.Mode != ModeSigned {
		return fmt.Errorf("exchange.mode must be %q or %q, got %q", ModeCookie, ModeSigned, c.Exchange.Mode)
	}

	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be greater than zero")
	}
	if c.Fetcher.BackoffUnit < 0 {
		return fmt.Errorf("fetcher.backoff_unit cannot be negative")
	}
	if err := validInterval("scheduler.ledger_interval_minutes", c.Scheduler.LedgerIntervalMinutes); err != nil {
		return err
	}
	if err := validInterval("scheduler.notify_interval_minutes", c.Scheduler.NotifyIntervalMinutes); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendCSV:
		if c.Storage.CSVPath == "" {
			return fmt.Errorf("storage.csv_path is required for the csv backend")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
		}
	case BackendSheets:
		if c.Storage.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("storage.sheets.spreadsheet_id is required for the sheets backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
	}
	if c.Alerting.AMQP.Enabled && c.Alerting.AMQP.URL == "" {
		return fmt.Errorf("alerting.amqp.url is required when amqp is enabled")
	}
	if c.Report.DailyLimit < 0 {
		return fmt.Errorf("report.daily_limit cannot be negative")
	}
	if c.Report.MonthlyWindowDays <= 0 {
		return fmt.Errorf("report.monthly_window_days must be greater than zero")
	}
	return nil
}

// Validate checks that the selected mode has the credentials it needs.
func (e ExchangeConfig) Validate() error {
	switch e.Mode {
	case ModeCookie:
		if e.CookieToken == "" {
			return fmt.Errorf("exchange.cookie_token is required in cookie mode")
		}
		if e.CookieURL == "" {
			return fmt.Errorf("exchange.cookie_url is required in cookie mode")
		}
	case ModeSigned:
		if e.APIKey == "" || e.APISecret == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required in signed mode")
		}
		if e.BaseURL == "" {
			return fmt.Errorf("exchange.base_url is required in signed mode")
		}
		if e.RecvWindow <= 0 {
			return fmt.Errorf("exchange.recv_window must be greater than zero")
		}
	default:
		return fmt.Errorf("exchange.mode must be %q or %q, got %q", ModeCookie, ModeSigned, e.Mode)
	}
	return nil
}

func validInterval(key string, minutes int) error {
	if minutes < 1 || minutes > 60 {
		return fmt.Errorf("%s must be between 1 and 60, got %d", key, minutes)
	}
	return nil
}
