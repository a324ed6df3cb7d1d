package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"keeprates/internal/fetcher"
	"keeprates/internal/logging"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Source kinds.
const (
	KindBuiltin = "builtin"
	KindJSON    = "json"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig               `mapstructure:"app"`
	Logging   logging.Config          `mapstructure:"logging"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Redis     RedisConfig             `mapstructure:"redis"`
	RateLimit RateLimitConfig         `mapstructure:"ratelimit"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Scraper   ScraperConfig           `mapstructure:"scraper"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Kafka     KafkaConfig             `mapstructure:"kafka"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig backs the shared admission window. An empty Addr keeps the
// window in process memory.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RateLimitConfig configures the trigger admission gate.
type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	Identifier  string        `mapstructure:"identifier"`
}

// SchedulerConfig governs scraping cadence.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToSlot     bool          `mapstructure:"align_to_slot"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ScraperConfig holds settings shared by all extractors.
type ScraperConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	Browser        BrowserConfig `mapstructure:"browser"`
}

// BrowserConfig tunes the headless Chrome renderer.
type BrowserConfig struct {
	ExecPath        string        `mapstructure:"exec_path"`
	Headless        bool          `mapstructure:"headless"`
	NetworkIdleWait time.Duration `mapstructure:"network_idle_wait"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	ScrollDelay     time.Duration `mapstructure:"scroll_delay"`
}

// SourceConfig 描述单个汇率来源的参数。
type SourceConfig struct {
	Enabled     bool               `mapstructure:"enabled"`
	Kind        string             `mapstructure:"kind"`
	Name        string             `mapstructure:"name"`
	URL         string             `mapstructure:"url"`
	Timeout     time.Duration      `mapstructure:"timeout"`
	MaxAttempts int                `mapstructure:"max_attempts"`
	BaseDelay   time.Duration      `mapstructure:"base_delay"`
	Currency    string             `mapstructure:"currency"`
	Fields      fetcher.JSONFields `mapstructure:"fields"`
}

// HTTPConfig configures the trigger API.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	APIKey          string        `mapstructure:"api_key"`
	ClientRPS       float64       `mapstructure:"client_rps"`
	ClientBurst     int           `mapstructure:"client_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// KafkaConfig enables event fan-out.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEEPRATES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "keeprates")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "keeprates.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "2s")

	v.SetDefault("ratelimit.window", "1h")
	v.SetDefault("ratelimit.max_requests", 1)
	v.SetDefault("ratelimit.key_prefix", "scraping_api:")
	v.SetDefault("ratelimit.identifier", "scraping_trigger")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_slot", true)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6b707274))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("scraper.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("scraper.request_timeout", "15s")
	v.SetDefault("scraper.max_attempts", 3)
	v.SetDefault("scraper.base_delay", "1s")
	v.SetDefault("scraper.browser.exec_path", "")
	v.SetDefault("scraper.browser.headless", true)
	v.SetDefault("scraper.browser.network_idle_wait", "10s")
	v.SetDefault("scraper.browser.settle_delay", "2s")
	v.SetDefault("scraper.browser.scroll_delay", "1s")

	v.SetDefault("sources.combank.enabled", true)
	v.SetDefault("sources.combank.name", "Commercial Bank of Ceylon")
	v.SetDefault("sources.combank.timeout", "30s")
	v.SetDefault("sources.combank.base_delay", "2s")
	v.SetDefault("sources.ndb.enabled", true)
	v.SetDefault("sources.ndb.name", "National Development Bank")
	v.SetDefault("sources.sampath.enabled", true)
	v.SetDefault("sources.sampath.name", "Sampath Bank")
	v.SetDefault("sources.sampath.timeout", "30s")
	// The central bank front page sits behind bot protection.
	v.SetDefault("sources.cbsl.enabled", false)
	v.SetDefault("sources.cbsl.name", "Central Bank of Sri Lanka")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.api_key", "")
	v.SetDefault("http.client_rps", 1.0)
	v.SetDefault("http.client_burst", 5)
	v.SetDefault("http.shutdown_timeout", "30s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "keeprates.events")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if c.Database.Driver == DriverSQLite && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path must be set for the sqlite driver")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be greater than zero")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.max_requests must be greater than zero")
	}
	if c.Scraper.MaxAttempts <= 0 {
		return fmt.Errorf("scraper.max_attempts must be greater than zero")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers 必须配置")
	}
	for id, src := range c.Sources {
		if src.Kind == KindJSON && src.Enabled && src.URL == "" {
			return fmt.Errorf("sources.%s.url is required for json sources", id)
		}
		if src.MaxAttempts < 0 {
			return fmt.Errorf("sources.%s.max_attempts cannot be negative", id)
		}
	}
	return nil
}

// EnabledSources returns enabled source ids: built-in banks first in their
// canonical order, then any extra sources sorted by id.
func (c *Config) EnabledSources() []string {
	builtin := []string{fetcher.CombankID, fetcher.NDBID, fetcher.SampathID, fetcher.CBSLID}
	seen := make(map[string]bool, len(builtin))

	var ids []string
	for _, id := range builtin {
		seen[id] = true
		if src, ok := c.Sources[id]; ok && src.Enabled {
			ids = append(ids, id)
		}
	}

	var extra []string
	for id, src := range c.Sources {
		if !seen[id] && src.Enabled {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

// ResolveAttempts returns the per-source override or the scraper default.
func (c *Config) ResolveAttempts(id string) (int, time.Duration) {
	attempts, delay := c.Scraper.MaxAttempts, c.Scraper.BaseDelay
	if src, ok := c.Sources[id]; ok {
		if src.MaxAttempts > 0 {
			attempts = src.MaxAttempts
		}
		if src.BaseDelay > 0 {
			delay = src.BaseDelay
		}
	}
	return attempts, delay
}
