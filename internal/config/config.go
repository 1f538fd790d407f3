package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/guregu/null/v6"
	"github.com/spf13/viper"

	"market-data-automation/internal/alerting"
	"market-data-automation/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FetchConfig selects the quote provider and the symbols to track.
type FetchConfig struct {
	Provider     string             `mapstructure:"provider" validate:"oneof=yfinance alphavantage chainlink"`
	Symbols      []string           `mapstructure:"symbols" validate:"min=1,dive,required"`
	Attempts     int                `mapstructure:"attempts" validate:"gte=1"`
	RetryDelay   time.Duration      `mapstructure:"retry_delay" validate:"gte=0"`
	SymbolDelay  time.Duration      `mapstructure:"symbol_delay"`
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	Chainlink    ChainlinkConfig    `mapstructure:"chainlink"`
}

// AlphaVantageConfig covers the Alpha Vantage REST API.
type AlphaVantageConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig covers on-chain price feeds.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Feeds          []string      `mapstructure:"feeds"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig selects the primary store and the flat-file mirror.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite sqlite3 postgres postgresql pgx"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	CSVPath         string        `mapstructure:"csv_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RetentionDays   int           `mapstructure:"retention_days" validate:"gte=0"`
}

// AlertingConfig defines alert thresholds and routing. The console channel is always on.
type AlertingConfig struct {
	Thresholds []alerting.ThresholdRule `mapstructure:"thresholds" validate:"dive"`
	Email      EmailConfig              `mapstructure:"email"`
	Telegram   TelegramConfig           `mapstructure:"telegram"`
	Kafka      KafkaConfig              `mapstructure:"kafka"`
}

// EmailConfig SMTP 告警参数。
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"smtp_host"`
	Port     int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// KafkaConfig publishes alert events to a topic.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig routes batch metrics after each run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
	TextfilePath   string `mapstructure:"textfile_path"`
}

// SchedulerConfig governs the in-process watch loop.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETDATA")
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
	v.SetDefault("app.name", "marketdata")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("fetch.provider", "yfinance")
	v.SetDefault("fetch.symbols", []string{"AAPL", "MSFT", "BTC-USD"})
	v.SetDefault("fetch.attempts", 3)
	v.SetDefault("fetch.retry_delay", "2s")
	v.SetDefault("fetch.symbol_delay", "500ms")
	v.SetDefault("fetch.alphavantage.api_key", "")
	v.SetDefault("fetch.alphavantage.base_url", "https://www.alphavantage.co")
	v.SetDefault("fetch.alphavantage.request_timeout", "10s")
	v.SetDefault("fetch.alphavantage.user_agent", "marketdata/1.0")
	v.SetDefault("fetch.chainlink.rpc_url", "")
	v.SetDefault("fetch.chainlink.feeds", []string{})
	v.SetDefault("fetch.chainlink.request_timeout", "10s")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "data/market_data.db")
	v.SetDefault("storage.csv_path", "data/market_data.csv")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("alerting.thresholds", []string{})
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.smtp_host", "smtp.gmail.com")
	v.SetDefault("alerting.email.smtp_port", 587)
	v.SetDefault("alerting.email.username", "")
	v.SetDefault("alerting.email.password", "")
	v.SetDefault("alerting.email.from", "")
	v.SetDefault("alerting.email.to", []string{})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.kafka.enabled", false)
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "marketdata.alerts")
	v.SetDefault("alerting.kafka.write_timeout", "10s")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "marketdata")
	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToThresholdRuleHook(),
			toNullFloatHook(),
		)
	}
}

var (
	thresholdRuleType = reflect.TypeOf(alerting.ThresholdRule{})
	nullFloatType     = reflect.TypeOf(null.Float{})
)

// stringToThresholdRuleHook decodes "SYMBOL:min:max" list entries.
func stringToThresholdRuleHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != thresholdRuleType {
			return data, nil
		}
		return alerting.ParseThresholdRule(data.(string))
	}
}

// toNullFloatHook lets YAML bounds be plain numbers or blank.
func toNullFloatHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != nullFloatType {
			return data, nil
		}
		switch v := data.(type) {
		case nil:
			return null.Float{}, nil
		case float64:
			return null.FloatFrom(v), nil
		case float32:
			return null.FloatFrom(float64(v)), nil
		case int:
			return null.FloatFrom(float64(v)), nil
		case int64:
			return null.FloatFrom(float64(v)), nil
		case string:
			if strings.TrimSpace(v) == "" {
				return null.Float{}, nil
			}
			var nf null.Float
			if err := nf.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
				return nil, fmt.Errorf("invalid bound %q: %w", v, err)
			}
			return nf, nil
		}
		return data, nil
	}
}

var validate = validator.New()

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.StorageDriver() == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn 必须配置 (driver=%s)", c.Storage.Driver)
	}
	if c.StorageDriver() == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path 必须配置")
	}
	if c.Fetch.Provider == "alphavantage" && c.Fetch.AlphaVantage.APIKey == "" {
		return fmt.Errorf("fetch.alphavantage.api_key 必须配置")
	}
	if c.Fetch.Provider == "chainlink" {
		if c.Fetch.Chainlink.RPCURL == "" {
			return fmt.Errorf("fetch.chainlink.rpc_url 必须配置")
		}
		if len(c.Fetch.Chainlink.Feeds) == 0 {
			return fmt.Errorf("fetch.chainlink.feeds 必须配置")
		}
	}
	if c.Alerting.Email.Enabled {
		e := c.Alerting.Email
		if e.Username == "" || e.Password == "" || len(e.To) == 0 {
			return fmt.Errorf("alerting.email 已启用但 SMTP 凭据不完整")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Kafka.Enabled {
		if len(c.Alerting.Kafka.Brokers) == 0 {
			return fmt.Errorf("alerting.kafka.brokers 必须配置")
		}
		if c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka.topic 必须配置")
		}
	}
	return nil
}

// StorageDriver normalises the driver aliases to "sqlite" or "postgres".
func (c *Config) StorageDriver() string {
	switch strings.ToLower(c.Storage.Driver) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return "sqlite"
	}
}

// Thresholds builds the evaluator's lookup table.
func (c *Config) Thresholds() alerting.ThresholdConfig {
	return alerting.NewThresholdConfig(c.Alerting.Thresholds)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
