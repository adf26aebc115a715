package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Provider  ProviderConfig
	Sync      SyncConfig
	Crypto    CryptoConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int `validate:"gt=0"`
	MaxIdleConns    int `validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. Redis backs the distributed
// tenant lock; without it the in-process lock is used.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// ProviderConfig describes the remote ERP: its OAuth endpoints and data API
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string `validate:"omitempty,url"`
	TokenURL     string `validate:"omitempty,url"`
	RedirectURL  string `validate:"omitempty,url"`
	BaseURL      string `validate:"omitempty,url"`
	Scopes       []string
	Timeout      time.Duration `validate:"gt=0"`
	PageSize     int           `validate:"gt=0,lte=1000"`
	// ModulePaths maps a module id (lower case) to its API path
	ModulePaths map[string]string
}

// SyncConfig tunes the synchronization engine
type SyncConfig struct {
	MaxAttempts      int           `validate:"gte=1,lte=10"`
	BackoffInitial   time.Duration `validate:"gt=0"`
	BackoffMax       time.Duration `validate:"gtefield=BackoffInitial"`
	RefreshMargin    time.Duration `validate:"gte=0"`
	StateTTL         time.Duration `validate:"gt=0"`
	StateSecret      string
	StateIssuer      string
	WatchdogTimeout  time.Duration `validate:"gt=0"`
	RawPayloadCache  bool
	WorkerCount      int `validate:"gt=0"`
	QueueSize        int `validate:"gt=0"`
	RunTimeout       time.Duration
	MaxResponseBytes int64 `validate:"gt=0"`
	LockTTL          time.Duration
	ReplayCacheSize  int `validate:"gt=0"`
}

// CryptoConfig holds the master key used to encrypt provider secrets at rest
type CryptoConfig struct {
	MasterKey string
}

// SchedulerConfig holds cron schedules of the background jobs
type SchedulerConfig struct {
	Enabled         bool
	IncrementalCron string
	WatchdogCron    string
}

// StorageConfig configures the optional S3-compatible raw page archive
type StorageConfig struct {
	ArchiveEnabled  bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 `validate:"gte=0,lte=1"`
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	LogsEnabled       bool    // Export zap logs through the otelzap bridge
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LEDGERSYNC_ prefix (e.g., LEDGERSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Provider: ProviderConfig{
			ClientID:     v.GetString("provider.client_id"),
			ClientSecret: v.GetString("provider.client_secret"),
			AuthURL:      v.GetString("provider.auth_url"),
			TokenURL:     v.GetString("provider.token_url"),
			RedirectURL:  v.GetString("provider.redirect_url"),
			BaseURL:      v.GetString("provider.base_url"),
			Scopes:       v.GetStringSlice("provider.scopes"),
			Timeout:      v.GetDuration("provider.timeout"),
			PageSize:     v.GetInt("provider.page_size"),
			ModulePaths:  v.GetStringMapString("provider.module_paths"),
		},
		Sync: SyncConfig{
			MaxAttempts:      v.GetInt("sync.max_attempts"),
			BackoffInitial:   v.GetDuration("sync.backoff_initial"),
			BackoffMax:       v.GetDuration("sync.backoff_max"),
			RefreshMargin:    v.GetDuration("sync.refresh_margin"),
			StateTTL:         v.GetDuration("sync.state_ttl"),
			StateSecret:      v.GetString("sync.state_secret"),
			StateIssuer:      v.GetString("sync.state_issuer"),
			WatchdogTimeout:  v.GetDuration("sync.watchdog_timeout"),
			RawPayloadCache:  v.GetBool("sync.raw_payload_cache"),
			WorkerCount:      v.GetInt("sync.worker_count"),
			QueueSize:        v.GetInt("sync.queue_size"),
			RunTimeout:       v.GetDuration("sync.run_timeout"),
			MaxResponseBytes: v.GetInt64("sync.max_response_bytes"),
			LockTTL:          v.GetDuration("sync.lock_ttl"),
			ReplayCacheSize:  v.GetInt("sync.replay_cache_size"),
		},
		Crypto: CryptoConfig{
			MasterKey: v.GetString("crypto.master_key"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         v.GetBool("scheduler.enabled"),
			IncrementalCron: v.GetString("scheduler.incremental_cron"),
			WatchdogCron:    v.GetString("scheduler.watchdog_cron"),
		},
		Storage: StorageConfig{
			ArchiveEnabled:  v.GetBool("storage.archive_enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultModulePaths maps module ids (lower case) to provider API paths
var DefaultModulePaths = map[string]string{
	"receivables":    "/v1/financial/receivables",
	"payables":       "/v1/financial/payables",
	"received_items": "/v1/financial/received",
	"paid_items":     "/v1/financial/paid",
	"inventory":      "/v1/inventory/positions",
	"sales":          "/v1/sales/orders",
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ledgersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ledgersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Provider.PageSize == 0 {
		cfg.Provider.PageSize = 100
	}
	if len(cfg.Provider.Scopes) == 0 {
		cfg.Provider.Scopes = []string{"financial.read", "inventory.read", "sales.read"}
	}
	paths := make(map[string]string, len(DefaultModulePaths))
	for k, p := range DefaultModulePaths {
		paths[k] = p
	}
	for k, p := range cfg.Provider.ModulePaths {
		paths[strings.ToLower(k)] = p
	}
	cfg.Provider.ModulePaths = paths
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 4
	}
	if cfg.Sync.BackoffInitial == 0 {
		cfg.Sync.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.Sync.BackoffMax == 0 {
		cfg.Sync.BackoffMax = 30 * time.Second
	}
	if cfg.Sync.RefreshMargin == 0 {
		cfg.Sync.RefreshMargin = 24 * time.Hour
	}
	if cfg.Sync.StateTTL == 0 {
		cfg.Sync.StateTTL = 10 * time.Minute
	}
	if cfg.Sync.StateIssuer == "" {
		cfg.Sync.StateIssuer = "ledgersync"
	}
	if cfg.Sync.WatchdogTimeout == 0 {
		cfg.Sync.WatchdogTimeout = 30 * time.Minute
	}
	if cfg.Sync.WorkerCount == 0 {
		cfg.Sync.WorkerCount = 4
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 100
	}
	if cfg.Sync.MaxResponseBytes == 0 {
		cfg.Sync.MaxResponseBytes = 10 << 20 // 10MB
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 30 * time.Second
	}
	if cfg.Sync.ReplayCacheSize == 0 {
		cfg.Sync.ReplayCacheSize = 10000
	}
	if cfg.Scheduler.IncrementalCron == "" {
		cfg.Scheduler.IncrementalCron = "0 */6 * * *"
	}
	if cfg.Scheduler.WatchdogCron == "" {
		cfg.Scheduler.WatchdogCron = "*/5 * * * *"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "raw-pages"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ledgersync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

var validate = validator.New()

// validate performs validation on the configuration
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for module, path := range c.Provider.ModulePaths {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("provider.module_paths.%s must start with '/'", module)
		}
	}

	if c.Storage.ArchiveEnabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.archive_enabled is set")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
			return fmt.Errorf("provider.client_id and provider.client_secret are required in production")
		}
		if c.Provider.BaseURL == "" || c.Provider.AuthURL == "" || c.Provider.TokenURL == "" {
			return fmt.Errorf("provider.base_url, provider.auth_url and provider.token_url are required in production")
		}
		if len(c.Sync.StateSecret) < 32 {
			return fmt.Errorf("sync.state_secret must be at least 32 characters in production")
		}
		if len(c.Crypto.MasterKey) < 32 {
			return fmt.Errorf("crypto.master_key must be at least 32 characters in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
