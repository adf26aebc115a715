package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/config"
)

const (
	defaultMaxResponseBytes = 10 * 1024 * 1024
	defaultPageSize         = 100
	defaultTimeout          = 30 * time.Second
)

// Errors for provider client configuration
var (
	ErrConfigMissingBaseURL    = errors.New("provider: base url is required")
	ErrConfigMissingModulePath = errors.New("provider: module path is required")
)

// Config holds the settings of the provider data API client
type Config struct {
	BaseURL string
	// ModulePaths maps a lower case module id to its API path
	ModulePaths      map[string]string
	PageSize         int
	Timeout          time.Duration
	MaxAttempts      int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	MaxResponseBytes int64
}

// NewConfig builds a client config from the application config
func NewConfig(p config.ProviderConfig, s config.SyncConfig) Config {
	return Config{
		BaseURL:          p.BaseURL,
		ModulePaths:      p.ModulePaths,
		PageSize:         p.PageSize,
		Timeout:          p.Timeout,
		MaxAttempts:      s.MaxAttempts,
		BackoffInitial:   s.BackoffInitial,
		BackoffMax:       s.BackoffMax,
		MaxResponseBytes: s.MaxResponseBytes,
	}
}

// Validate checks required fields and fills defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	for _, m := range integration.AllModules() {
		if c.ModulePaths[moduleKey(m)] == "" {
			return fmt.Errorf("%w: %s", ErrConfigMissingModulePath, m)
		}
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
	return nil
}

func moduleKey(m integration.ModuleID) string {
	return strings.ToLower(string(m))
}
