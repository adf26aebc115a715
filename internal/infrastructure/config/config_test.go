package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "ledgersync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "ledgersync", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)

		assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
		assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodySize)
		assert.Equal(t, "0 */6 * * *", cfg.Scheduler.IncrementalCron)

		assert.Equal(t, 4, cfg.Sync.MaxAttempts)
		assert.Equal(t, 24*time.Hour, cfg.Sync.RefreshMargin)
		assert.Equal(t, 10*time.Minute, cfg.Sync.StateTTL)
		assert.Equal(t, int64(10<<20), cfg.Sync.MaxResponseBytes)
		assert.Equal(t, 100, cfg.Provider.PageSize)
		assert.Equal(t, "/v1/financial/receivables", cfg.Provider.ModulePaths["receivables"])
		assert.Len(t, cfg.Provider.ModulePaths, len(DefaultModulePaths))
	})

	t.Run("loads values from environment variables with LEDGERSYNC prefix", func(t *testing.T) {
		t.Setenv("LEDGERSYNC_APP_PORT", "9000")
		t.Setenv("LEDGERSYNC_DATABASE_HOST", "testdb.local")
		t.Setenv("LEDGERSYNC_DATABASE_PORT", "5433")
		t.Setenv("LEDGERSYNC_PROVIDER_BASE_URL", "https://api.provider.test")
		t.Setenv("LEDGERSYNC_SYNC_MAX_ATTEMPTS", "6")
		t.Setenv("LEDGERSYNC_SYNC_WATCHDOG_TIMEOUT", "45m")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "https://api.provider.test", cfg.Provider.BaseURL)
		assert.Equal(t, 6, cfg.Sync.MaxAttempts)
		assert.Equal(t, 45*time.Minute, cfg.Sync.WatchdogTimeout)
	})

	t.Run("rejects out of range values", func(t *testing.T) {
		t.Setenv("LEDGERSYNC_SYNC_MAX_ATTEMPTS", "50")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MaxAttempts")
	})

	t.Run("rejects malformed provider url", func(t *testing.T) {
		t.Setenv("LEDGERSYNC_PROVIDER_TOKEN_URL", "not a url")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TokenURL")
	})

	t.Run("archive requires a bucket", func(t *testing.T) {
		t.Setenv("LEDGERSYNC_STORAGE_ARCHIVE_ENABLED", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.bucket")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		t.Setenv("LEDGERSYNC_APP_ENV", "production")
		t.Setenv("LEDGERSYNC_DATABASE_PASSWORD", "secure-password")
		t.Setenv("LEDGERSYNC_DATABASE_SSLMODE", "require")
		t.Setenv("LEDGERSYNC_PROVIDER_CLIENT_ID", "client")
		t.Setenv("LEDGERSYNC_PROVIDER_CLIENT_SECRET", "secret")
		t.Setenv("LEDGERSYNC_PROVIDER_BASE_URL", "https://api.provider.test")
		t.Setenv("LEDGERSYNC_PROVIDER_AUTH_URL", "https://auth.provider.test/authorize")
		t.Setenv("LEDGERSYNC_PROVIDER_TOKEN_URL", "https://auth.provider.test/token")
		t.Setenv("LEDGERSYNC_SYNC_STATE_SECRET", "this-is-a-very-secure-state-secret-32chars")
		t.Setenv("LEDGERSYNC_CRYPTO_MASTER_KEY", "this-is-a-very-secure-master-key-32chars!!")
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setValidProductionBase(t)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})

	t.Run("requires database.password in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LEDGERSYNC_DATABASE_PASSWORD", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password is required in production")
	})

	t.Run("requires SSL enabled in production", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LEDGERSYNC_DATABASE_SSLMODE", "disable")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.sslmode cannot be 'disable' in production")
	})

	t.Run("requires a long state secret", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LEDGERSYNC_SYNC_STATE_SECRET", "short")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.state_secret")
	})

	t.Run("requires a master key", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LEDGERSYNC_CRYPTO_MASTER_KEY", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "crypto.master_key")
	})

	t.Run("requires provider credentials", func(t *testing.T) {
		setValidProductionBase(t)
		t.Setenv("LEDGERSYNC_PROVIDER_CLIENT_SECRET", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider.client_id and provider.client_secret")
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "sync", Password: "p@ss/word", DBName: "ledgersync", SSLMode: "require"}
	assert.Equal(t, "postgres://sync:p%40ss%2Fword@db:5432/ledgersync?sslmode=require", d.DSN())
}
