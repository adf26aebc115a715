package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type mockTokenSource struct {
	mock.Mock
}

func (m *mockTokenSource) GetValidAccessToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	args := m.Called(ctx, tenantID)
	return args.String(0), args.Error(1)
}

func (m *mockTokenSource) ForceRefresh(ctx context.Context, tenantID uuid.UUID, rejected string) (string, error) {
	args := m.Called(ctx, tenantID, rejected)
	return args.String(0), args.Error(1)
}

func testConfig(baseURL string) Config {
	paths := make(map[string]string, len(config.DefaultModulePaths))
	for k, v := range config.DefaultModulePaths {
		paths[k] = v
	}
	return Config{
		BaseURL:        baseURL,
		ModulePaths:    paths,
		PageSize:       50,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *mockTokenSource, uuid.UUID) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tenantID := uuid.New()
	tokens := &mockTokenSource{}
	tokens.On("GetValidAccessToken", mock.Anything, tenantID).Return("token-1", nil)

	client, err := NewClient(testConfig(srv.URL), tokens, srv.Client(), nil, nil)
	require.NoError(t, err)
	return client, tokens, tenantID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	t.Run("missing base url", func(t *testing.T) {
		cfg := testConfig("")
		assert.ErrorIs(t, cfg.Validate(), ErrConfigMissingBaseURL)
	})

	t.Run("missing module path", func(t *testing.T) {
		cfg := testConfig("https://erp.example.com")
		delete(cfg.ModulePaths, "sales")
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrConfigMissingModulePath)
		assert.Contains(t, err.Error(), "SALES")
	})

	t.Run("defaults", func(t *testing.T) {
		cfg := Config{BaseURL: "https://erp.example.com/", ModulePaths: config.DefaultModulePaths}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "https://erp.example.com", cfg.BaseURL)
		assert.Equal(t, defaultPageSize, cfg.PageSize)
		assert.Equal(t, 4, cfg.MaxAttempts)
		assert.Equal(t, int64(defaultMaxResponseBytes), cfg.MaxResponseBytes)
		assert.GreaterOrEqual(t, cfg.BackoffMax, cfg.BackoffInitial)
	})
}

// ---------------------------------------------------------------------------
// FetchPage Tests
// ---------------------------------------------------------------------------

func TestFetchPage_Success(t *testing.T) {
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/financial/receivables", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "c-1", q.Get("cursor"))
		assert.Equal(t, "50", q.Get("page_size"))
		assert.Equal(t, "2025-10-01", q.Get("start_date"))
		assert.Equal(t, "2025-10-31", q.Get("end_date"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"R-1","amount":"10.50"},{"id":"R-2","amount":12345678901234567890.12}],
			"pagination":{"next_cursor":"c-2","has_more":true}}`))
	})

	window, err := integration.ParseDateRange("2025-10-01", "2025-10-31")
	require.NoError(t, err)

	page, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
		Cursor:   "c-1",
		Window:   window,
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "c-2", page.NextCursor)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.Body)

	amount := page.Records[1].Decimal(integration.NewField("amount"))
	require.True(t, amount.Valid)
	assert.Equal(t, "12345678901234567890.12", amount.Decimal.String())
}

func TestFetchPage_FirstPageOmitsCursor(t *testing.T) {
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, hasCursor := r.URL.Query()["cursor"]
		assert.False(t, hasCursor)
		assert.Equal(t, "/v1/inventory/positions", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
	})

	page, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleInventory,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.False(t, page.HasMore)
}

func TestFetchPage_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			writeJSON(w, http.StatusOK, map[string]any{"records": []any{map[string]any{"id": "1"}}})
		}
	})

	page, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModulePayables,
	})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPage_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleSales,
	})
	assert.ErrorIs(t, err, integration.ErrProviderUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPage_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown company"})
	})

	_, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleSales,
	})
	assert.ErrorIs(t, err, integration.ErrProviderRequestFailed)
	assert.Contains(t, err.Error(), "unknown company")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPage_UnauthorizedRefreshesOnce(t *testing.T) {
	client, tokens, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{map[string]any{"id": "1"}}})
	})
	tokens.On("ForceRefresh", mock.Anything, tenantID, "token-1").Return("token-2", nil).Once()

	page, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModulePaidItems,
	})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	tokens.AssertNumberOfCalls(t, "ForceRefresh", 1)
}

func TestFetchPage_UnauthorizedTwiceIsAuthExpired(t *testing.T) {
	var calls atomic.Int32
	client, tokens, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	tokens.On("ForceRefresh", mock.Anything, tenantID, "token-1").Return("token-2", nil).Once()

	_, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivedItems,
	})
	assert.ErrorIs(t, err, integration.ErrAuthExpired)
	assert.Equal(t, int32(2), calls.Load())
	tokens.AssertNumberOfCalls(t, "ForceRefresh", 1)
}

func TestFetchPage_RefreshFailurePropagates(t *testing.T) {
	client, tokens, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	tokens.On("ForceRefresh", mock.Anything, tenantID, "token-1").Return("", integration.ErrRefreshFailed)

	_, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
	})
	assert.ErrorIs(t, err, integration.ErrRefreshFailed)
}

func TestFetchPage_NotConnected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	tenantID := uuid.New()
	tokens := &mockTokenSource{}
	tokens.On("GetValidAccessToken", mock.Anything, tenantID).Return("", integration.ErrNotConnected)
	client, err := NewClient(testConfig(srv.URL), tokens, srv.Client(), nil, nil)
	require.NoError(t, err)

	_, err = client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
	})
	assert.ErrorIs(t, err, integration.ErrNotConnected)
	assert.Zero(t, calls.Load())
}

func TestFetchPage_ResponseTooLarge(t *testing.T) {
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[],"padding":"0123456789"}`))
	})
	client.config.MaxResponseBytes = 16

	_, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
	})
	assert.ErrorIs(t, err, integration.ErrProviderInvalidResponse)
}

func TestFetchPage_InvalidBody(t *testing.T) {
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.FetchPage(context.Background(), integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
	})
	assert.ErrorIs(t, err, integration.ErrProviderInvalidResponse)
}

func TestFetchPage_ContextCanceled(t *testing.T) {
	client, _, tenantID := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client.config.BackoffInitial = time.Hour
	client.config.BackoffMax = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchPage(ctx, integration.PageRequest{
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
