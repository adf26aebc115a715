package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/auth"
	"github.com/erp/ledgersync/internal/infrastructure/cache"
)

type tokenStoreFixture struct {
	store       *TokenStore
	oauth       *MockOAuthProvider
	connections *fakeConnections
	tenantID    uuid.UUID
	signer      *auth.JWTStateSigner
	now         time.Time
}

func newTokenStoreFixture(t *testing.T) *tokenStoreFixture {
	t.Helper()
	tenantID := uuid.New()
	signer, err := auth.NewJWTStateSigner("test-state-secret-0123456789abcdef", "ledgersync-test", 10*time.Minute)
	require.NoError(t, err)

	f := &tokenStoreFixture{
		oauth:       new(MockOAuthProvider),
		connections: newFakeConnections(),
		tenantID:    tenantID,
		signer:      signer,
		now:         time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = NewTokenStore(TokenStoreDeps{
		Connections: f.connections,
		Tenants:     newFakeTenants(tenantID),
		OAuth:       f.oauth,
		States:      signer,
		Nonces:      cache.NewLRUNonceStore(100, 10*time.Minute),
		Cipher:      fakeCipher{},
		Locker:      cache.NewKeyedMutex(),
	}, TokenStoreConfig{RefreshMargin: 24 * time.Hour})
	f.store.now = func() time.Time { return f.now }
	return f
}

// seed stores a connection issued at issuedAt that expires at expiresAt
func (f *tokenStoreFixture) seed(t *testing.T, access string, issuedAt, expiresAt time.Time) {
	t.Helper()
	conn, err := integration.NewTenantConnection(f.tenantID, "enc:"+access, "enc:refresh-1", expiresAt)
	require.NoError(t, err)
	conn.UpdatedAt = issuedAt
	conn.LastRefreshedAt = &issuedAt
	require.NoError(t, f.connections.Upsert(context.Background(), conn))
	f.connections.writes = 0
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

func TestTokenStore_BeginAuthorization(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	f.oauth.On("AuthCodeURL", mock.AnythingOfType("string")).
		Return("https://provider.example/authorize?state=abc").Once()

	url, err := f.store.BeginAuthorization(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/authorize?state=abc", url)
	f.oauth.AssertExpectations(t)
}

func TestTokenStore_BeginAuthorization_UnknownTenant(t *testing.T) {
	f := newTokenStoreFixture(t)

	_, err := f.store.BeginAuthorization(context.Background(), uuid.New())
	assert.ErrorIs(t, err, integration.ErrInvalidTenant)

	_, err = f.store.BeginAuthorization(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, integration.ErrInvalidTenant)
}

func TestTokenStore_CompleteAuthorization(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()

	state, err := f.signer.Issue(f.tenantID)
	require.NoError(t, err)
	f.now = time.Now().UTC()

	f.oauth.On("Exchange", mock.Anything, "code-1").Return(&integration.OAuthToken{
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		TokenType:       "Bearer",
		Scope:           "accounting.read",
		ProviderRealmID: "realm-9",
	}, nil).Once()

	tenantID, err := f.store.CompleteAuthorization(ctx, "code-1", state.Value)
	require.NoError(t, err)
	assert.Equal(t, f.tenantID, tenantID)

	conn, err := f.connections.FindByTenant(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "enc:access-1", conn.EncryptedAccessToken)
	assert.Equal(t, "enc:refresh-1", conn.EncryptedRefreshToken)
	assert.Equal(t, "accounting.read", conn.Scope)
	assert.Equal(t, "realm-9", conn.ProviderRealmID)
	assert.Equal(t, f.now.Add(time.Hour), conn.ExpiresAt, "missing expiry defaults to one hour")

	t.Run("replayed state is rejected", func(t *testing.T) {
		_, err := f.store.CompleteAuthorization(ctx, "code-1", state.Value)
		assert.ErrorIs(t, err, integration.ErrInvalidState)
	})
	f.oauth.AssertNumberOfCalls(t, "Exchange", 1)
}

func TestTokenStore_CompleteAuthorization_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("tampered state", func(t *testing.T) {
		f := newTokenStoreFixture(t)
		state, err := f.signer.Issue(f.tenantID)
		require.NoError(t, err)
		f.now = time.Now().UTC()

		_, err = f.store.CompleteAuthorization(ctx, "code", state.Value+"x")
		assert.ErrorIs(t, err, integration.ErrInvalidState)
	})

	t.Run("state from another signer", func(t *testing.T) {
		f := newTokenStoreFixture(t)
		other, err := auth.NewJWTStateSigner("another-secret-0123456789abcdefgh", "ledgersync-test", time.Minute)
		require.NoError(t, err)
		state, err := other.Issue(f.tenantID)
		require.NoError(t, err)

		_, err = f.store.CompleteAuthorization(ctx, "code", state.Value)
		assert.ErrorIs(t, err, integration.ErrInvalidState)
	})

	t.Run("code rejected by provider", func(t *testing.T) {
		f := newTokenStoreFixture(t)
		state, err := f.signer.Issue(f.tenantID)
		require.NoError(t, err)
		f.now = time.Now().UTC()
		f.oauth.On("Exchange", mock.Anything, "bad").Return(nil, integration.ErrCodeExchangeFailed).Once()

		_, err = f.store.CompleteAuthorization(ctx, "bad", state.Value)
		assert.ErrorIs(t, err, integration.ErrCodeExchangeFailed)
		_, err = f.connections.FindByTenant(ctx, f.tenantID)
		assert.ErrorIs(t, err, integration.ErrNotConnected)
	})

	t.Run("no refresh token granted", func(t *testing.T) {
		f := newTokenStoreFixture(t)
		state, err := f.signer.Issue(f.tenantID)
		require.NoError(t, err)
		f.now = time.Now().UTC()
		f.oauth.On("Exchange", mock.Anything, "code").
			Return(&integration.OAuthToken{AccessToken: "a"}, nil).Once()

		_, err = f.store.CompleteAuthorization(ctx, "code", state.Value)
		assert.ErrorIs(t, err, integration.ErrCodeExchangeFailed)
	})
}

func TestTokenStore_Disconnect_Idempotent(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()
	f.seed(t, "access-1", f.now, f.now.Add(48*time.Hour))

	require.NoError(t, f.store.Disconnect(ctx, f.tenantID))
	require.NoError(t, f.store.Disconnect(ctx, f.tenantID))

	_, err := f.store.GetValidAccessToken(ctx, f.tenantID)
	assert.ErrorIs(t, err, integration.ErrNotConnected)
}

// ---------------------------------------------------------------------------
// Access tokens
// ---------------------------------------------------------------------------

func TestTokenStore_GetValidAccessToken_Fresh(t *testing.T) {
	f := newTokenStoreFixture(t)
	f.seed(t, "access-1", f.now.Add(-time.Hour), f.now.Add(72*time.Hour))

	token, err := f.store.GetValidAccessToken(context.Background(), f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	f.oauth.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestTokenStore_GetValidAccessToken_RefreshesNearExpiry(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()
	f.seed(t, "access-1", f.now.Add(-30*24*time.Hour), f.now.Add(2*time.Hour))

	expiry := f.now.Add(30 * 24 * time.Hour)
	f.oauth.On("Refresh", mock.Anything, "refresh-1").Return(&integration.OAuthToken{
		AccessToken: "access-2",
		Expiry:      expiry,
	}, nil).Once()

	token, err := f.store.GetValidAccessToken(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	conn, err := f.connections.FindByTenant(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "enc:access-2", conn.EncryptedAccessToken)
	assert.Equal(t, "enc:refresh-1", conn.EncryptedRefreshToken, "omitted refresh token is kept")
	assert.Equal(t, expiry, conn.ExpiresAt)
	f.oauth.AssertExpectations(t)
}

func TestTokenStore_GetValidAccessToken_RefreshRejected(t *testing.T) {
	f := newTokenStoreFixture(t)
	f.seed(t, "access-1", f.now.Add(-30*24*time.Hour), f.now.Add(time.Hour))
	f.oauth.On("Refresh", mock.Anything, "refresh-1").Return(nil, integration.ErrRefreshFailed).Once()

	_, err := f.store.GetValidAccessToken(context.Background(), f.tenantID)
	assert.ErrorIs(t, err, integration.ErrRefreshFailed)
	f.oauth.AssertNumberOfCalls(t, "Refresh", 1)
	assert.Zero(t, f.connections.writes)
}

func TestTokenStore_GetValidAccessToken_NotConnected(t *testing.T) {
	f := newTokenStoreFixture(t)
	_, err := f.store.GetValidAccessToken(context.Background(), f.tenantID)
	assert.ErrorIs(t, err, integration.ErrNotConnected)
}

func TestTokenStore_ConcurrentRefreshHappensOnce(t *testing.T) {
	f := newTokenStoreFixture(t)
	f.seed(t, "access-1", f.now.Add(-30*24*time.Hour), f.now.Add(time.Hour))
	f.oauth.On("Refresh", mock.Anything, "refresh-1").Return(&integration.OAuthToken{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Expiry:       f.now.Add(30 * 24 * time.Hour),
	}, nil).Once()

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Go(func() {
			tokens[i], errs[i] = f.store.GetValidAccessToken(context.Background(), f.tenantID)
		})
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}
	f.oauth.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestTokenStore_DisconnectWaitsForInFlightRefresh(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()
	f.seed(t, "access-1", f.now.Add(-30*24*time.Hour), f.now.Add(time.Hour))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.oauth.On("Refresh", mock.Anything, "refresh-1").Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(&integration.OAuthToken{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Expiry:       f.now.Add(30 * 24 * time.Hour),
	}, nil).Once()

	refreshed := make(chan error, 1)
	go func() {
		_, err := f.store.GetValidAccessToken(ctx, f.tenantID)
		refreshed <- err
	}()
	<-entered

	var disconnected atomic.Bool
	disconnectErr := make(chan error, 1)
	go func() {
		disconnectErr <- f.store.Disconnect(ctx, f.tenantID)
		disconnected.Store(true)
	}()
	assert.Never(t, disconnected.Load, 100*time.Millisecond, 10*time.Millisecond)

	close(release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-disconnectErr)

	_, err := f.connections.FindByTenant(ctx, f.tenantID)
	assert.ErrorIs(t, err, integration.ErrNotConnected, "rotated tokens must not bring the connection back")
}

func TestTokenStore_RefreshDiscardsTokensOfRemovedConnection(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()
	f.seed(t, "access-1", f.now.Add(-30*24*time.Hour), f.now.Add(time.Hour))

	// another replica deletes the row while the provider call is in flight
	f.oauth.On("Refresh", mock.Anything, "refresh-1").Run(func(mock.Arguments) {
		require.NoError(t, f.connections.DeleteByTenant(ctx, f.tenantID))
	}).Return(&integration.OAuthToken{
		AccessToken: "access-2",
		Expiry:      f.now.Add(30 * 24 * time.Hour),
	}, nil).Once()

	_, err := f.store.GetValidAccessToken(ctx, f.tenantID)
	assert.ErrorIs(t, err, integration.ErrNotConnected)

	_, err = f.connections.FindByTenant(ctx, f.tenantID)
	assert.ErrorIs(t, err, integration.ErrNotConnected)
	assert.Zero(t, f.connections.writes)
}

func TestTokenStore_ForceRefresh(t *testing.T) {
	f := newTokenStoreFixture(t)
	ctx := context.Background()
	f.seed(t, "access-1", f.now.Add(-time.Hour), f.now.Add(72*time.Hour))
	f.oauth.On("Refresh", mock.Anything, "refresh-1").Return(&integration.OAuthToken{
		AccessToken: "access-2",
		Expiry:      f.now.Add(72 * time.Hour),
	}, nil).Once()

	token, err := f.store.ForceRefresh(ctx, f.tenantID, "access-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	t.Run("already rotated token is returned without refreshing", func(t *testing.T) {
		token, err := f.store.ForceRefresh(ctx, f.tenantID, "access-1")
		require.NoError(t, err)
		assert.Equal(t, "access-2", token)
	})
	f.oauth.AssertNumberOfCalls(t, "Refresh", 1)
}
