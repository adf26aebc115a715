package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/telemetry"
)

// Default token store settings
const (
	DefaultRefreshMargin = 24 * time.Hour
	// defaultTokenLifetime applies when the provider omits expires_in
	defaultTokenLifetime = time.Hour
	refreshLockPrefix    = "token-refresh:"
)

// NonceStore remembers consumed authorization state nonces
type NonceStore interface {
	// MarkUsed records nonce and reports whether it had not been seen before
	MarkUsed(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// TokenStoreConfig holds the tunables of the token store
type TokenStoreConfig struct {
	// RefreshMargin refreshes tokens expiring within this window before use
	RefreshMargin time.Duration
}

// TokenStoreDeps bundles the collaborators of the token store
type TokenStoreDeps struct {
	Connections integration.ConnectionRepository
	Tenants     integration.TenantDirectory
	OAuth       integration.OAuthProvider
	States      integration.StateSigner
	Nonces      NonceStore
	Cipher      integration.SecretCipher
	Locker      integration.TenantLocker
	Metrics     *telemetry.SyncMetrics
	Logger      *zap.Logger
}

// TokenStore owns tenant credentials: it runs the authorization code flow,
// keeps tokens encrypted at rest and refreshes them under a per-tenant lock.
// It implements integration.AccessTokenSource.
type TokenStore struct {
	connections integration.ConnectionRepository
	tenants     integration.TenantDirectory
	oauth       integration.OAuthProvider
	states      integration.StateSigner
	nonces      NonceStore
	cipher      integration.SecretCipher
	locker      integration.TenantLocker
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger

	refreshMargin time.Duration
	now           func() time.Time
}

// NewTokenStore creates a token store
func NewTokenStore(deps TokenStoreDeps, cfg TokenStoreConfig) *TokenStore {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenStore{
		connections:   deps.Connections,
		tenants:       deps.Tenants,
		oauth:         deps.OAuth,
		states:        deps.States,
		nonces:        deps.Nonces,
		cipher:        deps.Cipher,
		locker:        deps.Locker,
		metrics:       deps.Metrics,
		logger:        log,
		refreshMargin: cfg.RefreshMargin,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ---------------------------------------------------------------------------
// Authorization code flow
// ---------------------------------------------------------------------------

// BeginAuthorization returns the provider authorize URL for a tenant. The URL
// carries a signed, expiring state bound to the tenant.
func (s *TokenStore) BeginAuthorization(ctx context.Context, tenantID uuid.UUID) (string, error) {
	if err := s.requireTenant(ctx, tenantID); err != nil {
		return "", err
	}
	state, err := s.states.Issue(tenantID)
	if err != nil {
		return "", err
	}
	logger.For(ctx, s.logger).Info("Provider authorization started",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("state_expires_at", state.ExpiresAt),
	)
	return s.oauth.AuthCodeURL(state.Value), nil
}

// CompleteAuthorization verifies the callback state, redeems the code and
// stores the encrypted tokens. It returns the tenant the state was bound to.
func (s *TokenStore) CompleteAuthorization(ctx context.Context, code, stateToken string) (uuid.UUID, error) {
	state, err := s.states.Verify(stateToken)
	if err != nil {
		return uuid.Nil, err
	}

	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return uuid.Nil, fmt.Errorf("%w: state expired", integration.ErrInvalidState)
	}
	fresh, err := s.nonces.MarkUsed(ctx, state.Nonce, ttl)
	if err != nil {
		return uuid.Nil, err
	}
	if !fresh {
		logger.For(ctx, s.logger).Warn("Rejected replayed authorization state",
			zap.String("tenant_id", state.TenantID.String()),
		)
		return uuid.Nil, fmt.Errorf("%w: state already used", integration.ErrInvalidState)
	}

	if err := s.requireTenant(ctx, state.TenantID); err != nil {
		return uuid.Nil, err
	}
	if code == "" {
		return uuid.Nil, fmt.Errorf("%w: missing authorization code", integration.ErrCodeExchangeFailed)
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return uuid.Nil, err
	}
	if tok.RefreshToken == "" {
		return uuid.Nil, fmt.Errorf("%w: provider granted no refresh token", integration.ErrCodeExchangeFailed)
	}

	encAccess, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := s.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := s.now()
	conn, err := integration.NewTenantConnection(state.TenantID, encAccess, encRefresh, s.expiry(tok, now))
	if err != nil {
		return uuid.Nil, err
	}
	conn.CreatedAt = now
	conn.UpdatedAt = now
	conn.LastRefreshedAt = &now
	applyTokenMetadata(conn, tok)

	if err := s.connections.Upsert(ctx, conn); err != nil {
		return uuid.Nil, err
	}

	logger.For(ctx, s.logger).Info("Provider connection stored",
		zap.String("tenant_id", state.TenantID.String()),
		zap.Time("expires_at", conn.ExpiresAt),
	)
	return state.TenantID, nil
}

// Disconnect deletes the tenant connection. Disconnecting twice is not an error.
// It waits for an in-flight refresh of the tenant to finish first.
func (s *TokenStore) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	unlock, err := s.locker.Lock(ctx, refreshLockPrefix+tenantID.String())
	if err != nil {
		return fmt.Errorf("failed to acquire token lock: %w", err)
	}
	defer unlock()

	if err := s.connections.DeleteByTenant(ctx, tenantID); err != nil {
		return err
	}
	logger.For(ctx, s.logger).Info("Provider connection removed",
		zap.String("tenant_id", tenantID.String()),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Access tokens
// ---------------------------------------------------------------------------

// GetValidAccessToken returns a usable access token, refreshing it first when
// it expires within the refresh margin.
func (s *TokenStore) GetValidAccessToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	conn, err := s.connections.FindByTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !conn.RefreshDue(s.refreshMargin, s.now()) {
		return s.cipher.Decrypt(conn.EncryptedAccessToken)
	}
	return s.refresh(ctx, tenantID, func(c *integration.TenantConnection, _ string) bool {
		return c.RefreshDue(s.refreshMargin, s.now())
	})
}

// ForceRefresh refreshes after the provider rejected a token. When another
// caller already rotated the token, the stored one is returned as is.
func (s *TokenStore) ForceRefresh(ctx context.Context, tenantID uuid.UUID, rejected string) (string, error) {
	return s.refresh(ctx, tenantID, func(_ *integration.TenantConnection, current string) bool {
		return current == rejected
	})
}

// refresh rotates the tokens under the tenant lock. needed is evaluated again
// once the lock is held so concurrent callers refresh only once.
func (s *TokenStore) refresh(ctx context.Context, tenantID uuid.UUID, needed func(*integration.TenantConnection, string) bool) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.token.refresh",
		attribute.String(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	unlock, err := s.locker.Lock(ctx, refreshLockPrefix+tenantID.String())
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to acquire token lock: %w", err)
	}
	defer unlock()

	conn, err := s.connections.FindByTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	current, err := s.cipher.Decrypt(conn.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if !needed(conn, current) {
		return current, nil
	}

	refreshToken, err := s.cipher.Decrypt(conn.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	log := logger.For(ctx, s.logger).With(zap.String("tenant_id", tenantID.String()))
	tok, err := s.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.RecordTokenRefresh(ctx, tenantID, false)
		telemetry.RecordError(span, err)
		if errors.Is(err, integration.ErrRefreshFailed) {
			log.Warn("Provider rejected refresh token, tenant must re-authorize")
		} else {
			log.Warn("Token refresh failed", zap.Error(err))
		}
		return "", err
	}

	encAccess, err := s.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	var encRefresh string
	if tok.RefreshToken != "" {
		if encRefresh, err = s.cipher.Encrypt(tok.RefreshToken); err != nil {
			return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	now := s.now()
	conn.Rotate(encAccess, encRefresh, s.expiry(tok, now), now)
	applyTokenMetadata(conn, tok)
	if err := s.connections.UpdateTokens(ctx, conn); err != nil {
		s.metrics.RecordTokenRefresh(ctx, tenantID, false)
		if errors.Is(err, integration.ErrNotConnected) {
			log.Warn("Connection removed during token refresh, discarding tokens")
		}
		return "", err
	}

	s.metrics.RecordTokenRefresh(ctx, tenantID, true)
	log.Info("Access token refreshed", zap.Time("expires_at", conn.ExpiresAt))
	return tok.AccessToken, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *TokenStore) requireTenant(ctx context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return integration.ErrInvalidTenant
	}
	ok, err := s.tenants.Exists(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", integration.ErrInvalidTenant, tenantID)
	}
	return nil
}

func (s *TokenStore) expiry(tok *integration.OAuthToken, now time.Time) time.Time {
	if tok.Expiry.IsZero() {
		return now.Add(defaultTokenLifetime)
	}
	return tok.Expiry.UTC()
}

func applyTokenMetadata(conn *integration.TenantConnection, tok *integration.OAuthToken) {
	if tok.TokenType != "" {
		conn.TokenType = tok.TokenType
	}
	if tok.Scope != "" {
		conn.Scope = tok.Scope
	}
	if tok.ProviderAccountID != "" {
		conn.ProviderAccountID = tok.ProviderAccountID
	}
	if tok.ProviderRealmID != "" {
		conn.ProviderRealmID = tok.ProviderRealmID
	}
}
