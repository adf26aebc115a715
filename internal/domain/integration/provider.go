package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PageRequest asks the provider for one page of a module
type PageRequest struct {
	TenantID uuid.UUID
	Module   ModuleID
	// Cursor is empty for the first page
	Cursor   string
	Window   *DateRange
	PageSize int
}

// Page is one decoded provider page
type Page struct {
	Records    []RawRecord
	NextCursor string
	HasMore    bool
	// Body is the undecoded response, kept for archiving
	Body []byte
}

// ProviderClient fetches pages from the remote ERP
type ProviderClient interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// AccessTokenSource hands out valid access tokens for a tenant
type AccessTokenSource interface {
	GetValidAccessToken(ctx context.Context, tenantID uuid.UUID) (string, error)
	// ForceRefresh refreshes after the provider rejected a token. If the stored
	// token already differs from rejected, it is returned without refreshing.
	ForceRefresh(ctx context.Context, tenantID uuid.UUID, rejected string) (string, error)
}

// SecretCipher is authenticated encryption for secrets at rest
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TenantLocker provides mutual exclusion per key
type TenantLocker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PageArchive stores raw provider pages outside the database
type PageArchive interface {
	ArchivePage(ctx context.Context, tenantID, runID uuid.UUID, module ModuleID, page int64, body []byte) error
}

// OAuthToken is the result of a code exchange or refresh
type OAuthToken struct {
	AccessToken       string
	RefreshToken      string
	TokenType         string
	Expiry            time.Time
	Scope             string
	ProviderAccountID string
	ProviderRealmID   string
}

// OAuthProvider speaks the provider's OAuth2 authorization code flow
type OAuthProvider interface {
	AuthCodeURL(state string) string
	// Exchange redeems an authorization code. A rejected code yields ErrCodeExchangeFailed.
	Exchange(ctx context.Context, code string) (*OAuthToken, error)
	// Refresh redeems a refresh token. A rejected token yields ErrRefreshFailed.
	Refresh(ctx context.Context, refreshToken string) (*OAuthToken, error)
}

// OAuthState is the verified content of an authorization state token
type OAuthState struct {
	Value     string
	TenantID  uuid.UUID
	Nonce     string
	ExpiresAt time.Time
}

// StateSigner mints and verifies tenant-bound, time-limited state tokens
type StateSigner interface {
	Issue(tenantID uuid.UUID) (*OAuthState, error)
	// Verify checks signature, issuer and expiry. Any failure yields ErrInvalidState.
	Verify(token string) (*OAuthState, error)
}
