package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/config"
	"golang.org/x/oauth2"
)

// OAuthClient implements integration.OAuthProvider over golang.org/x/oauth2
type OAuthClient struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

// NewOAuthClient creates a client for the configured provider. httpClient may
// be nil to use http.DefaultClient.
func NewOAuthClient(cfg config.ProviderConfig, httpClient *http.Client) *OAuthClient {
	return &OAuthClient{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the authorize URL carrying state. Offline access is
// requested so the provider issues a refresh token.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems an authorization code
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*integration.OAuthToken, error) {
	tok, err := c.cfg.Exchange(c.withClient(ctx), code)
	if err != nil {
		return nil, classify(err, integration.ErrCodeExchangeFailed)
	}
	return toToken(tok), nil
}

// Refresh redeems a refresh token. A 4xx from the token endpoint is reported
// as ErrRefreshFailed, a 5xx as ErrProviderUnavailable.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*integration.OAuthToken, error) {
	// an empty access token forces the source to hit the token endpoint
	src := c.cfg.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classify(err, integration.ErrRefreshFailed)
	}
	out := toToken(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func (c *OAuthClient) withClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func toToken(tok *oauth2.Token) *integration.OAuthToken {
	return &integration.OAuthToken{
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenType:         tok.Type(),
		Expiry:            tok.Expiry,
		Scope:             extraString(tok, "scope"),
		ProviderAccountID: extraString(tok, "account_id", "accountId", "company_id"),
		ProviderRealmID:   extraString(tok, "realm_id", "realmId"),
	}
}

func extraString(tok *oauth2.Token, keys ...string) string {
	for _, k := range keys {
		switch v := tok.Extra(k).(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// classify maps token endpoint failures: client errors become rejected,
// server errors ErrProviderUnavailable, anything else is a transport error.
func classify(err, rejected error) error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return fmt.Errorf("%w: token endpoint: %w", integration.ErrProviderUnavailable, err)
	}
	if rErr.Response != nil && rErr.Response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: token endpoint: %s", integration.ErrProviderUnavailable, describe(rErr))
	}
	return fmt.Errorf("%w: %s", rejected, describe(rErr))
}

func describe(rErr *oauth2.RetrieveError) string {
	if rErr.ErrorCode != "" {
		return rErr.ErrorCode
	}
	if rErr.Response != nil {
		return rErr.Response.Status
	}
	return "rejected"
}
